// Package transport is the shared outbound HTTP layer: per-host token
// buckets, bounded retries with backoff, per-operation call budgets and a
// per-host circuit breaker.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"diligence/internal/platform/metrics"
	"diligence/pkg/platform/circuit"
)

const maxBodyBytes = 32 << 20

var tracer = otel.Tracer("diligence/transport")

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport is safe for concurrent use. A token is held only for the single
// attempt that acquired it.
type Transport struct {
	client         Doer
	limiters       *limiters
	retry          RetryPolicy
	requestTimeout time.Duration
	userAgent      string

	breakersMu      sync.Mutex
	breakers        map[string]*circuit.Breaker
	breakerFailures int
	breakerCooldown time.Duration
	breakerDisabled bool

	metrics *metrics.Metrics
	logger  *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	jit   func() float64
}

type Option func(*Transport)

func WithClient(c Doer) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(t *Transport) {
		if p.MaxAttempts > 0 {
			t.retry = p
		}
	}
}

// WithHostRate overrides the bucket for one host.
func WithHostRate(host string, limit rate.Limit, burst int) Option {
	return func(t *Transport) {
		t.limiters.set(host, HostRate{Limit: limit, Burst: burst})
	}
}

// WithDefaultRate sets the bucket used for hosts without an explicit rate.
func WithDefaultRate(limit rate.Limit, burst int) Option {
	return func(t *Transport) {
		t.limiters.fallback = HostRate{Limit: limit, Burst: burst}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.requestTimeout = d
		}
	}
}

// WithBreaker sets consecutive failed fetches before a host is short
// circuited and how long it stays open. failures <= 0 disables breaking.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(t *Transport) {
		t.breakerDisabled = failures <= 0
		t.breakerFailures = failures
		if cooldown > 0 {
			t.breakerCooldown = cooldown
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

func New(opts ...Option) *Transport {
	t := &Transport{
		client:          &http.Client{},
		limiters:        newLimiters(DefaultHostRates(), HostRate{Limit: 2, Burst: 2}),
		retry:           DefaultRetryPolicy(),
		requestTimeout:  15 * time.Second,
		breakers:        make(map[string]*circuit.Breaker),
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
		logger:          slog.Default(),
		now:             time.Now,
		sleep:           sleep,
		jit:             rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fetch performs req, retrying transient failures. Any non-2xx final
// outcome is returned as *Error; a successful Response always has a 2xx
// status.
func (t *Transport) Fetch(ctx context.Context, req Request) (*Response, error) {
	host, err := req.Host()
	if err != nil {
		return nil, &Error{Kind: KindClientError, Host: req.URL, Err: err}
	}

	ctx, span := tracer.Start(ctx, "transport.Fetch", trace.WithAttributes(
		attribute.String("http.method", req.method()),
		attribute.String("net.peer.name", host),
	))
	defer span.End()

	br := t.breaker(host)
	if br != nil && !br.Allow() {
		t.metrics.ObserveAttempt(host, "circuit_open")
		err := &Error{Kind: KindServerError, Host: host, Err: ErrCircuitOpen}
		span.RecordError(err)
		span.SetStatus(codes.Error, "circuit open")
		return nil, err
	}

	resp, err := t.do(ctx, host, req)
	t.record(br, host, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		span.SetAttributes(attribute.Int("http.attempts", AttemptsOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.attempts", resp.Attempts),
		attribute.Int("http.status_code", resp.StatusCode),
	)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (t *Transport) do(ctx context.Context, host string, req Request) (*Response, error) {
	maxAttempts := t.retry.MaxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}
	budget := BudgetFrom(ctx)

	var last *Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := budget.Spend(host); err != nil {
			t.metrics.ObserveAttempt(host, "budget")
			if last != nil {
				return nil, last
			}
			return nil, &Error{Kind: KindRateLimited, Host: host, Err: err}
		}

		resp, fail, wait := t.attempt(ctx, host, req)
		if fail == nil {
			t.metrics.ObserveAttempt(host, "ok")
			resp.Attempts = attempt
			return resp, nil
		}
		fail.Attempts = attempt
		last = fail
		t.metrics.ObserveAttempt(host, string(fail.Kind))

		if ctx.Err() != nil || !fail.Retryable() || attempt == maxAttempts {
			break
		}

		delay := t.retry.Delay(attempt, t.jit())
		if wait > delay {
			delay = min(wait, t.retry.MaxDelay)
		}
		t.logger.DebugContext(ctx, "retrying provider request",
			"host", host,
			"attempt", attempt,
			"kind", fail.Kind,
			"delay", delay,
		)
		if err := t.sleep(ctx, delay); err != nil {
			last = &Error{Kind: KindTimeout, Host: host, Attempts: attempt, Err: err}
			break
		}
	}
	return nil, last
}

// attempt sends one request. On a retryable failure it also returns any
// server-requested wait.
func (t *Transport) attempt(ctx context.Context, host string, req Request) (*Response, *Error, time.Duration) {
	timeout := t.requestTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitStart := t.now()
	if err := t.limiters.get(host).Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Host: host, Err: err}, 0
	}
	t.metrics.ObserveLimiterWait(host, t.now().Sub(waitStart))

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindClientError, Host: host, Err: err}, 0
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if t.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: classifyNetErr(ctx, err), Host: host, Err: err}, 0
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: classifyNetErr(ctx, err), Host: host, StatusCode: resp.StatusCode, Err: err}, 0
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Host: host, StatusCode: code}, retryAfter(resp.Header, t.now())
	case code == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, &Error{Kind: KindRateLimited, Host: host, StatusCode: code}, retryAfter(resp.Header, t.now())
	case code >= 500:
		return nil, &Error{Kind: KindServerError, Host: host, StatusCode: code}, retryAfter(resp.Header, t.now())
	case code >= 400:
		return nil, &Error{Kind: KindClientError, Host: host, StatusCode: code}, 0
	case code < 200 || code >= 300:
		return nil, &Error{Kind: KindClientError, Host: host, StatusCode: code}, 0
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil, 0
}

// classifyNetErr treats deadlines as timeouts and every other transport
// level failure (refused, reset, DNS) as a retryable server side error.
func classifyNetErr(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindServerError
}

func (t *Transport) breaker(host string) *circuit.Breaker {
	if t.breakerDisabled {
		return nil
	}
	t.breakersMu.Lock()
	defer t.breakersMu.Unlock()
	b, ok := t.breakers[host]
	if !ok {
		b = circuit.New(host,
			circuit.WithFailureThreshold(t.breakerFailures),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(t.breakerCooldown),
			circuit.WithClock(t.now),
		)
		t.breakers[host] = b
	}
	return b
}

// record feeds a fetch outcome to the host breaker. Client errors, budget
// refusals and caller cancellation say nothing about host health.
func (t *Transport) record(br *circuit.Breaker, host string, err error) {
	if br == nil {
		return
	}
	if err == nil {
		if _, change := br.RecordSuccess(); change.Closed {
			t.logger.Info("provider circuit closed", "host", host)
		}
		return
	}
	var te *Error
	if !errors.As(err, &te) || te.Kind == KindClientError || te.Attempts == 0 || errors.Is(te.Err, context.Canceled) {
		return
	}
	if _, change := br.RecordFailure(); change.Opened {
		t.metrics.IncBreakerOpened(host)
		t.logger.Warn("provider circuit opened", "host", host, "kind", te.Kind)
	}
}
