package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"diligence/internal/audit"
	"diligence/internal/evidence/sources"
	"diligence/internal/platform/metrics"
	"diligence/internal/transport"
)

const (
	DefaultHistoryWindowDays = 180
	MaxHistoryWindowDays     = 730
	DefaultTimeout           = 45 * time.Second

	// DefaultGitHubCallBudget keeps a full report within the unauthenticated
	// GitHub search allowance.
	DefaultGitHubCallBudget = 8

	// sourceName used for sections the service fills in itself.
	sourceName = "report"
)

var tracer = otel.Tracer("diligence/report")

// Options are the per-request knobs. Zero values take the service
// defaults; an empty IncludeSections means every section.
type Options struct {
	HistoryWindowDays int
	IncludeSections   []sources.Section
	Timeout           time.Duration
}

// Service builds reports. It is safe for concurrent use; adapters share only
// the transport and cache behind them.
type Service struct {
	resolver Resolver
	adapters map[sources.Section]sources.Adapter
	weights  Weights
	defaults Options
	budgets  map[string]int

	audit   AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

// WithWeights replaces the category weights. Invalid weights are ignored.
func WithWeights(w Weights) Option {
	return func(s *Service) {
		if w.Valid() {
			s.weights = w
		}
	}
}

// WithDefaults sets the options used when a request leaves a knob unset.
func WithDefaults(days int, timeout time.Duration) Option {
	return func(s *Service) {
		if days > 0 {
			s.defaults.HistoryWindowDays = min(days, MaxHistoryWindowDays)
		}
		if timeout > 0 {
			s.defaults.Timeout = timeout
		}
	}
}

// WithCallBudget caps the HTTP attempts one report may make against host.
// n <= 0 removes the cap.
func WithCallBudget(host string, n int) Option {
	return func(s *Service) {
		if n <= 0 {
			delete(s.budgets, host)
			return
		}
		s.budgets[host] = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(resolver Resolver, adapters []sources.Adapter, opts ...Option) (*Service, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	s := &Service{
		resolver: resolver,
		adapters: make(map[sources.Section]sources.Adapter, len(adapters)),
		weights:  DefaultWeights(),
		defaults: Options{HistoryWindowDays: DefaultHistoryWindowDays, Timeout: DefaultTimeout},
		budgets:  map[string]int{"api.github.com": DefaultGitHubCallBudget},
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, a := range adapters {
		if a == nil {
			return nil, errors.New("nil source adapter")
		}
		if prev, dup := s.adapters[a.Section()]; dup {
			return nil, fmt.Errorf("sources %s and %s both fill section %s", prev.Name(), a.Name(), a.Section())
		}
		s.adapters[a.Section()] = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BuildReport resolves name and collects every requested section. Only two
// things prevent a report: an unresolvable name (a *resolver.NotFoundError)
// and the caller's own ctx ending. Source failures and the per-report
// timeout produce a degraded report instead.
func (s *Service) BuildReport(ctx context.Context, name string, opts Options) (*Report, error) {
	start := s.now()
	opts = s.normalize(opts)

	ctx, span := tracer.Start(ctx, "report.Build", trace.WithAttributes(
		attribute.String("report.query", name),
		attribute.Int("report.window_days", opts.HistoryWindowDays),
	))
	defer span.End()

	identity, err := s.resolver.Resolve(name)
	if err != nil {
		s.metrics.IncResolve("not_found")
		s.emit(ctx, audit.Event{Type: audit.EventResolutionFailed, Query: name})
		span.RecordError(err)
		span.SetStatus(codes.Error, "unresolved")
		s.logger.InfoContext(ctx, "protocol not resolved", "query", name, "error", err)
		return nil, err
	}
	s.metrics.IncResolve("resolved")
	span.SetAttributes(attribute.String("protocol.id", identity.CanonicalID))

	q := sources.Query{Identity: identity, WindowDays: opts.HistoryWindowDays, AsOf: start}
	sections, err := s.collect(ctx, q, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	report := assemble(s.newID(), name, identity, start, opts.HistoryWindowDays, sections, s.weights)
	elapsed := s.now().Sub(start)

	s.metrics.ObserveReport(string(report.Status), elapsed)
	span.SetAttributes(
		attribute.String("report.status", string(report.Status)),
		attribute.Float64("report.score", report.GlobalScore),
	)
	span.SetStatus(codes.Ok, "")

	s.logger.InfoContext(ctx, "report built",
		"report_id", report.ID,
		"protocol", identity.CanonicalID,
		"status", report.Status,
		"score", report.GlobalScore,
		"coverage", report.Coverage,
		"limitations", len(report.DataLimitations),
		"duration_ms", elapsed.Milliseconds(),
	)
	s.emit(ctx, auditEvent(report, elapsed))
	return report, nil
}

func (s *Service) normalize(opts Options) Options {
	if opts.HistoryWindowDays <= 0 {
		opts.HistoryWindowDays = s.defaults.HistoryWindowDays
	}
	opts.HistoryWindowDays = min(opts.HistoryWindowDays, MaxHistoryWindowDays)
	if opts.Timeout <= 0 {
		opts.Timeout = s.defaults.Timeout
	}
	return opts
}

// collect fans the requested adapters out and waits for all of them or the
// per-report deadline. Every section is present in the result.
func (s *Service) collect(ctx context.Context, q sources.Query, opts Options) (map[sources.Section]sources.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	runCtx = transport.WithBudget(runCtx, maps.Clone(s.budgets))

	requested := requestedSet(opts.IncludeSections)
	results := make(map[sources.Section]sources.Result, len(sources.AllSections))
	var pending []sources.Adapter
	for _, sec := range sources.AllSections {
		a, ok := s.adapters[sec]
		switch {
		case !requested[sec]:
			results[sec] = sources.Unavailable(sourceName, sec, "section not requested", q.AsOf)
		case !ok:
			results[sec] = sources.Unavailable(sourceName, sec, "no source configured", q.AsOf)
		default:
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return results, nil
	}

	out := make(chan sources.Result, len(pending))
	var g errgroup.Group
	for _, a := range pending {
		g.Go(func() error {
			out <- s.run(runCtx, a, q)
			return nil
		})
	}
	// out is buffered for every adapter, so a straggler that finishes after
	// the deadline still returns and the channel is closed behind it.
	go func() {
		_ = g.Wait()
		close(out)
	}()

	for {
		select {
		case r, ok := <-out:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return results, nil
			}
			results[r.Section] = r
		case <-runCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			drain(out, results)
			var timedOut []string
			for _, a := range pending {
				if _, ok := results[a.Section()]; !ok {
					results[a.Section()] = sources.Unavailable(a.Name(), a.Section(),
						fmt.Sprintf("timed out after %s", opts.Timeout), s.now())
					timedOut = append(timedOut, a.Name())
				}
			}
			if len(timedOut) > 0 {
				s.logger.WarnContext(ctx, "report deadline reached with sources pending",
					"protocol", q.Identity.CanonicalID,
					"timeout", opts.Timeout,
					"pending", timedOut,
				)
			}
			return results, nil
		}
	}
}

// drain takes whatever already finished when the deadline hit.
func drain(out <-chan sources.Result, results map[sources.Section]sources.Result) {
	for {
		select {
		case r, ok := <-out:
			if !ok {
				return
			}
			results[r.Section] = r
		default:
			return
		}
	}
}

// run invokes one adapter, turning a panic or a malformed result into an
// Unavailable result for its section.
func (s *Service) run(ctx context.Context, a sources.Adapter, q sources.Query) (res sources.Result) {
	ctx, span := tracer.Start(ctx, "source.Collect", trace.WithAttributes(
		attribute.String("source.name", a.Name()),
		attribute.String("source.section", string(a.Section())),
	))
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			s.logger.ErrorContext(ctx, "source adapter panicked", "source", a.Name(), "panic", p)
			res = sources.Unavailable(a.Name(), a.Section(), "internal error", s.now())
		}
		if res.Section != a.Section() || res.Data == nil || res.Data.Section() != a.Section() {
			s.logger.ErrorContext(ctx, "source adapter returned a malformed result", "source", a.Name())
			res = sources.Unavailable(a.Name(), a.Section(), "internal error", s.now())
		}

		s.metrics.ObserveSource(string(a.Section()), string(res.Status), time.Since(start))
		span.SetAttributes(
			attribute.String("source.status", string(res.Status)),
			attribute.Int("source.attempts", res.Attempts),
		)
		if !res.Ok() {
			span.SetStatus(codes.Error, res.ErrorDetail)
			s.logger.DebugContext(ctx, "source degraded",
				"source", a.Name(),
				"status", res.Status,
				"detail", res.ErrorDetail,
			)
		}
		span.End()
	}()

	return a.Collect(ctx, q)
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "type", e.Type, "error", err)
	}
}

func auditEvent(r *Report, elapsed time.Duration) audit.Event {
	statuses := make(map[string]string, len(r.Sections))
	for sec, res := range r.Sections {
		statuses[string(sec)] = string(res.Status)
	}
	return audit.Event{
		Type:       audit.EventReportGenerated,
		Timestamp:  r.GeneratedAt,
		Query:      r.Query,
		ProtocolID: r.Identity.CanonicalID,
		ReportID:   r.ID,
		Status:     string(r.Status),
		Score:      r.GlobalScore,
		Coverage:   r.Coverage,
		Sections:   statuses,
		DurationMS: elapsed.Milliseconds(),
	}
}

func requestedSet(include []sources.Section) map[sources.Section]bool {
	set := make(map[sources.Section]bool, len(sources.AllSections))
	if len(include) == 0 {
		for _, sec := range sources.AllSections {
			set[sec] = true
		}
		return set
	}
	for _, sec := range include {
		set[sec] = true
	}
	return set
}
