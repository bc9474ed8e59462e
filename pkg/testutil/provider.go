package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"diligence/internal/cache"
	"diligence/internal/evidence/sources"
	"diligence/internal/platform/logger"
	"diligence/internal/transport"
)

// Reply is one scripted provider response.
type Reply struct {
	Status int
	Body   string
	Header http.Header
	// Delay holds the response back, or until the client gives up.
	Delay time.Duration
}

// ProviderServer fakes an upstream API. Replies are scripted per path and
// consumed in order; the last one repeats. Unscripted paths return 404.
type ProviderServer struct {
	*httptest.Server

	mu       sync.Mutex
	replies  map[string][]Reply
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	requests []*http.Request
}

func NewProviderServer(t *testing.T) *ProviderServer {
	t.Helper()
	p := &ProviderServer{
		replies:  make(map[string][]Reply),
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

// Script queues replies for path.
func (p *ProviderServer) Script(path string, replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[path] = append(p.replies[path], replies...)
}

// JSON answers path with 200 and body.
func (p *ProviderServer) JSON(path, body string) {
	p.Script(path, Reply{Status: http.StatusOK, Body: body})
}

// HandleFunc installs a custom handler for path, overriding scripts.
func (p *ProviderServer) HandleFunc(path string, h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[path] = h
}

func (p *ProviderServer) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// Requests returns clones of every request received, in order.
func (p *ProviderServer) Requests() []*http.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*http.Request(nil), p.requests...)
}

func (p *ProviderServer) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.hits[r.URL.Path]++
	p.requests = append(p.requests, r.Clone(context.Background()))
	if h, ok := p.handlers[r.URL.Path]; ok {
		p.mu.Unlock()
		h(w, r)
		return
	}
	queue := p.replies[r.URL.Path]
	var reply Reply
	switch len(queue) {
	case 0:
		reply = Reply{Status: http.StatusNotFound, Body: `{"message":"not found"}`}
	case 1:
		reply = queue[0]
	default:
		reply = queue[0]
		p.replies[r.URL.Path] = queue[1:]
	}
	p.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for k, vs := range reply.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply.Body))
}

// NewTransport returns a transport tuned for tests: no rate limiting,
// millisecond backoff and a short per-attempt timeout.
func NewTransport(opts ...transport.Option) *transport.Transport {
	base := []transport.Option{
		transport.WithDefaultRate(rate.Inf, 1),
		transport.WithRetryPolicy(transport.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		}),
		transport.WithRequestTimeout(2 * time.Second),
		transport.WithBreaker(0, 0),
		transport.WithLogger(logger.Discard()),
	}
	return transport.New(append(base, opts...)...)
}

// NewFetcher wires a test transport to a fresh in-process cache.
func NewFetcher(opts ...transport.Option) *sources.Fetcher {
	return sources.NewFetcher(NewTransport(opts...), cache.New(cache.WithLogger(logger.Discard())))
}
