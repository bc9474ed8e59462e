package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"diligence/internal/platform/metrics"
)

// ErrBufferFull is returned by Emit when the async buffer cannot take the
// event. The event is dropped.
var ErrBufferFull = errors.New("audit buffer full")

const defaultWriteTimeout = 5 * time.Second

// Publisher stamps events and hands them to a Sink. With an async buffer,
// Emit never blocks and a single worker drains the buffer; Close waits for
// it to finish.
type Publisher struct {
	sink         Sink
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	writeTimeout time.Duration

	bufferSize int
	mu         sync.RWMutex
	closed     bool
	inbox      chan Event
	wg         sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking with room for n pending events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:         sink,
		logger:       slog.Default(),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan Event, p.bufferSize)
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit fills in ID and Timestamp when missing. In sync mode it returns the
// sink's error; in async mode only ErrBufferFull.
func (p *Publisher) Emit(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now()
	}
	if p.inbox == nil {
		return p.write(ctx, e)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.write(ctx, e)
	}
	select {
	case p.inbox <- e:
		return nil
	default:
		p.metrics.IncAuditDropped()
		p.logger.WarnContext(ctx, "audit event dropped", "type", e.Type, "query", e.Query)
		return ErrBufferFull
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for e := range p.inbox {
		if err := p.write(context.Background(), e); err != nil {
			p.logger.Warn("audit sink write failed", "type", e.Type, "id", e.ID, "error", err)
		}
	}
}

func (p *Publisher) write(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	return p.sink.Write(ctx, e)
}

// Close drains pending events. Emit after Close writes synchronously.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
