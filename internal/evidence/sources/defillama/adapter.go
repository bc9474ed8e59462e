package defillama

import (
	"context"
	"log/slog"
	"time"

	"diligence/internal/evidence/sources"
)

const Name = "defillama"

// Adapter fills the on-chain section. A protocol detail failure makes the
// section unavailable; a hack history failure alone only degrades it.
type Adapter struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

func New(client *Client, opts ...Option) *Adapter {
	a := &Adapter{client: client, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }
func (a *Adapter) Section() sources.Section { return sources.SectionOnchain }

func (a *Adapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	id := q.Identity
	if id.LlamaSlug == "" {
		return sources.Unavailable(Name, sources.SectionOnchain, "protocol not listed on DeFiLlama", a.now())
	}

	p, attempts, err := a.client.protocol(ctx, id.LlamaSlug)
	if err != nil {
		a.logger.WarnContext(ctx, "defillama protocol fetch failed", "protocol", id.CanonicalID, "error", err)
		return sources.Unavailable(Name, sources.SectionOnchain, sources.Describe(err), a.now()).WithAttempts(attempts)
	}
	data := buildOnchain(p, q)

	names := append(id.Names(), p.Name)
	names = append(names, data.ChildProtocols...)
	hacks, hackAttempts, err := a.client.HackHistory(ctx, names, q.AsOf)
	attempts += hackAttempts
	if err != nil {
		a.logger.WarnContext(ctx, "defillama hacks fetch failed", "protocol", id.CanonicalID, "error", err)
		return sources.Degraded(Name, data, "hack history unavailable: "+sources.Describe(err), a.now()).WithAttempts(attempts)
	}
	data.Hacks = hacks
	return sources.OK(Name, data, a.now()).WithAttempts(attempts)
}
