// Package immunefi looks up bug bounty programs in the public Immunefi
// listing. A protocol absent from a fetched listing is a valid, complete
// answer; a listing that cannot be fetched is not.
package immunefi

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/protocol"
	"diligence/internal/transport"
)

const (
	Name = "immunefi"

	listingPath = "/public-api/bounties.json"
	ttl         = 6 * time.Hour
)

type listing struct {
	ID         string  `json:"id"`
	Slug       string  `json:"slug"`
	Project    string  `json:"project"`
	MaxBounty  float64 `json:"maxBounty"`
	LaunchDate string  `json:"launchDate"`
	KYC        bool    `json:"kyc"`
}

type Adapter struct {
	baseURL string
	fetcher *sources.Fetcher
	logger  *slog.Logger
	now     func() time.Time
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

func New(baseURL string, fetcher *sources.Fetcher, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Section() sources.Section { return sources.SectionBounty }

func (a *Adapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	var all []listing
	attempts, err := a.fetcher.JSON(ctx, transport.Get(a.baseURL+listingPath, nil), ttl, &all)
	if err != nil {
		a.logger.WarnContext(ctx, "immunefi listing fetch failed", "protocol", q.Identity.CanonicalID, "error", err)
		return sources.Unavailable(Name, sources.SectionBounty, sources.Describe(err), a.now()).WithAttempts(attempts)
	}

	d := sources.EmptyBounty()
	for _, l := range all {
		if !matches(l, q.Identity) {
			continue
		}
		p := sources.BountyProgram{
			Project:   l.Project,
			URL:       "https://immunefi.com/bug-bounty/" + l.Slug + "/",
			MaxBounty: l.MaxBounty,
			KYC:       l.KYC,
		}
		if t, err := time.Parse(time.RFC3339, l.LaunchDate); err == nil {
			p.LaunchedAt = t.UTC()
		}
		d.Programs = append(d.Programs, p)
		d.MaxBounty = max(d.MaxBounty, l.MaxBounty)
	}
	d.HasProgram = len(d.Programs) > 0
	return sources.OK(Name, d, a.now()).WithAttempts(attempts)
}

// matches prefers the catalog slug and falls back to comparing compacted
// project names.
func matches(l listing, id protocol.Identity) bool {
	if id.ImmunefiSlug != "" && strings.EqualFold(l.Slug, id.ImmunefiSlug) {
		return true
	}
	project := protocol.Compact(l.Project)
	if project == "" {
		return false
	}
	for _, n := range id.Names() {
		if protocol.Compact(n) == project {
			return true
		}
	}
	return false
}
