// Package redflags screens a protocol for warning signs: unverified or
// upgradeable contracts and exploit history.
package redflags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/evidence/sources/defillama"
)

const (
	Name = "redflags"

	maxContracts        = 5
	recentHackWindow    = 365
	unrecoveredLossFlag = 10_000_000
)

// HackSource is satisfied by *defillama.Client.
type HackSource interface {
	HackHistory(ctx context.Context, names []string, asOf time.Time) (sources.HackSummary, int, error)
}

var _ HackSource = (*defillama.Client)(nil)

type Adapter struct {
	explorer *explorer
	hacks    HackSource
	logger   *slog.Logger
	now      func() time.Time
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

func New(explorerURL, apiKey string, fetcher *sources.Fetcher, hacks HackSource, opts ...Option) *Adapter {
	a := &Adapter{
		explorer: &explorer{baseURL: strings.TrimRight(explorerURL, "/"), apiKey: apiKey, fetcher: fetcher},
		hacks:    hacks,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Section() sources.Section { return sources.SectionRedFlags }

func (a *Adapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	d := sources.EmptyRedFlags()
	var (
		attempts int
		problems []string
	)

	hacks, n, hackErr := a.hacks.HackHistory(ctx, q.Identity.Names(), q.AsOf)
	attempts += n
	if hackErr != nil {
		a.logger.WarnContext(ctx, "hack history unavailable for screening", "protocol", q.Identity.CanonicalID, "error", hackErr)
		problems = append(problems, "hack history: "+sources.Describe(hackErr))
	} else {
		d.Hacks = hacks
	}

	contracts := q.Identity.Contracts
	if len(contracts) > maxContracts {
		contracts = contracts[:maxContracts]
	}
	checked := 0
	for _, c := range contracts {
		res, n, err := a.explorer.check(ctx, c.Chain, c.Address)
		attempts += n
		res.Label = c.Label
		d.Contracts = append(d.Contracts, res)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s %s: %s", c.Chain, shortAddr(c.Address), describe(err)))
			continue
		}
		checked++
	}
	if len(contracts) == 0 {
		problems = append(problems, "no contract addresses on record")
	}

	if hackErr != nil && checked == 0 {
		return sources.Unavailable(Name, sources.SectionRedFlags, strings.Join(problems, "; "), a.now()).WithAttempts(attempts)
	}

	d.Flags = screen(d)
	d.RiskLevel = riskLevel(d.Flags)
	if len(problems) > 0 {
		return sources.Degraded(Name, d, strings.Join(problems, "; "), a.now()).WithAttempts(attempts)
	}
	return sources.OK(Name, d, a.now()).WithAttempts(attempts)
}

// screen applies the flag rules to whatever was collected.
func screen(d sources.RedFlagData) []sources.RedFlag {
	flags := []sources.RedFlag{}
	for _, c := range d.Contracts {
		if !c.Checked {
			continue
		}
		name := contractName(c)
		if !c.Verified {
			flags = append(flags, sources.RedFlag{
				Kind:     "unverified_contract",
				Severity: sources.SeverityHigh,
				Detail:   fmt.Sprintf("%s on %s has no verified source code", name, c.Chain),
			})
		}
		if c.Proxy {
			flags = append(flags, sources.RedFlag{
				Kind:     "upgradeable_proxy",
				Severity: sources.SeverityMedium,
				Detail:   fmt.Sprintf("%s on %s is an upgradeable proxy", name, c.Chain),
			})
		}
	}

	h := d.Hacks
	if h.TotalIncidents > 0 {
		latest := h.Incidents[0]
		if h.DaysSinceLatest >= 0 && h.DaysSinceLatest <= recentHackWindow {
			flags = append(flags, sources.RedFlag{
				Kind:     "recent_exploit",
				Severity: sources.SeverityCritical,
				Detail:   fmt.Sprintf("exploited %d days ago (%s, $%.0f)", h.DaysSinceLatest, latest.Name, latest.Amount),
			})
		} else {
			flags = append(flags, sources.RedFlag{
				Kind:     "past_exploit",
				Severity: sources.SeverityMedium,
				Detail:   fmt.Sprintf("%d past exploit(s), latest %s", h.TotalIncidents, latest.Date.Format("2006-01-02")),
			})
		}
		if unrecovered := h.TotalLost - h.TotalReturned; unrecovered > unrecoveredLossFlag {
			flags = append(flags, sources.RedFlag{
				Kind:     "unrecovered_losses",
				Severity: sources.SeverityHigh,
				Detail:   fmt.Sprintf("$%.0f lost to exploits was never returned", unrecovered),
			})
		}
	}
	return flags
}

func riskLevel(flags []sources.RedFlag) sources.Severity {
	level := sources.SeverityNone
	for _, f := range flags {
		if f.Severity.Rank() > level.Rank() {
			level = f.Severity
		}
	}
	return level
}

func contractName(c sources.ContractCheck) string {
	switch {
	case c.Label != "":
		return c.Label
	case c.ContractName != "":
		return c.ContractName
	default:
		return shortAddr(c.Address)
	}
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func describe(err error) string {
	if errors.Is(err, errUnsupportedChain) {
		return err.Error()
	}
	return sources.Describe(err)
}
