package report

import (
	"context"
	"sync/atomic"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/protocol"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var aave = protocol.Identity{
	CanonicalID: "aave",
	DisplayName: "Aave",
	Category:    "Lending",
	Aliases:     []string{"aave protocol"},
	LlamaSlug:   "aave",
}

// fakeAdapter collects through fn and counts invocations.
type fakeAdapter struct {
	name    string
	section sources.Section
	fn      func(ctx context.Context, q sources.Query) sources.Result
	calls   atomic.Int32
}

func (f *fakeAdapter) Name() string             { return f.name }
func (f *fakeAdapter) Section() sources.Section { return f.section }

func (f *fakeAdapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	f.calls.Add(1)
	return f.fn(ctx, q)
}

func returning(r sources.Result) func(context.Context, sources.Query) sources.Result {
	return func(context.Context, sources.Query) sources.Result { return r }
}

func onchainData() sources.OnchainData {
	d := sources.EmptyOnchain()
	d.Name = "Aave"
	d.CurrentTVL = 12e9
	d.TVLChangePct = 20
	for _, c := range []string{"Ethereum", "Polygon", "Arbitrum", "Optimism", "Avalanche"} {
		d.Chains = append(d.Chains, sources.ChainTVL{Chain: c, TVL: 1, Share: 0.2})
	}
	d.Hacks.Checked = true
	return d
}

func auditData() sources.AuditData {
	d := sources.EmptyAudits()
	d.Firms = []string{"OpenZeppelin", "Trail of Bits", "Certora"}
	d.Reports = []sources.AuditReport{
		{Firm: "OpenZeppelin", Repository: "OpenZeppelin/aave-audit"},
		{Firm: "Trail of Bits", Repository: "trailofbits/publications"},
		{Firm: "Certora", Repository: "Certora/aave-v3"},
	}
	d.TotalFound = 3
	return d
}

func bountyData() sources.BountyData {
	d := sources.EmptyBounty()
	d.HasProgram = true
	d.MaxBounty = 1e6
	d.Programs = []sources.BountyProgram{{Project: "Aave", MaxBounty: 1e6}}
	return d
}

func governanceData() sources.GovernanceData {
	d := sources.EmptyGovernance()
	d.Space = "aave.eth"
	d.Participation = 0.05
	d.ProposalsPer30Days = 4
	d.DaysSinceLastProposal = 2
	return d
}

func developmentData() sources.DevelopmentData {
	d := sources.EmptyDevelopment()
	d.Repository = "aave/aave-v3-core"
	d.DaysSinceLastCommit = 3
	d.Contributors = 10
	return d
}

func redFlagData() sources.RedFlagData {
	d := sources.EmptyRedFlags()
	d.Hacks.Checked = true
	return d
}

// healthySections scores 8.46 with full coverage.
func healthySections() map[sources.Section]sources.Result {
	return map[sources.Section]sources.Result{
		sources.SectionOnchain:     sources.OK("defillama", onchainData(), fixedNow),
		sources.SectionAudits:      sources.OK("github-audits", auditData(), fixedNow),
		sources.SectionBounty:      sources.OK("immunefi", bountyData(), fixedNow),
		sources.SectionGovernance:  sources.OK("snapshot", governanceData(), fixedNow),
		sources.SectionDevelopment: sources.OK("github-activity", developmentData(), fixedNow),
		sources.SectionRedFlags:    sources.OK("redflags", redFlagData(), fixedNow),
	}
}

func outageSections() map[sources.Section]sources.Result {
	out := make(map[sources.Section]sources.Result, len(sources.AllSections))
	for _, sec := range sources.AllSections {
		out[sec] = sources.Unavailable("src-"+string(sec), sec, "provider error (status 503) after 3 attempt(s)", fixedNow)
	}
	return out
}

// healthyAdapters returns one fake per section answering with
// healthySections.
func healthyAdapters() []*fakeAdapter {
	sections := healthySections()
	out := make([]*fakeAdapter, 0, len(sources.AllSections))
	for _, sec := range sources.AllSections {
		r := sections[sec]
		out = append(out, &fakeAdapter{name: r.Source, section: sec, fn: returning(r)})
	}
	return out
}

func asAdapters(fakes []*fakeAdapter) []sources.Adapter {
	out := make([]sources.Adapter, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}
