package report

import (
	"fmt"
	"sort"

	"diligence/internal/evidence/sources"
)

const maxSignals = 5

// topRisks lists the most severe concerns, red-flag findings first. Only
// sections that returned data contribute; absence is already covered by
// the limitations.
func topRisks(sections map[sources.Section]sources.Result, card Scorecard) []string {
	type risk struct {
		rank   int
		detail string
	}
	var risks []risk

	if d, ok := usable[sources.RedFlagData](sections, sources.SectionRedFlags); ok {
		for _, f := range d.Flags {
			if f.Severity.Rank() >= sources.SeverityMedium.Rank() {
				risks = append(risks, risk{rank: f.Severity.Rank(), detail: f.Detail})
			}
		}
	}
	if hacks, _, _, ok := hackHistory(sections); ok && len(hacks.Incidents) > 0 {
		rank := sources.SeverityMedium.Rank()
		if hacks.DaysSinceLatest >= 0 && hacks.DaysSinceLatest <= 365 {
			rank = sources.SeverityHigh.Rank()
		}
		risks = append(risks, risk{rank: rank, detail: "exploit history: " + hackBasis(hacks)})
	}
	if d, ok := usable[sources.OnchainData](sections, sources.SectionOnchain); ok && d.TVLChangePct <= -20 {
		risks = append(risks, risk{rank: sources.SeverityMedium.Rank(), detail: fmt.Sprintf("TVL fell %.1f%% over the window", -d.TVLChangePct)})
	}
	if d, ok := usable[sources.AuditData](sections, sources.SectionAudits); ok && len(d.Reports) == 0 {
		risks = append(risks, risk{rank: sources.SeverityMedium.Rank(), detail: "no published audit reports found"})
	}
	if d, ok := usable[sources.BountyData](sections, sources.SectionBounty); ok && !d.HasProgram {
		risks = append(risks, risk{rank: sources.SeverityLow.Rank(), detail: "no bug bounty program"})
	}
	if d, ok := usable[sources.DevelopmentData](sections, sources.SectionDevelopment); ok {
		switch {
		case d.Archived:
			risks = append(risks, risk{rank: sources.SeverityHigh.Rank(), detail: "primary repository is archived"})
		case d.DaysSinceLastCommit > 90:
			risks = append(risks, risk{rank: sources.SeverityMedium.Rank(), detail: fmt.Sprintf("no commits in %d days", d.DaysSinceLastCommit)})
		}
	}
	for _, c := range card.Components {
		if c.Category == sources.CategoryGovernance && c.Scored && c.Value < 0.2 {
			risks = append(risks, risk{rank: sources.SeverityLow.Rank(), detail: fmt.Sprintf("weak governance: %s", c.Basis)})
		}
	}

	sort.SliceStable(risks, func(i, j int) bool { return risks[i].rank > risks[j].rank })
	out := make([]string, 0, min(len(risks), maxSignals))
	for _, r := range risks[:min(len(risks), maxSignals)] {
		out = append(out, r.detail)
	}
	return out
}

// positiveSignals lists the strengths the data supports, in section order.
func positiveSignals(sections map[sources.Section]sources.Result) []string {
	out := []string{}

	if d, ok := usable[sources.OnchainData](sections, sources.SectionOnchain); ok {
		if d.TVLChangePct >= 10 {
			out = append(out, fmt.Sprintf("TVL grew %.1f%% over the window", d.TVLChangePct))
		}
		if len(d.Chains) >= 3 {
			out = append(out, fmt.Sprintf("deployed across %d chains", len(d.Chains)))
		}
	}
	if d, ok := usable[sources.AuditData](sections, sources.SectionAudits); ok && len(d.Firms) > 0 {
		out = append(out, fmt.Sprintf("audited by %d firm(s)", len(d.Firms)))
	}
	if d, ok := usable[sources.BountyData](sections, sources.SectionBounty); ok && d.HasProgram {
		out = append(out, fmt.Sprintf("active bug bounty up to $%s", money(d.MaxBounty)))
	}
	if hacks, _, _, ok := hackHistory(sections); ok && len(hacks.Incidents) == 0 {
		out = append(out, "no recorded exploits")
	}
	if d, ok := usable[sources.GovernanceData](sections, sources.SectionGovernance); ok && d.Participation >= participationForFull {
		out = append(out, fmt.Sprintf("healthy voter participation (%.1f%%)", d.Participation*100))
	}
	if d, ok := usable[sources.DevelopmentData](sections, sources.SectionDevelopment); ok {
		if d.DaysSinceLastCommit >= 0 && d.DaysSinceLastCommit <= freshCommitDays {
			out = append(out, "actively developed")
		}
		if d.Contributors >= contributorsForFull {
			out = append(out, fmt.Sprintf("%d contributors", d.Contributors))
		}
	}
	if len(out) > maxSignals {
		out = out[:maxSignals]
	}
	return out
}
