package report

import (
	"fmt"
	"math"
	"time"

	"diligence/internal/evidence/sources"
)

// Weights are the category weights of the global score. They must be
// non-negative and sum to 1.
type Weights struct {
	Onchain     float64 `json:"onchain"`
	Security    float64 `json:"security"`
	Governance  float64 `json:"governance"`
	Development float64 `json:"development"`
}

func DefaultWeights() Weights {
	return Weights{Onchain: 0.30, Security: 0.30, Governance: 0.20, Development: 0.20}
}

func (w Weights) Valid() bool {
	for _, v := range []float64{w.Onchain, w.Security, w.Governance, w.Development} {
		if v < 0 {
			return false
		}
	}
	return math.Abs(w.Onchain+w.Security+w.Governance+w.Development-1) < 1e-9
}

// Sub-weights within each category. Each category's sub-weights sum to 1.
const (
	trendWeight   = 0.6
	breadthWeight = 0.4

	auditWeight  = 0.35
	bountyWeight = 0.15
	hackWeight   = 0.30
	flagWeight   = 0.20

	participationWeight = 0.5
	cadenceWeight       = 0.5

	recencyWeight     = 0.5
	contributorWeight = 0.5
)

// Saturation points: at or beyond these a component scores 1.
const (
	chainsForFullBreadth      = 5
	auditsForFullCoverage     = 3
	participationForFull      = 0.10
	proposalsPer30DaysForFull = 4
	contributorsForFull       = 20
	freshCommitDays           = 7
	staleCommitDays           = 180
)

// Component is one line of the score breakdown. Weight is its share of
// the global score; Value is in [0,1] and only meaningful when Scored.
type Component struct {
	Category     sources.AnalysisCategory `json:"category"`
	Name         string                   `json:"name"`
	Section      sources.Section          `json:"section"`
	Weight       float64                  `json:"weight"`
	Value        float64                  `json:"value"`
	Scored       bool                     `json:"scored"`
	Contribution float64                  `json:"contribution"`
	Basis        string                   `json:"basis"`
}

// Scorecard is the outcome of Score. Coverage is the total weight that
// could be scored, so a low score from missing data is distinguishable
// from a low score from bad data.
type Scorecard struct {
	Global     float64
	Coverage   float64
	Components []Component
	Rationale  []string
}

// Score applies the rubric. It is a pure function of sections and w: no
// clock, no I/O, and map iteration order never affects the result. A
// component whose section is unavailable, or whose measurement was not
// collected, contributes zero and is left out of Coverage.
func Score(sections map[sources.Section]sources.Result, w Weights) Scorecard {
	var comps []Component
	add := func(cat sources.AnalysisCategory, catWeight, subWeight float64, name string, sec sources.Section, value float64, scored bool, basis string) {
		c := Component{
			Category: cat,
			Name:     name,
			Section:  sec,
			Weight:   round4(catWeight * subWeight),
			Scored:   scored,
			Basis:    basis,
		}
		if scored {
			c.Value = round4(clamp01(value))
			c.Contribution = round4(10 * catWeight * subWeight * clamp01(value))
		}
		comps = append(comps, c)
	}

	// On-chain health
	if d, ok := usable[sources.OnchainData](sections, sources.SectionOnchain); ok {
		add(sources.CategoryOnchain, w.Onchain, trendWeight, "tvl trend", sources.SectionOnchain,
			0.5+d.TVLChangePct/100, true, fmt.Sprintf("TVL change %+.1f%% over the window", d.TVLChangePct))
		add(sources.CategoryOnchain, w.Onchain, breadthWeight, "chain breadth", sources.SectionOnchain,
			ratio(len(d.Chains), chainsForFullBreadth), true, fmt.Sprintf("deployed on %d chain(s)", len(d.Chains)))
	} else {
		add(sources.CategoryOnchain, w.Onchain, trendWeight, "tvl trend", sources.SectionOnchain, 0, false, "")
		add(sources.CategoryOnchain, w.Onchain, breadthWeight, "chain breadth", sources.SectionOnchain, 0, false, "")
	}

	// Security posture
	if d, ok := usable[sources.AuditData](sections, sources.SectionAudits); ok {
		add(sources.CategorySecurity, w.Security, auditWeight, "audit coverage", sources.SectionAudits,
			ratio(len(d.Firms), auditsForFullCoverage), true, fmt.Sprintf("%d audit firm(s), %d report(s)", len(d.Firms), len(d.Reports)))
	} else {
		add(sources.CategorySecurity, w.Security, auditWeight, "audit coverage", sources.SectionAudits, 0, false, "")
	}
	if d, ok := usable[sources.BountyData](sections, sources.SectionBounty); ok {
		v, basis := 0.0, "no bug bounty program"
		if d.HasProgram {
			v, basis = 1, fmt.Sprintf("bug bounty up to $%s", money(d.MaxBounty))
		}
		add(sources.CategorySecurity, w.Security, bountyWeight, "bug bounty", sources.SectionBounty, v, true, basis)
	} else {
		add(sources.CategorySecurity, w.Security, bountyWeight, "bug bounty", sources.SectionBounty, 0, false, "")
	}
	if hacks, sec, asOf, ok := hackHistory(sections); ok {
		add(sources.CategorySecurity, w.Security, hackWeight, "hack history", sec,
			hackScore(hacks, asOf), true, hackBasis(hacks))
	} else {
		add(sources.CategorySecurity, w.Security, hackWeight, "hack history", sources.SectionOnchain, 0, false, "")
	}
	if d, ok := usable[sources.RedFlagData](sections, sources.SectionRedFlags); ok {
		add(sources.CategorySecurity, w.Security, flagWeight, "contract red flags", sources.SectionRedFlags,
			flagScore(d.RiskLevel), true, fmt.Sprintf("%d flag(s), risk level %s", len(d.Flags), d.RiskLevel))
	} else {
		add(sources.CategorySecurity, w.Security, flagWeight, "contract red flags", sources.SectionRedFlags, 0, false, "")
	}

	// Governance health
	if d, ok := usable[sources.GovernanceData](sections, sources.SectionGovernance); ok {
		add(sources.CategoryGovernance, w.Governance, participationWeight, "voter participation", sources.SectionGovernance,
			d.Participation/participationForFull, true, fmt.Sprintf("%.1f%% average participation", d.Participation*100))
		add(sources.CategoryGovernance, w.Governance, cadenceWeight, "proposal cadence", sources.SectionGovernance,
			d.ProposalsPer30Days/proposalsPer30DaysForFull, true, fmt.Sprintf("%.1f proposal(s) per 30 days", d.ProposalsPer30Days))
	} else {
		add(sources.CategoryGovernance, w.Governance, participationWeight, "voter participation", sources.SectionGovernance, 0, false, "")
		add(sources.CategoryGovernance, w.Governance, cadenceWeight, "proposal cadence", sources.SectionGovernance, 0, false, "")
	}

	// Development activity
	// A count of -1 was not collected; it is left unscored rather than read as zero.
	if d, ok := usable[sources.DevelopmentData](sections, sources.SectionDevelopment); ok {
		add(sources.CategoryDevelopment, w.Development, recencyWeight, "commit recency", sources.SectionDevelopment,
			commitRecency(d.DaysSinceLastCommit), d.DaysSinceLastCommit >= 0, commitBasis(d.DaysSinceLastCommit))
		if d.Contributors >= 0 {
			add(sources.CategoryDevelopment, w.Development, contributorWeight, "contributors", sources.SectionDevelopment,
				ratio(d.Contributors, contributorsForFull), true, fmt.Sprintf("%d contributor(s)", d.Contributors))
		} else {
			add(sources.CategoryDevelopment, w.Development, contributorWeight, "contributors", sources.SectionDevelopment,
				0, false, "contributor count not collected")
		}
	} else {
		add(sources.CategoryDevelopment, w.Development, recencyWeight, "commit recency", sources.SectionDevelopment, 0, false, "")
		add(sources.CategoryDevelopment, w.Development, contributorWeight, "contributors", sources.SectionDevelopment, 0, false, "")
	}

	var total, coverage float64
	rationale := make([]string, 0, len(comps))
	for _, c := range comps {
		if !c.Scored {
			reason := c.Basis
			if reason == "" {
				reason = string(c.Section) + " unavailable"
			}
			rationale = append(rationale, fmt.Sprintf("%s / %s: not scored (%s)", c.Category, c.Name, reason))
			continue
		}
		total += c.Contribution
		coverage += c.Weight
		rationale = append(rationale, fmt.Sprintf("%s / %s: %.2f of %.2f (%s)", c.Category, c.Name, c.Contribution, 10*c.Weight, c.Basis))
	}

	return Scorecard{
		Global:     math.Max(0, math.Min(10, round2(total))),
		Coverage:   round4(math.Min(coverage, 1)),
		Components: comps,
		Rationale:  rationale,
	}
}

// usable returns the typed record of sec when it carries provider data.
func usable[T sources.SectionData](sections map[sources.Section]sources.Result, sec sources.Section) (T, bool) {
	var zero T
	r, ok := sections[sec]
	if !ok || !r.Usable() {
		return zero, false
	}
	d, ok := r.Data.(T)
	return d, ok
}

// hackHistory prefers the on-chain section's hack summary and falls back to
// the red-flag screen, which reads the same provider. The reference time is
// when that section was fetched.
func hackHistory(sections map[sources.Section]sources.Result) (sources.HackSummary, sources.Section, time.Time, bool) {
	if d, ok := usable[sources.OnchainData](sections, sources.SectionOnchain); ok && d.Hacks.Checked {
		return d.Hacks, sources.SectionOnchain, sections[sources.SectionOnchain].FetchedAt, true
	}
	if d, ok := usable[sources.RedFlagData](sections, sources.SectionRedFlags); ok && d.Hacks.Checked {
		return d.Hacks, sources.SectionRedFlags, sections[sources.SectionRedFlags].FetchedAt, true
	}
	return sources.HackSummary{}, "", time.Time{}, false
}

// hackScore starts at 1 and loses a penalty per incident, scaled by the
// unrecovered amount and how recent the incident is.
func hackScore(h sources.HackSummary, asOf time.Time) float64 {
	penalty := 0.0
	for _, inc := range h.Incidents {
		penalty += hackSeverity(inc.Amount-inc.Returned) * hackRecency(asOf.Sub(inc.Date))
	}
	return clamp01(1 - penalty)
}

func hackSeverity(netLoss float64) float64 {
	switch {
	case netLoss <= 0:
		return 0.1
	case netLoss < 1e6:
		return 0.25
	case netLoss < 10e6:
		return 0.5
	case netLoss < 100e6:
		return 0.75
	default:
		return 1
	}
}

func hackRecency(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days <= 365:
		return 1
	case days <= 3*365:
		return 0.5
	default:
		return 0.25
	}
}

func hackBasis(h sources.HackSummary) string {
	if len(h.Incidents) == 0 {
		return "no recorded exploits"
	}
	return fmt.Sprintf("%d exploit(s), $%s lost, latest %d days ago", h.TotalIncidents, money(h.TotalLost-h.TotalReturned), h.DaysSinceLatest)
}

func flagScore(level sources.Severity) float64 {
	switch level {
	case sources.SeverityLow:
		return 0.8
	case sources.SeverityMedium:
		return 0.5
	case sources.SeverityHigh:
		return 0.2
	case sources.SeverityCritical:
		return 0
	default:
		return 1
	}
}

// commitRecency is 1 up to a week, 0 from six months, linear between.
// Unknown (-1) scores 0; Score leaves it unscored.
func commitRecency(days int) float64 {
	switch {
	case days < 0:
		return 0
	case days <= freshCommitDays:
		return 1
	case days >= staleCommitDays:
		return 0
	default:
		return float64(staleCommitDays-days) / float64(staleCommitDays-freshCommitDays)
	}
}

func commitBasis(days int) string {
	if days < 0 {
		return "no commit data"
	}
	return fmt.Sprintf("last commit %d days ago", days)
}

func ratio(n, full int) float64 {
	return math.Min(float64(n)/float64(full), 1)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// money renders a dollar amount as 1.2K, 3.4M or 5.6B.
func money(v float64) string {
	switch a := math.Abs(v); {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
