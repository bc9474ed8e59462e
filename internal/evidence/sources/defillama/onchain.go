package defillama

import (
	"math"
	"sort"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/protocol"
)

// aggregateKeys are currentChainTvls entries that double count or are not
// chains at all.
var aggregateKeys = map[string]struct{}{
	"borrowed":       {},
	"staking":        {},
	"pool2":          {},
	"vesting":        {},
	"treasury":       {},
	"offers":         {},
	"doublecounted":  {},
	"liquidstaking":  {},
	"dcandlsoverlap": {},
}

func isChainKey(key string) bool {
	if strings.Contains(key, "-") {
		return false
	}
	_, agg := aggregateKeys[strings.ToLower(key)]
	return !agg
}

func buildOnchain(p protocolPayload, q sources.Query) sources.OnchainData {
	d := sources.EmptyOnchain()
	d.Name = p.Name
	d.Category = p.Category
	d.Description = p.Description
	d.URL = p.URL

	d.Chains, d.CurrentTVL = chainBreakdown(p.CurrentChainTVLs)
	d.TVLHistory = monthlyTVL(p.TVL, q.WindowStart())
	if d.CurrentTVL == 0 && len(p.TVL) > 0 {
		d.CurrentTVL = p.TVL[len(p.TVL)-1].TotalLiquidityUSD
	}
	d.TVLChangePct = changePct(d.TVLHistory)

	for _, r := range p.Raises {
		investors := r.LeadInvestors
		if investors == nil {
			investors = []string{}
		}
		amount := r.Amount * 1e6 // reported in millions
		d.FundingRounds = append(d.FundingRounds, sources.FundingRound{
			Date:          unix(r.Date),
			Round:         r.Round,
			Amount:        amount,
			LeadInvestors: investors,
		})
		d.TotalFunding += amount
	}
	sort.SliceStable(d.FundingRounds, func(i, j int) bool {
		return d.FundingRounds[i].Date.Before(d.FundingRounds[j].Date)
	})

	for _, h := range p.Hallmarks {
		if hm, ok := parseHallmark(h); ok {
			d.Hallmarks = append(d.Hallmarks, hm)
		}
	}
	sort.SliceStable(d.Hallmarks, func(i, j int) bool {
		return d.Hallmarks[i].Date.Before(d.Hallmarks[j].Date)
	})

	for _, child := range p.OtherProtocols {
		if child != "" && child != p.Name {
			d.ChildProtocols = append(d.ChildProtocols, child)
		}
	}
	return d
}

func chainBreakdown(current map[string]float64) ([]sources.ChainTVL, float64) {
	chains := []sources.ChainTVL{}
	var total float64
	for name, tvl := range current {
		if !isChainKey(name) || tvl <= 0 {
			continue
		}
		chains = append(chains, sources.ChainTVL{Chain: name, TVL: tvl})
		total += tvl
	}
	sort.Slice(chains, func(i, j int) bool {
		if chains[i].TVL != chains[j].TVL {
			return chains[i].TVL > chains[j].TVL
		}
		return chains[i].Chain < chains[j].Chain
	})
	for i := range chains {
		chains[i].Share = chains[i].TVL / total
	}
	return chains, total
}

// monthlyTVL keeps the last daily point of each month at or after start.
func monthlyTVL(points []tvlPayload, start time.Time) []sources.TVLPoint {
	out := []sources.TVLPoint{}
	var lastMonth string
	for _, p := range points {
		at := unix(p.Date)
		if at.Before(start) {
			continue
		}
		month := at.Format("2006-01")
		if month == lastMonth && len(out) > 0 {
			out[len(out)-1] = sources.TVLPoint{Date: at, TVL: p.TotalLiquidityUSD}
			continue
		}
		out = append(out, sources.TVLPoint{Date: at, TVL: p.TotalLiquidityUSD})
		lastMonth = month
	}
	return out
}

func changePct(history []sources.TVLPoint) float64 {
	if len(history) < 2 || history[0].TVL <= 0 {
		return 0
	}
	first, last := history[0].TVL, history[len(history)-1].TVL
	return math.Round((last-first)/first*10000) / 100
}

func parseHallmark(raw []any) (sources.Hallmark, bool) {
	if len(raw) < 2 {
		return sources.Hallmark{}, false
	}
	ts, ok := raw[0].(float64)
	if !ok {
		return sources.Hallmark{}, false
	}
	desc, ok := raw[1].(string)
	if !ok {
		return sources.Hallmark{}, false
	}
	return sources.Hallmark{Date: unix(int64(ts)), Description: desc}, true
}

// summarizeHacks matches incidents by compacted name: an exact match, or a
// hack name that starts with a protocol name of at least five characters
// ("Compound Finance" for "compound").
func summarizeHacks(all []hackPayload, names []string, asOf time.Time) sources.HackSummary {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		if k := protocol.Compact(n); k != "" {
			keys = append(keys, k)
		}
	}

	s := sources.EmptyHackSummary()
	s.Checked = true
	for _, h := range all {
		if !matchesAny(protocol.Compact(h.Name), keys) {
			continue
		}
		chains := h.Chain
		if chains == nil {
			chains = []string{}
		}
		s.Incidents = append(s.Incidents, sources.Hack{
			Date:           unix(h.Date),
			Name:           h.Name,
			Classification: h.Classification,
			Technique:      h.Technique,
			Amount:         h.Amount,
			Returned:       h.ReturnedFunds,
			Chains:         chains,
		})
		s.TotalLost += h.Amount
		s.TotalReturned += h.ReturnedFunds
	}
	sort.SliceStable(s.Incidents, func(i, j int) bool {
		return s.Incidents[i].Date.After(s.Incidents[j].Date)
	})
	s.TotalIncidents = len(s.Incidents)
	if len(s.Incidents) > 0 {
		s.DaysSinceLatest = max(0, int(asOf.Sub(s.Incidents[0].Date).Hours()/24))
	}
	return s
}

func matchesAny(name string, keys []string) bool {
	if name == "" {
		return false
	}
	for _, k := range keys {
		if name == k || (len(k) >= 5 && strings.HasPrefix(name, k)) {
			return true
		}
	}
	return false
}

func unix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
