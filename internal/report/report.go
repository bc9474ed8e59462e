// Package report builds the due-diligence report for one protocol: it
// resolves the name, runs every source adapter concurrently under a
// per-report deadline, and scores whatever came back.
package report

import (
	"fmt"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/protocol"
)

type Status string

const (
	StatusComplete          Status = "complete"
	StatusPartiallyDegraded Status = "partially_degraded"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Limitation names one section that did not come back Ok and the analysis
// it impairs.
type Limitation struct {
	Section  sources.Section          `json:"section"`
	Category sources.AnalysisCategory `json:"category"`
	Status   sources.Status           `json:"status"`
	Source   string                   `json:"source"`
	Detail   string                   `json:"detail"`
}

func (l Limitation) String() string {
	impact := "incomplete"
	if l.Status == sources.StatusUnavailable {
		impact = "missing"
	}
	return fmt.Sprintf("%s (%s) %s: %s", l.Category, l.Section, impact, l.Detail)
}

// Report is built once per request and never modified afterwards. Every
// section is present; non-Ok sections carry their empty record.
type Report struct {
	ID                string                              `json:"id"`
	Query             string                              `json:"query"`
	Identity          protocol.Identity                   `json:"identity"`
	GeneratedAt       time.Time                           `json:"generated_at"`
	HistoryWindowDays int                                 `json:"history_window_days"`
	Sections          map[sources.Section]sources.Result `json:"sections"`
	GlobalScore       float64                             `json:"global_score"`
	Coverage          float64                             `json:"coverage"`
	Confidence        Confidence                          `json:"confidence"`
	ScoreRationale    []string                            `json:"score_rationale"`
	ScoreBreakdown    []Component                         `json:"score_breakdown"`
	DataLimitations   []Limitation                        `json:"data_limitations"`
	Contributors      []string                            `json:"contributors"`
	TopRisks          []string                            `json:"top_risks"`
	PositiveSignals   []string                            `json:"positive_signals"`
	Status            Status                              `json:"status"`
}

// Degraded reports whether any section is missing or incomplete.
func (r *Report) Degraded() bool {
	return r.Status == StatusPartiallyDegraded
}

// Section returns the result for s. Every section is always present.
func (r *Report) Section(s sources.Section) sources.Result {
	return r.Sections[s]
}

// ImpairedCategories lists the distinct analysis categories named by the
// report's limitations, in report order.
func (r *Report) ImpairedCategories() []sources.AnalysisCategory {
	seen := make(map[sources.AnalysisCategory]bool, len(r.DataLimitations))
	for _, l := range r.DataLimitations {
		seen[l.Category] = true
	}
	out := make([]sources.AnalysisCategory, 0, len(seen))
	for _, c := range sources.AllCategories {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// assemble is the pure tail of report building: everything it derives is a
// function of sections and weights.
func assemble(id, query string, identity protocol.Identity, generatedAt time.Time, windowDays int,
	sections map[sources.Section]sources.Result, w Weights) *Report {
	card := Score(sections, w)
	limitations := limitationsOf(sections)

	status := StatusComplete
	if len(limitations) > 0 {
		status = StatusPartiallyDegraded
	}

	return &Report{
		ID:                id,
		Query:             query,
		Identity:          identity,
		GeneratedAt:       generatedAt,
		HistoryWindowDays: windowDays,
		Sections:          sections,
		GlobalScore:       card.Global,
		Coverage:          card.Coverage,
		Confidence:        confidenceOf(card.Coverage, limitations),
		ScoreRationale:    card.Rationale,
		ScoreBreakdown:    card.Components,
		DataLimitations:   limitations,
		Contributors:      contributorsOf(sections),
		TopRisks:          topRisks(sections, card),
		PositiveSignals:   positiveSignals(sections),
		Status:            status,
	}
}

func limitationsOf(sections map[sources.Section]sources.Result) []Limitation {
	out := []Limitation{}
	for _, sec := range sources.AllSections {
		r, ok := sections[sec]
		if ok && r.Ok() {
			continue
		}
		detail := r.ErrorDetail
		if detail == "" {
			detail = "no data"
		}
		status := r.Status
		if !ok {
			status = sources.StatusUnavailable
		}
		out = append(out, Limitation{
			Section:  sec,
			Category: sec.Category(),
			Status:   status,
			Source:   r.Source,
			Detail:   detail,
		})
	}
	return out
}

// contributorsOf lists each source that returned any data, once, in
// section order.
func contributorsOf(sections map[sources.Section]sources.Result) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, sec := range sources.AllSections {
		r := sections[sec]
		if !r.Usable() || seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		out = append(out, r.Source)
	}
	return out
}

// confidenceOf: high needs most of the rubric scored and at most one
// impaired section.
func confidenceOf(coverage float64, limitations []Limitation) Confidence {
	switch {
	case coverage >= 0.8 && len(limitations) <= 1:
		return ConfidenceHigh
	case coverage >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
