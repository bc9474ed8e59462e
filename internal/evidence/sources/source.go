// Package sources defines the contract every provider adapter satisfies and
// the fixed-shape section records they produce. Adapters never return an
// error: a failure is a Result with a non-Ok status, an empty or partial
// record and a human-readable detail.
package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"diligence/internal/protocol"
)

// Section names one slot of a report. Each adapter fills exactly one.
type Section string

const (
	SectionOnchain     Section = "onchain"
	SectionAudits      Section = "audits"
	SectionBounty      Section = "bounty"
	SectionGovernance  Section = "governance"
	SectionDevelopment Section = "development"
	SectionRedFlags    Section = "red_flags"
)

// AllSections in report order.
var AllSections = []Section{
	SectionOnchain,
	SectionAudits,
	SectionBounty,
	SectionGovernance,
	SectionDevelopment,
	SectionRedFlags,
}

// ParseSection accepts the section names case-insensitively, plus "redflags"
// and "red-flags".
func ParseSection(s string) (Section, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "redflags" {
		norm = string(SectionRedFlags)
	}
	for _, sec := range AllSections {
		if string(sec) == norm {
			return sec, nil
		}
	}
	return "", fmt.Errorf("unknown section %q", s)
}

// AnalysisCategory is the unit a report's limitations and score are
// expressed in. Audits and bounty both feed security posture.
type AnalysisCategory string

const (
	CategoryOnchain     AnalysisCategory = "on-chain health"
	CategorySecurity    AnalysisCategory = "security posture"
	CategoryGovernance  AnalysisCategory = "governance health"
	CategoryDevelopment AnalysisCategory = "development activity"
	CategoryRedFlags    AnalysisCategory = "red-flag screening"
)

// AllCategories in report order.
var AllCategories = []AnalysisCategory{
	CategoryOnchain,
	CategorySecurity,
	CategoryGovernance,
	CategoryDevelopment,
	CategoryRedFlags,
}

func (s Section) Category() AnalysisCategory {
	switch s {
	case SectionOnchain:
		return CategoryOnchain
	case SectionAudits, SectionBounty:
		return CategorySecurity
	case SectionGovernance:
		return CategoryGovernance
	case SectionDevelopment:
		return CategoryDevelopment
	default:
		return CategoryRedFlags
	}
}

type Status string

const (
	StatusOk          Status = "ok"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Query is what every adapter receives.
type Query struct {
	Identity   protocol.Identity
	WindowDays int
	AsOf       time.Time
}

// WindowStart is the beginning of the history window.
func (q Query) WindowStart() time.Time {
	return q.AsOf.AddDate(0, 0, -q.WindowDays)
}

// Result is the uniform adapter outcome. Data is never nil: Unavailable
// carries the section's empty record, Degraded whatever was recovered.
type Result struct {
	Source      string      `json:"source"`
	Section     Section     `json:"section"`
	Status      Status      `json:"status"`
	Data        SectionData `json:"data"`
	ErrorDetail string      `json:"error_detail,omitempty"`
	Attempts    int         `json:"attempts"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

func (r Result) Ok() bool {
	return r.Status == StatusOk
}

// Usable reports whether the result carries provider data at all.
func (r Result) Usable() bool {
	return r.Status == StatusOk || r.Status == StatusDegraded
}

func OK(source string, data SectionData, now time.Time) Result {
	return Result{Source: source, Section: data.Section(), Status: StatusOk, Data: data, FetchedAt: now}
}

func Degraded(source string, data SectionData, detail string, now time.Time) Result {
	return Result{
		Source:      source,
		Section:     data.Section(),
		Status:      StatusDegraded,
		Data:        data,
		ErrorDetail: detail,
		FetchedAt:   now,
	}
}

func Unavailable(source string, section Section, detail string, now time.Time) Result {
	return Result{
		Source:      source,
		Section:     section,
		Status:      StatusUnavailable,
		Data:        EmptyData(section),
		ErrorDetail: detail,
		FetchedAt:   now,
	}
}

// WithAttempts records how many HTTP requests produced the result.
func (r Result) WithAttempts(n int) Result {
	r.Attempts = n
	return r
}

// Adapter collects one section for one protocol. Collect must not panic and
// must honor ctx; it always returns a Result whose Section matches Section().
type Adapter interface {
	Name() string
	Section() Section
	Collect(ctx context.Context, q Query) Result
}
