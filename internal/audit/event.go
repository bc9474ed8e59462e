// Package audit records one event per report request. Events are emitted
// from the report path without blocking it and written to a Sink by a
// background worker.
package audit

import (
	"context"
	"time"
)

type EventType string

const (
	EventReportGenerated  EventType = "report.generated"
	EventResolutionFailed EventType = "report.resolution_failed"
)

// Event is transport-agnostic so sinks can fan out. Sections maps section
// name to result status.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Query      string            `json:"query"`
	ProtocolID string            `json:"protocol_id,omitempty"`
	ReportID   string            `json:"report_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Score      float64           `json:"score"`
	Coverage   float64           `json:"coverage"`
	Sections   map[string]string `json:"sections,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// Sink persists or forwards events.
type Sink interface {
	Write(ctx context.Context, e Event) error
}
