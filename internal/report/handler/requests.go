package handler

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/report"
	pstrings "diligence/pkg/platform/strings"
)

const (
	maxNameLength  = 128
	maxTimeoutSecs = 300
)

// ReportRequest is the parsed form of GET /v1/reports/{name}.
type ReportRequest struct {
	Name     string
	Days     int
	Sections []sources.Section
	Timeout  time.Duration
}

// parseReportRequest validates the path name and the optional days,
// sections and timeout query parameters.
func parseReportRequest(name string, q url.Values) (ReportRequest, error) {
	var req ReportRequest

	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	req.Name = strings.TrimSpace(name)
	if req.Name == "" {
		return req, errors.New("protocol name is required")
	}
	if len(req.Name) > maxNameLength {
		return req, fmt.Errorf("protocol name must be at most %d characters", maxNameLength)
	}

	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > report.MaxHistoryWindowDays {
			return req, fmt.Errorf("days must be an integer between 1 and %d", report.MaxHistoryWindowDays)
		}
		req.Days = days
	}

	if raw := strings.TrimSpace(q.Get("sections")); raw != "" {
		seen := make(map[sources.Section]bool)
		for _, part := range pstrings.SplitList(raw) {
			sec, err := sources.ParseSection(part)
			if err != nil {
				return req, err
			}
			if !seen[sec] {
				seen[sec] = true
				req.Sections = append(req.Sections, sec)
			}
		}
		if len(req.Sections) == 0 {
			return req, errors.New("sections must name at least one section")
		}
	}

	if raw := strings.TrimSpace(q.Get("timeout")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 1 || secs > maxTimeoutSecs {
			return req, fmt.Errorf("timeout must be a whole number of seconds between 1 and %d", maxTimeoutSecs)
		}
		req.Timeout = time.Duration(secs) * time.Second
	}

	return req, nil
}

func (r ReportRequest) Options() report.Options {
	return report.Options{
		HistoryWindowDays: r.Days,
		IncludeSections:   r.Sections,
		Timeout:           r.Timeout,
	}
}
