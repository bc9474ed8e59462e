package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
)

const (
	AuditsName = "github-audits"

	auditPageSize = 50
	auditMaxPages = 2
)

// auditFirms maps the GitHub organisations that publish audit reports to
// the firm names shown in reports.
var auditFirms = map[string]string{
	"trailofbits":    "Trail of Bits",
	"openzeppelin":   "OpenZeppelin",
	"spearbit":       "Spearbit",
	"code-423n4":     "Code4rena",
	"sherlock-audit": "Sherlock",
	"cyfrin":         "Cyfrin",
}

// auditOrgs in query order.
var auditOrgs = []string{"trailofbits", "OpenZeppelin", "spearbit", "code-423n4", "sherlock-audit", "Cyfrin"}

// AuditAdapter searches the audit firms' organisations for repositories
// naming the protocol.
type AuditAdapter struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func resolveOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewAuditAdapter(client *Client, opts ...Option) *AuditAdapter {
	o := resolveOptions(opts)
	return &AuditAdapter{client: client, logger: o.logger, now: o.now}
}

func (a *AuditAdapter) Name() string { return AuditsName }

func (a *AuditAdapter) Section() sources.Section { return sources.SectionAudits }

func (a *AuditAdapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	term := q.Identity.DisplayName
	if term == "" {
		term = q.Identity.CanonicalID
	}

	data := sources.EmptyAudits()
	var attempts int
	for page := 1; page <= auditMaxPages; page++ {
		var res searchRepos
		n, err := a.client.get(ctx, "/search/repositories", auditQuery(term, page), searchTTL, &res)
		attempts += n
		if err != nil {
			a.logger.WarnContext(ctx, "github audit search failed", "protocol", q.Identity.CanonicalID, "page", page, "error", err)
			if page == 1 {
				return sources.Unavailable(AuditsName, sources.SectionAudits, sources.Describe(err), a.now()).WithAttempts(attempts)
			}
			finalize(&data)
			return sources.Degraded(AuditsName, data, "audit search incomplete: "+sources.Describe(err), a.now()).WithAttempts(attempts)
		}

		data.TotalFound = res.TotalCount
		for _, item := range res.Items {
			data.Reports = append(data.Reports, sources.AuditReport{
				Firm:        firmName(item.Owner.Login),
				Repository:  item.FullName,
				URL:         item.HTMLURL,
				Description: item.Description,
				UpdatedAt:   item.UpdatedAt,
			})
		}
		if len(res.Items) < auditPageSize || len(data.Reports) >= res.TotalCount {
			break
		}
	}

	finalize(&data)
	if data.TotalFound > len(data.Reports) {
		detail := fmt.Sprintf("pagination cut short: %d of %d results fetched", len(data.Reports), data.TotalFound)
		return sources.Degraded(AuditsName, data, detail, a.now()).WithAttempts(attempts)
	}
	return sources.OK(AuditsName, data, a.now()).WithAttempts(attempts)
}

func auditQuery(term string, page int) url.Values {
	parts := []string{term, "in:name,description"}
	for _, org := range auditOrgs {
		parts = append(parts, "org:"+org)
	}
	return url.Values{
		"q":        {strings.Join(parts, " ")},
		"per_page": {strconv.Itoa(auditPageSize)},
		"page":     {strconv.Itoa(page)},
	}
}

func firmName(login string) string {
	if name, ok := auditFirms[strings.ToLower(login)]; ok {
		return name
	}
	return login
}

// finalize sorts reports newest first and derives the distinct firm list.
func finalize(d *sources.AuditData) {
	sort.SliceStable(d.Reports, func(i, j int) bool {
		return d.Reports[i].UpdatedAt.After(d.Reports[j].UpdatedAt)
	})
	seen := map[string]bool{}
	for _, r := range d.Reports {
		if !seen[r.Firm] {
			seen[r.Firm] = true
			d.Firms = append(d.Firms, r.Firm)
		}
	}
	sort.Strings(d.Firms)
}
