// Package snapshot reads off-chain governance activity from the Snapshot
// GraphQL hub.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/transport"
)

const (
	Name = "snapshot"

	pageSize = 100
	ttl      = time.Hour
)

const query = `query Governance($space: String!, $since: Int!, $first: Int!) {
  space(id: $space) { id name followersCount }
  proposals(
    first: $first
    where: { space: $space, created_gte: $since }
    orderBy: "created"
    orderDirection: desc
  ) { id title state created end votes scores_total }
}`

var errSpaceNotFound = errors.New("governance space not found")

type response struct {
	Data struct {
		Space *struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			FollowersCount int    `json:"followersCount"`
		} `json:"space"`
		Proposals []struct {
			ID          string  `json:"id"`
			Title       string  `json:"title"`
			State       string  `json:"state"`
			Created     int64   `json:"created"`
			End         int64   `json:"end"`
			Votes       int     `json:"votes"`
			ScoresTotal float64 `json:"scores_total"`
		} `json:"proposals"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type Adapter struct {
	endpoint string
	fetcher  *sources.Fetcher
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

func New(endpoint string, fetcher *sources.Fetcher, opts ...Option) *Adapter {
	a := &Adapter{endpoint: endpoint, fetcher: fetcher, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Section() sources.Section { return sources.SectionGovernance }

func (a *Adapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	space := q.Identity.SnapshotSpace
	if space == "" {
		return sources.Unavailable(Name, sources.SectionGovernance, "no governance space on record", a.now())
	}

	req, err := transport.GraphQL(a.endpoint, query, map[string]any{
		"space": space,
		"since": q.WindowStart().Unix(),
		"first": pageSize,
	})
	if err != nil {
		return sources.Unavailable(Name, sources.SectionGovernance, err.Error(), a.now())
	}

	var res response
	attempts, err := a.fetcher.JSON(ctx, req, ttl, &res)
	if err == nil {
		if err = res.err(); err != nil {
			a.fetcher.Invalidate(ctx, req)
		}
	}
	if err != nil {
		a.logger.WarnContext(ctx, "snapshot query failed", "space", space, "error", err)
		detail := sources.Describe(err)
		if errors.Is(err, errSpaceNotFound) {
			detail = errSpaceNotFound.Error()
		}
		return sources.Unavailable(Name, sources.SectionGovernance, detail, a.now()).WithAttempts(attempts)
	}

	d := summarize(res, q)
	if len(res.Data.Proposals) >= pageSize {
		return sources.Degraded(Name, d, "proposal page limit reached; older proposals in the window were not counted", a.now()).WithAttempts(attempts)
	}
	return sources.OK(Name, d, a.now()).WithAttempts(attempts)
}

func (r response) err() error {
	if len(r.Errors) > 0 {
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, e.Message)
		}
		return errors.New("graphql: " + strings.Join(msgs, "; "))
	}
	if r.Data.Space == nil {
		return errSpaceNotFound
	}
	return nil
}

func summarize(res response, q sources.Query) sources.GovernanceData {
	d := sources.EmptyGovernance()
	d.Space = res.Data.Space.ID
	d.SpaceName = res.Data.Space.Name
	d.Followers = res.Data.Space.FollowersCount

	var totalVotes int
	var latest time.Time
	for _, p := range res.Data.Proposals {
		created := time.Unix(p.Created, 0).UTC()
		d.Proposals = append(d.Proposals, sources.Proposal{
			ID:          p.ID,
			Title:       p.Title,
			State:       p.State,
			Created:     created,
			End:         time.Unix(p.End, 0).UTC(),
			Votes:       p.Votes,
			ScoresTotal: p.ScoresTotal,
		})
		if p.State == "active" {
			d.ActiveCount++
		}
		totalVotes += p.Votes
		if created.After(latest) {
			latest = created
		}
	}

	d.ProposalCount = len(d.Proposals)
	if d.ProposalCount > 0 {
		d.AverageVotes = round2(float64(totalVotes) / float64(d.ProposalCount))
		d.DaysSinceLastProposal = max(0, int(q.AsOf.Sub(latest).Hours()/24))
	}
	if d.Followers > 0 {
		d.Participation = round4(d.AverageVotes / float64(d.Followers))
	}
	if q.WindowDays > 0 {
		d.ProposalsPer30Days = round2(float64(d.ProposalCount) * 30 / float64(q.WindowDays))
	}
	return d
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
