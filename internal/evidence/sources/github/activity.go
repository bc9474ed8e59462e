package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
)

const (
	ActivityName = "github-activity"

	// activityPageSize is the one page read for commits and contributors. A
	// full page means the count is a lower bound.
	activityPageSize = 100
)

// ActivityAdapter measures development activity on the protocol's main
// repository: four calls, of which only the repository lookup is required.
type ActivityAdapter struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

func NewActivityAdapter(client *Client, opts ...Option) *ActivityAdapter {
	o := resolveOptions(opts)
	return &ActivityAdapter{client: client, logger: o.logger, now: o.now}
}

func (a *ActivityAdapter) Name() string { return ActivityName }

func (a *ActivityAdapter) Section() sources.Section { return sources.SectionDevelopment }

func (a *ActivityAdapter) Collect(ctx context.Context, q sources.Query) sources.Result {
	gh := q.Identity.GitHub
	if gh.IsZero() {
		return sources.Unavailable(ActivityName, sources.SectionDevelopment, "no repository on record", a.now())
	}
	base := "/repos/" + url.PathEscape(gh.Owner) + "/" + url.PathEscape(gh.Repo)
	since := q.WindowStart().UTC()

	var repo repoRecord
	attempts, err := a.client.get(ctx, base, nil, repoTTL, &repo)
	if err != nil {
		a.logger.WarnContext(ctx, "github repository fetch failed", "repo", gh.FullName(), "error", err)
		return sources.Unavailable(ActivityName, sources.SectionDevelopment, sources.Describe(err), a.now()).WithAttempts(attempts)
	}

	d := sources.EmptyDevelopment()
	d.Repository = repo.FullName
	if d.Repository == "" {
		d.Repository = gh.FullName()
	}
	d.Language = repo.Language
	d.Stars = repo.Stars
	d.Forks = repo.Forks
	d.OpenIssues = repo.OpenIssues
	d.Archived = repo.Archived
	d.LastPush = repo.PushedAt

	var failed []string

	var commits []commitRecord
	n, err := a.client.get(ctx, base+"/commits", url.Values{
		"since":    {since.Format(time.RFC3339)},
		"per_page": {strconv.Itoa(activityPageSize)},
	}, repoTTL, &commits)
	attempts += n
	if err != nil {
		failed = append(failed, "commits: "+sources.Describe(err))
	} else {
		d.CommitsInWindow = len(commits)
		if len(commits) >= activityPageSize {
			failed = append(failed, pageCutShort("commits"))
		}
	}
	d.DaysSinceLastCommit = daysSince(latestCommit(commits, repo.PushedAt), q.AsOf)

	var contributors []struct {
		Login string `json:"login"`
	}
	n, err = a.client.get(ctx, base+"/contributors", url.Values{"per_page": {strconv.Itoa(activityPageSize)}}, repoTTL, &contributors)
	attempts += n
	if err != nil {
		failed = append(failed, "contributors: "+sources.Describe(err))
	} else {
		d.Contributors = len(contributors)
		if len(contributors) >= activityPageSize {
			failed = append(failed, pageCutShort("contributors"))
		}
	}

	var closed searchCount
	n, err = a.client.get(ctx, "/search/issues", url.Values{
		"q": {"repo:" + gh.FullName() + " type:issue state:closed closed:>=" + since.Format("2006-01-02")},
	}, repoTTL, &closed)
	attempts += n
	if err != nil {
		failed = append(failed, "closed issues: "+sources.Describe(err))
	} else {
		d.ClosedIssuesInWindow = closed.TotalCount
	}

	if len(failed) > 0 {
		a.logger.WarnContext(ctx, "github activity partially collected", "repo", gh.FullName(), "failed", failed)
		return sources.Degraded(ActivityName, d, strings.Join(failed, "; "), a.now()).WithAttempts(attempts)
	}
	return sources.OK(ActivityName, d, a.now()).WithAttempts(attempts)
}

func pageCutShort(what string) string {
	return fmt.Sprintf("%s: pagination cut short, counted the first %d only", what, activityPageSize)
}

func latestCommit(commits []commitRecord, fallback time.Time) time.Time {
	var latest time.Time
	for _, c := range commits {
		if c.Commit.Author.Date.After(latest) {
			latest = c.Commit.Author.Date
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}

func daysSince(t, asOf time.Time) int {
	if t.IsZero() {
		return -1
	}
	return max(0, int(asOf.Sub(t).Hours()/24))
}
