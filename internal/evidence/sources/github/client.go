// Package github collects audit reports published by security firms and
// development activity for a protocol's main repository.
package github

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/transport"
)

const (
	apiVersion = "2022-11-28"
	searchTTL  = 12 * time.Hour
	repoTTL    = time.Hour
)

// Client builds GitHub REST requests. A token raises the rate limit but is
// optional.
type Client struct {
	baseURL string
	token   string
	fetcher *sources.Fetcher
}

func NewClient(baseURL, token string, fetcher *sources.Fetcher) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, fetcher: fetcher}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, ttl time.Duration, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return c.fetcher.JSON(ctx, transport.Get(u, h), ttl, out)
}

type searchRepos struct {
	TotalCount int          `json:"total_count"`
	Items      []repoRecord `json:"items"`
}

type repoRecord struct {
	FullName    string    `json:"full_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	OpenIssues  int       `json:"open_issues_count"`
	Archived    bool      `json:"archived"`
	PushedAt    time.Time `json:"pushed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type commitRecord struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author struct {
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

type searchCount struct {
	TotalCount int `json:"total_count"`
}
