package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one logical call. MaxAttempts and Timeout override the
// transport defaults when positive; Timeout bounds each attempt including the
// wait for a rate limit token.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	MaxAttempts int
	Timeout     time.Duration
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Get builds a GET request with optional headers.
func Get(rawURL string, header http.Header) Request {
	return Request{Method: http.MethodGet, URL: rawURL, Header: header}
}

// GraphQL builds a POST carrying a GraphQL query document.
func GraphQL(endpoint, query string, variables map[string]any) (Request, error) {
	body, err := json.Marshal(struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}{Query: query, Variables: variables})
	if err != nil {
		return Request{}, fmt.Errorf("encode graphql request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Request{Method: http.MethodPost, URL: endpoint, Header: h, Body: body}, nil
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Host returns the lowercased host[:port] the request targets. Limits,
// budgets and breakers are all keyed by it.
func (r Request) Host() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", r.URL)
	}
	return strings.ToLower(u.Host), nil
}

// HostOf is Request.Host for a bare URL; it returns "" when unparsable.
func HostOf(rawURL string) string {
	h, _ := Request{URL: rawURL}.Host()
	return h
}
