// Package defillama reads protocol detail and hack history from the
// DeFiLlama public API.
package defillama

import (
	"context"
	"net/url"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/transport"
)

const (
	protocolTTL = time.Hour
	hacksTTL    = 6 * time.Hour
)

// Client is shared by the on-chain and red-flag adapters so both read the
// same cached hack list.
type Client struct {
	baseURL string
	fetcher *sources.Fetcher
}

func NewClient(baseURL string, fetcher *sources.Fetcher) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}
}

type protocolPayload struct {
	Name             string             `json:"name"`
	Category         string             `json:"category"`
	Description      string             `json:"description"`
	URL              string             `json:"url"`
	CurrentChainTVLs map[string]float64 `json:"currentChainTvls"`
	TVL              []tvlPayload       `json:"tvl"`
	Raises           []raisePayload     `json:"raises"`
	Hallmarks        [][]any            `json:"hallmarks"`
	OtherProtocols   []string           `json:"otherProtocols"`
}

type tvlPayload struct {
	Date              int64   `json:"date"`
	TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
}

type raisePayload struct {
	Date          int64    `json:"date"`
	Round         string   `json:"round"`
	Amount        float64  `json:"amount"`
	LeadInvestors []string `json:"leadInvestors"`
}

type hackPayload struct {
	Date           int64    `json:"date"`
	Name           string   `json:"name"`
	Classification string   `json:"classification"`
	Technique      string   `json:"technique"`
	Amount         float64  `json:"amount"`
	ReturnedFunds  float64  `json:"returnedFunds"`
	Chain          []string `json:"chain"`
}

func (c *Client) protocol(ctx context.Context, slug string) (protocolPayload, int, error) {
	var p protocolPayload
	req := transport.Get(c.baseURL+"/protocol/"+url.PathEscape(slug), nil)
	attempts, err := c.fetcher.JSON(ctx, req, protocolTTL, &p)
	return p, attempts, err
}

func (c *Client) hacks(ctx context.Context) ([]hackPayload, int, error) {
	var hacks []hackPayload
	req := transport.Get(c.baseURL+"/hacks", nil)
	attempts, err := c.fetcher.JSON(ctx, req, hacksTTL, &hacks)
	return hacks, attempts, err
}

// HackHistory returns the incidents recorded against any of names, newest
// first.
func (c *Client) HackHistory(ctx context.Context, names []string, asOf time.Time) (sources.HackSummary, int, error) {
	all, attempts, err := c.hacks(ctx)
	if err != nil {
		return sources.EmptyHackSummary(), attempts, err
	}
	return summarizeHacks(all, names, asOf), attempts, nil
}
