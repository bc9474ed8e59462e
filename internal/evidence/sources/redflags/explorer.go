package redflags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"diligence/internal/evidence/sources"
	"diligence/internal/transport"
)

const sourceTTL = 24 * time.Hour

// chainIDs maps catalog chain names to Etherscan v2 chain ids.
var chainIDs = map[string]int{
	"ethereum": 1,
	"optimism": 10,
	"bsc":      56,
	"polygon":  137,
	"base":     8453,
	"arbitrum": 42161,
}

var errUnsupportedChain = errors.New("chain not supported by explorer")

type explorer struct {
	baseURL string
	apiKey  string
	fetcher *sources.Fetcher
}

type sourceCodeResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type sourceCode struct {
	SourceCode     string `json:"SourceCode"`
	ContractName   string `json:"ContractName"`
	Proxy          string `json:"Proxy"`
	Implementation string `json:"Implementation"`
}

// check fetches verification and proxy status for one contract.
func (e *explorer) check(ctx context.Context, chain, address string) (sources.ContractCheck, int, error) {
	c := sources.ContractCheck{Chain: chain, Address: address}
	id, ok := chainIDs[strings.ToLower(chain)]
	if !ok {
		return c, 0, errUnsupportedChain
	}

	q := url.Values{
		"chainid": {strconv.Itoa(id)},
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	}
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}
	req := transport.Get(e.baseURL+"/v2/api?"+q.Encode(), nil)
	var res sourceCodeResponse
	attempts, err := e.fetcher.JSON(ctx, req, sourceTTL, &res)
	if err != nil {
		return c, attempts, err
	}
	if res.Status != "1" {
		// Errors arrive as status "0" with a string result.
		e.fetcher.Invalidate(ctx, req)
		var msg string
		_ = json.Unmarshal(res.Result, &msg)
		return c, attempts, fmt.Errorf("explorer: %s %s", res.Message, msg)
	}
	var entries []sourceCode
	if err := json.Unmarshal(res.Result, &entries); err != nil || len(entries) == 0 {
		return c, attempts, fmt.Errorf("%w: unexpected explorer result", sources.ErrMalformedPayload)
	}

	sc := entries[0]
	c.Checked = true
	c.Verified = strings.TrimSpace(sc.SourceCode) != ""
	c.ContractName = sc.ContractName
	c.Proxy = sc.Proxy == "1"
	c.Implementation = sc.Implementation
	return c, attempts, nil
}
