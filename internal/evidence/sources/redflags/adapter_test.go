package redflags

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"diligence/internal/evidence/sources"
	"diligence/internal/evidence/sources/contract"
	"diligence/internal/evidence/sources/defillama"
	"diligence/internal/platform/logger"
	"diligence/internal/protocol"
	"diligence/pkg/testutil"
)

var asOf = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

const (
	verifiedAddr   = "0x1111111111111111111111111111111111111111"
	proxyAddr      = "0x2222222222222222222222222222222222222222"
	unverifiedAddr = "0x3333333333333333333333333333333333333333"
)

type RedFlagSuite struct {
	suite.Suite
	server  *testutil.ProviderServer
	adapter *Adapter
}

func TestRedFlagSuite(t *testing.T) {
	suite.Run(t, new(RedFlagSuite))
}

func (s *RedFlagSuite) SetupTest() {
	s.server = testutil.NewProviderServer(s.T())
	fetcher := testutil.NewFetcher()
	hacks := defillama.NewClient(s.server.URL, fetcher)
	s.adapter = New(s.server.URL, "test-key", fetcher, hacks,
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return asOf }),
	)
	s.server.HandleFunc("/v2/api", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("apikey") != "test-key" || q.Get("action") != "getsourcecode" {
			_, _ = io.WriteString(w, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`)
			return
		}
		switch q.Get("address") {
		case verifiedAddr:
			_, _ = io.WriteString(w, `{"status":"1","message":"OK","result":[{"SourceCode":"contract Pool {}","ContractName":"Pool","Proxy":"0","Implementation":""}]}`)
		case proxyAddr:
			_, _ = io.WriteString(w, `{"status":"1","message":"OK","result":[{"SourceCode":"contract Proxy {}","ContractName":"InitializableAdminUpgradeabilityProxy","Proxy":"1","Implementation":"0xabc"}]}`)
		case unverifiedAddr:
			_, _ = io.WriteString(w, `{"status":"1","message":"OK","result":[{"SourceCode":"","ContractName":"","Proxy":"0","Implementation":""}]}`)
		default:
			_, _ = io.WriteString(w, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`)
		}
	})
}

func identity(contracts ...protocol.Contract) sources.Query {
	return sources.Query{
		Identity:   protocol.Identity{CanonicalID: "aave", DisplayName: "Aave", Contracts: contracts},
		WindowDays: 180,
		AsOf:       asOf,
	}
}

func hackJSON(daysAgo int, amount, returned float64) string {
	return fmt.Sprintf(`[{"date": %d, "name": "Aave", "classification": "Protocol Logic", "technique": "Oracle", "amount": %f, "returnedFunds": %f, "chain": ["Ethereum"]}]`,
		asOf.AddDate(0, 0, -daysAgo).Unix(), amount, returned)
}

func (s *RedFlagSuite) TestProxyOnly() {
	s.server.JSON("/hacks", `[]`)

	r := s.adapter.Collect(s.T().Context(), identity(
		protocol.Contract{Chain: "ethereum", Address: verifiedAddr, Label: "Pool"},
		protocol.Contract{Chain: "ethereum", Address: proxyAddr, Label: "Token"},
	))
	contract.Check(s.T(), s.adapter, r)
	s.Require().Equal(sources.StatusOk, r.Status, r.ErrorDetail)

	d := r.Data.(sources.RedFlagData)
	s.Equal(sources.SeverityMedium, d.RiskLevel)
	s.Require().Len(d.Flags, 1)
	s.Equal("upgradeable_proxy", d.Flags[0].Kind)
	s.Contains(d.Flags[0].Detail, "Token")
	s.Len(d.Contracts, 2)
	s.True(d.Contracts[1].Proxy)
	s.Equal("0xabc", d.Contracts[1].Implementation)
}

func (s *RedFlagSuite) TestRecentExploitIsCritical() {
	s.server.JSON("/hacks", hackJSON(30, 25_000_000, 1_000_000))

	r := s.adapter.Collect(s.T().Context(), identity(
		protocol.Contract{Chain: "ethereum", Address: unverifiedAddr},
	))
	contract.Check(s.T(), s.adapter, r)
	s.Require().Equal(sources.StatusOk, r.Status)

	d := r.Data.(sources.RedFlagData)
	s.Equal(sources.SeverityCritical, d.RiskLevel)
	kinds := map[string]sources.Severity{}
	for _, f := range d.Flags {
		kinds[f.Kind] = f.Severity
	}
	s.Equal(sources.SeverityHigh, kinds["unverified_contract"])
	s.Equal(sources.SeverityCritical, kinds["recent_exploit"])
	s.Equal(sources.SeverityHigh, kinds["unrecovered_losses"])
}

func (s *RedFlagSuite) TestOldExploitIsMedium() {
	s.server.JSON("/hacks", hackJSON(800, 1_000_000, 1_000_000))

	r := s.adapter.Collect(s.T().Context(), identity(
		protocol.Contract{Chain: "ethereum", Address: verifiedAddr},
	))
	d := r.Data.(sources.RedFlagData)
	s.Equal(sources.SeverityMedium, d.RiskLevel)
	s.Require().Len(d.Flags, 1)
	s.Equal("past_exploit", d.Flags[0].Kind)
}

func (s *RedFlagSuite) TestExplorerErrorsDegrade() {
	s.server.JSON("/hacks", `[]`)

	r := s.adapter.Collect(s.T().Context(), identity(
		protocol.Contract{Chain: "ethereum", Address: "0x9999999999999999999999999999999999999999"},
		protocol.Contract{Chain: "solana", Address: "So11111111111111111111111111111111111111112"},
	))
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusDegraded, r.Status)
	s.Contains(r.ErrorDetail, "Max rate limit reached")
	s.Contains(r.ErrorDetail, "chain not supported")

	d := r.Data.(sources.RedFlagData)
	s.Equal(sources.SeverityNone, d.RiskLevel)
	s.Len(d.Contracts, 2)
	s.False(d.Contracts[0].Checked)
}

func (s *RedFlagSuite) TestEverythingFailedIsUnavailable() {
	s.server.Script("/hacks", testutil.Reply{Status: http.StatusBadGateway})

	r := s.adapter.Collect(s.T().Context(), identity(
		protocol.Contract{Chain: "solana", Address: "x"},
	))
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusUnavailable, r.Status)
	s.Contains(r.ErrorDetail, "hack history")
}

func (s *RedFlagSuite) TestNoContractsDegrades() {
	s.server.JSON("/hacks", hackJSON(10, 100, 0))

	r := s.adapter.Collect(s.T().Context(), identity())
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusDegraded, r.Status)
	s.Equal("no contract addresses on record", r.ErrorDetail)
	s.Equal(sources.SeverityCritical, r.Data.(sources.RedFlagData).RiskLevel)
}

func (s *RedFlagSuite) TestChecksAtMostFiveContracts() {
	s.server.JSON("/hacks", `[]`)
	var contracts []protocol.Contract
	for i := range 7 {
		contracts = append(contracts, protocol.Contract{Chain: "ethereum", Address: fmt.Sprintf("0x%040d", i)})
	}

	r := s.adapter.Collect(s.T().Context(), identity(contracts...))
	s.Len(r.Data.(sources.RedFlagData).Contracts, maxContracts)
	s.Equal(maxContracts, s.server.Hits("/v2/api"))
}

func (s *RedFlagSuite) TestHackListIsSharedThroughCache() {
	s.server.JSON("/hacks", `[]`)
	q := identity(protocol.Contract{Chain: "ethereum", Address: verifiedAddr})

	s.adapter.Collect(s.T().Context(), q)
	s.adapter.Collect(s.T().Context(), q)
	s.Equal(1, s.server.Hits("/hacks"))
	s.Equal(1, s.server.Hits("/v2/api"))
}
