package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"diligence/internal/evidence/sources"
	"diligence/internal/evidence/sources/contract"
	"diligence/internal/platform/logger"
	"diligence/internal/protocol"
	"diligence/pkg/testutil"
)

var asOf = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

type SnapshotSuite struct {
	suite.Suite
	server  *testutil.ProviderServer
	adapter *Adapter
	query   sources.Query
}

func TestSnapshotSuite(t *testing.T) {
	suite.Run(t, new(SnapshotSuite))
}

func (s *SnapshotSuite) SetupTest() {
	s.server = testutil.NewProviderServer(s.T())
	s.adapter = New(s.server.URL+"/graphql", testutil.NewFetcher(),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return asOf }),
	)
	s.query = sources.Query{
		Identity:   protocol.Identity{CanonicalID: "aave", SnapshotSpace: "aave.eth"},
		WindowDays: 60,
		AsOf:       asOf,
	}
}

func proposals(n int) string {
	out := make([]string, 0, n)
	for i := range n {
		created := asOf.Add(-time.Duration(i+1) * 24 * time.Hour).Unix()
		state := "closed"
		if i == 0 {
			state = "active"
		}
		out = append(out, fmt.Sprintf(
			`{"id":"0x%d","title":"AIP-%d","state":%q,"created":%d,"end":%d,"votes":%d,"scores_total":1000}`,
			i, i, state, created, created+3*86400, 100*(i+1)))
	}
	return "[" + strings.Join(out, ",") + "]"
}

func (s *SnapshotSuite) TestCollectOk() {
	s.server.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var gql struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		s.Require().NoError(json.Unmarshal(body, &gql))
		s.Equal("aave.eth", gql.Variables["space"])
		s.EqualValues(asOf.AddDate(0, 0, -60).Unix(), gql.Variables["since"])
		_, _ = io.WriteString(w, `{"data":{"space":{"id":"aave.eth","name":"Aave","followersCount":2000},"proposals":`+proposals(3)+`}}`)
	})

	r := s.adapter.Collect(s.T().Context(), s.query)
	contract.Check(s.T(), s.adapter, r)
	s.Require().Equal(sources.StatusOk, r.Status, r.ErrorDetail)

	d := r.Data.(sources.GovernanceData)
	s.Equal("Aave", d.SpaceName)
	s.Equal(3, d.ProposalCount)
	s.Equal(1, d.ActiveCount)
	s.InDelta(200, d.AverageVotes, 1e-9)
	s.InDelta(0.1, d.Participation, 1e-9)
	s.InDelta(1.5, d.ProposalsPer30Days, 1e-9)
	s.Equal(1, d.DaysSinceLastProposal)
}

func (s *SnapshotSuite) TestFullPageDegrades() {
	s.server.JSON("/graphql", `{"data":{"space":{"id":"aave.eth","name":"Aave","followersCount":10},"proposals":`+proposals(pageSize)+`}}`)

	r := s.adapter.Collect(s.T().Context(), s.query)
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusDegraded, r.Status)
	s.Equal(pageSize, r.Data.(sources.GovernanceData).ProposalCount)
}

func (s *SnapshotSuite) TestUnknownSpace() {
	s.server.JSON("/graphql", `{"data":{"space":null,"proposals":[]}}`)

	r := s.adapter.Collect(s.T().Context(), s.query)
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusUnavailable, r.Status)
	s.Equal("governance space not found", r.ErrorDetail)
}

func (s *SnapshotSuite) TestGraphQLErrors() {
	s.server.JSON("/graphql", `{"errors":[{"message":"too many requests"}]}`)

	r := s.adapter.Collect(s.T().Context(), s.query)
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusUnavailable, r.Status)
	s.Contains(r.ErrorDetail, "too many requests")
}

func (s *SnapshotSuite) TestEmptyBodyIsUnavailable() {
	s.server.Script("/graphql", testutil.Reply{Status: http.StatusOK})

	r := s.adapter.Collect(s.T().Context(), s.query)
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusUnavailable, r.Status)
	s.Equal("malformed response", r.ErrorDetail)
}

func (s *SnapshotSuite) TestNoSpaceOnRecord() {
	q := s.query
	q.Identity.SnapshotSpace = ""

	r := s.adapter.Collect(s.T().Context(), q)
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusUnavailable, r.Status)
	s.Empty(s.server.Requests())
}

func (s *SnapshotSuite) TestEmptyWindow() {
	s.server.JSON("/graphql", `{"data":{"space":{"id":"aave.eth","name":"Aave","followersCount":0},"proposals":[]}}`)

	r := s.adapter.Collect(s.T().Context(), s.query)
	contract.Check(s.T(), s.adapter, r)
	s.Equal(sources.StatusOk, r.Status)
	d := r.Data.(sources.GovernanceData)
	s.Zero(d.ProposalCount)
	s.Equal(-1, d.DaysSinceLastProposal)
	s.NotNil(d.Proposals)
}
