package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"diligence/internal/protocol"
)

type ResolverSuite struct {
	suite.Suite
	catalog  *protocol.Catalog
	resolver *Resolver
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	c, err := protocol.LoadDefault()
	s.Require().NoError(err)
	s.catalog = c
	s.resolver = New(c)
}

func (s *ResolverSuite) TestExactAndNormalizedNames() {
	cases := map[string]string{
		"AAVE":          "aave",
		" aave ":        "aave",
		"Aave Protocol": "aave",
		"aave-v3":       "aave",
		"Rocket Pool":   "rocket-pool",
		"rocketpool":    "rocket-pool",
		"RPL":           "rocket-pool",
		"Curve Finance": "curve",
		"Lido DAO":      "lido",
		"yearn.fi":      "yearn",
		"The Uniswap":   "uniswap",
	}
	for input, want := range cases {
		s.Run(input, func() {
			id, err := s.resolver.Resolve(input)
			s.Require().NoError(err)
			s.Equal(want, id.CanonicalID)
		})
	}
}

func (s *ResolverSuite) TestFuzzyMatchAboveThreshold() {
	cases := map[string]string{
		"Uniswp":    "uniswap",
		"Compund":   "compound",
		"aavee":     "aave",
		"eigenlayr": "eigenlayer",
	}
	for input, want := range cases {
		s.Run(input, func() {
			id, err := s.resolver.Resolve(input)
			s.Require().NoError(err)
			s.Equal(want, id.CanonicalID)
		})
	}
}

func (s *ResolverSuite) TestUnknownNameNeverGuesses() {
	_, err := s.resolver.Resolve("notarealprotocol123")
	s.Require().Error(err)
	s.True(errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	s.Require().True(errors.As(err, &nf))
	s.Equal("notarealprotocol123", nf.Query)
	s.Len(nf.Suggestions, 3)
	s.Contains(err.Error(), "closest matches")
}

func (s *ResolverSuite) TestBelowThresholdIsRejected() {
	// two edits away from "aave" scores 0.5
	_, err := s.resolver.Resolve("aaxx")
	s.Require().ErrorIs(err, ErrNotFound)
	s.Equal("Aave", Suggestions(err)[0])

	lenient := New(s.catalog, WithThreshold(0.45))
	id, err := lenient.Resolve("aaxx")
	s.Require().NoError(err)
	s.Equal("aave", id.CanonicalID)
}

func (s *ResolverSuite) TestEmptyInput() {
	_, err := s.resolver.Resolve("  --  ")
	s.Require().ErrorIs(err, ErrNotFound)
	s.Empty(Suggestions(err))
}

func TestResolve_NearTieFailsMargin(t *testing.T) {
	c, err := protocol.New([]protocol.Identity{
		{CanonicalID: "abcd1"},
		{CanonicalID: "abcd2"},
		{CanonicalID: "zzzz"},
	})
	require.NoError(t, err)

	_, err = New(c).Resolve("abcd")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"abcd1", "abcd2", "zzzz"}, Suggestions(err))

	// without a margin requirement the first of the tied names wins
	id, err := New(c, WithMargin(0)).Resolve("abcd")
	require.NoError(t, err)
	assert.Equal(t, "abcd1", id.CanonicalID)
}

func TestResolve_SharedCoreNameIsNotExact(t *testing.T) {
	c, err := protocol.New([]protocol.Identity{
		{CanonicalID: "alpha-finance", DisplayName: "Alpha Finance"},
		{CanonicalID: "alpha-network", DisplayName: "Alpha Network"},
	})
	require.NoError(t, err)

	_, err = New(c).Resolve("alpha")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 0, levenshtein("aave", "aave"))
	assert.Equal(t, 1, levenshtein("uniswp", "uniswap"))
	assert.Equal(t, 3, levenshtein("", "gmx"))
	assert.InDelta(t, 0.75, ratio("aavx", "aave"), 1e-9)
	assert.InDelta(t, 0.5, ratio("aaxx", "aave"), 1e-9)
	assert.InDelta(t, 1.0, tokenOverlap([]string{"rocket", "pool"}, []string{"rocket", "pool"}), 1e-9)
	assert.InDelta(t, 0.5, tokenOverlap([]string{"rocket"}, []string{"rocket", "pool"}), 1e-9)
	assert.Zero(t, tokenOverlap(nil, []string{"x"}))
}
