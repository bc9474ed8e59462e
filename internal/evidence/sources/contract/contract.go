// Package contract holds reusable checks every source adapter must pass.
package contract

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"diligence/internal/evidence/sources"
)

// Case is one adapter invocation with the status it is expected to yield.
type Case struct {
	Name           string
	Query          sources.Query
	ExpectedStatus sources.Status
	Validate       func(t *testing.T, r sources.Result)
}

// Suite runs cases against a single adapter.
type Suite struct {
	Adapter sources.Adapter
	Cases   []Case
}

func (s *Suite) Run(t *testing.T) {
	t.Helper()
	for _, tc := range s.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			r := s.Adapter.Collect(context.Background(), tc.Query)
			Check(t, s.Adapter, r)

			if tc.ExpectedStatus != "" && r.Status != tc.ExpectedStatus {
				t.Errorf("expected status %s, got %s (detail %q)", tc.ExpectedStatus, r.Status, r.ErrorDetail)
			}
			if tc.Validate != nil {
				tc.Validate(t, r)
			}
		})
	}
}

// Check asserts the invariants that hold for every Result regardless of
// outcome.
func Check(t *testing.T, a sources.Adapter, r sources.Result) {
	t.Helper()

	if r.Section != a.Section() {
		t.Errorf("result section %s does not match adapter section %s", r.Section, a.Section())
	}
	if r.Source != a.Name() {
		t.Errorf("result source %q does not match adapter name %q", r.Source, a.Name())
	}
	switch r.Status {
	case sources.StatusOk, sources.StatusDegraded, sources.StatusUnavailable:
	default:
		t.Errorf("invalid status %q", r.Status)
	}
	if r.Data == nil {
		t.Fatal("result data is nil")
	}
	if r.Data.Section() != r.Section {
		t.Errorf("data shape %s does not match section %s", r.Data.Section(), r.Section)
	}
	if r.Status != sources.StatusOk && r.ErrorDetail == "" {
		t.Errorf("%s result has no error detail", r.Status)
	}
	if r.Status == sources.StatusUnavailable {
		empty, _ := json.Marshal(sources.EmptyData(r.Section))
		got, _ := json.Marshal(r.Data)
		if string(empty) != string(got) {
			t.Errorf("unavailable result must carry the empty shape\nwant %s\n got %s", empty, got)
		}
	}
	if r.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
	if r.Attempts < 0 {
		t.Errorf("negative attempts %d", r.Attempts)
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("result does not encode: %v", err)
	}
	if strings.Contains(string(encoded), "null") {
		t.Errorf("encoded result contains null: %s", encoded)
	}
}
