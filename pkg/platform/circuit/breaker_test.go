package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one recorded outcome and the breaker position expected after it.
type step struct {
	fail     bool
	wantOpen bool
}

func replay(t *testing.T, b *Breaker, steps []step) {
	t.Helper()
	for i, s := range steps {
		if s.fail {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
		require.Equal(t, s.wantOpen, b.IsOpen(), "after step %d", i)
	}
}

func TestBreaker_NewIsClosed(t *testing.T) {
	b := New("api.github.com")
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "api.github.com", b.Name())
	assert.True(t, b.Allow())
}

func TestBreaker_Sequences(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []step
	}{
		{
			name: "opens on the threshold failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true}, {fail: true}, {fail: true, wantOpen: true},
			},
		},
		{
			name: "success resets the failure run",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true}, {fail: true}, {fail: false},
				{fail: true}, {fail: true}, {fail: true, wantOpen: true},
			},
		},
		{
			name: "closes after the success run",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, wantOpen: true}, {fail: false, wantOpen: true}, {fail: false},
			},
		},
		{
			name: "failure while open restarts the success run",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(3)},
			steps: []step{
				{fail: true, wantOpen: true},
				{fail: false, wantOpen: true}, {fail: false, wantOpen: true},
				{fail: true, wantOpen: true},
				{fail: false, wantOpen: true}, {fail: false, wantOpen: true}, {fail: false},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replay(t, New("hub.snapshot.org", tt.opts...), tt.steps)
		})
	}
}

func TestBreaker_ReportsTransitionsOnce(t *testing.T) {
	b := New("immunefi.com", WithFailureThreshold(1), WithSuccessThreshold(1))

	fallback, change := b.RecordFailure()
	assert.True(t, fallback)
	assert.True(t, change.Opened)

	fallback, change = b.RecordFailure()
	assert.True(t, fallback)
	assert.Equal(t, StateChange{}, change)

	primary, change := b.RecordSuccess()
	assert.True(t, primary)
	assert.True(t, change.Closed)
}

func TestBreaker_ResetCloses(t *testing.T) {
	b := New("api.etherscan.io", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TrialCallAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("api.llama.fi",
		WithFailureThreshold(1),
		WithCooldown(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow(), "a failed trial call restarts the cooldown")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
}
