package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"diligence/internal/platform/logger"
	"diligence/internal/platform/metrics"
	"diligence/pkg/platform/sentinel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type CacheSuite struct {
	suite.Suite
	now     time.Time
	metrics *metrics.Metrics
	cache   *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.cache = New(
		WithClock(func() time.Time { return s.now }),
		WithMetrics(s.metrics),
		WithLogger(logger.Discard()),
	)
}

func (s *CacheSuite) counting(payload string) (FetchFunc, *atomic.Int32) {
	var n atomic.Int32
	return func(context.Context) ([]byte, error) {
		n.Add(1)
		return []byte(payload), nil
	}, &n
}

func (s *CacheSuite) TestHitWithinTTL() {
	fetch, calls := s.counting("v1")
	fp := FingerprintOf("GET", "https://api.llama.fi/protocol/aave", nil)

	got, err := s.cache.GetOrFetch(context.Background(), fp, time.Hour, fetch)
	s.Require().NoError(err)
	s.Equal("v1", string(got))

	s.now = s.now.Add(59 * time.Minute)
	got, err = s.cache.GetOrFetch(context.Background(), fp, time.Hour, fetch)
	s.Require().NoError(err)
	s.Equal("v1", string(got))
	s.EqualValues(1, calls.Load())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheLookups.WithLabelValues("hit")))
}

func (s *CacheSuite) TestExpiredEntryRefetches() {
	fetch, calls := s.counting("v")
	fp := Fingerprint("k")

	_, err := s.cache.GetOrFetch(context.Background(), fp, time.Minute, fetch)
	s.Require().NoError(err)
	s.now = s.now.Add(time.Minute)
	_, err = s.cache.GetOrFetch(context.Background(), fp, time.Minute, fetch)
	s.Require().NoError(err)
	s.EqualValues(2, calls.Load())
}

func (s *CacheSuite) TestErrorsAreNotCached() {
	boom := errors.New("boom")
	var calls int
	fetch := func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}

	_, err := s.cache.GetOrFetch(context.Background(), "k", time.Hour, fetch)
	s.ErrorIs(err, boom)
	s.Zero(s.cache.Len())

	got, err := s.cache.GetOrFetch(context.Background(), "k", time.Hour, fetch)
	s.Require().NoError(err)
	s.Equal("ok", string(got))
}

func (s *CacheSuite) TestZeroTTLBypasses() {
	fetch, calls := s.counting("v")
	for range 3 {
		_, err := s.cache.GetOrFetch(context.Background(), "k", 0, fetch)
		s.Require().NoError(err)
	}
	s.EqualValues(3, calls.Load())
	s.Zero(s.cache.Len())
}

func (s *CacheSuite) TestRetentionCapsTTL() {
	c := New(WithClock(func() time.Time { return s.now }), WithRetention(time.Minute))
	fetch, calls := s.counting("v")

	_, err := c.GetOrFetch(context.Background(), "k", 24*time.Hour, fetch)
	s.Require().NoError(err)
	s.now = s.now.Add(2 * time.Minute)
	_, err = c.GetOrFetch(context.Background(), "k", 24*time.Hour, fetch)
	s.Require().NoError(err)
	s.EqualValues(2, calls.Load())
}

func (s *CacheSuite) TestCapacityEvictsLeastRecentlyUsed() {
	c := New(WithClock(func() time.Time { return s.now }), WithMaxEntries(2), WithMetrics(s.metrics))
	ctx := context.Background()
	fetchA, callsA := s.counting("a")
	fetchB, _ := s.counting("b")
	fetchC, _ := s.counting("c")

	_, _ = c.GetOrFetch(ctx, "a", time.Hour, fetchA)
	_, _ = c.GetOrFetch(ctx, "b", time.Hour, fetchB)
	_, _ = c.GetOrFetch(ctx, "a", time.Hour, fetchA) // a is now most recent
	_, _ = c.GetOrFetch(ctx, "c", time.Hour, fetchC) // evicts b

	s.Equal(2, c.Len())
	_, _ = c.GetOrFetch(ctx, "a", time.Hour, fetchA)
	s.EqualValues(1, callsA.Load())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheEvictions.WithLabelValues("capacity")))
}

func (s *CacheSuite) TestPurgeAndClear() {
	ctx := context.Background()
	fetch, _ := s.counting("v")
	_, _ = s.cache.GetOrFetch(ctx, "short", time.Minute, fetch)
	_, _ = s.cache.GetOrFetch(ctx, "long", time.Hour, fetch)

	s.now = s.now.Add(5 * time.Minute)
	s.Equal(1, s.cache.Purge())
	s.Equal(1, s.cache.Len())

	s.cache.Clear()
	s.Zero(s.cache.Len())
}

func (s *CacheSuite) TestInvalidate() {
	ctx := context.Background()
	fetch, calls := s.counting("v")
	_, _ = s.cache.GetOrFetch(ctx, "k", time.Hour, fetch)
	s.cache.Invalidate(ctx, "k")
	_, _ = s.cache.GetOrFetch(ctx, "k", time.Hour, fetch)
	s.EqualValues(2, calls.Load())
}

func TestGetOrFetch_CollapsesConcurrentMisses(t *testing.T) {
	c := New(WithLogger(logger.Discard()))
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make([]string, callers)
	started.Add(callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			got, err := c.GetOrFetch(context.Background(), "same", time.Hour, fetch)
			assert.NoError(t, err)
			results[i] = string(got)
		}()
	}
	started.Wait()
	// give every caller time to join the flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestGetOrFetch_WaiterHonorsOwnContext(t *testing.T) {
	c := New(WithLogger(logger.Discard()))
	release := make(chan struct{})
	defer close(release)

	leaderStarted := make(chan struct{})
	go func() {
		_, _ = c.GetOrFetch(context.Background(), "slow", time.Hour, func(context.Context) ([]byte, error) {
			close(leaderStarted)
			<-release
			return []byte("late"), nil
		})
	}()
	<-leaderStarted

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.GetOrFetch(ctx, "slow", time.Hour, func(context.Context) ([]byte, error) {
		t.Error("waiter must not start its own fetch")
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGetOrFetch_RetriesWhenLeaderCancelled(t *testing.T) {
	c := New(WithLogger(logger.Discard()))
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	inFlight := make(chan struct{})

	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(leaderCtx, "k", time.Hour, func(ctx context.Context) ([]byte, error) {
			close(inFlight)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		leaderDone <- err
	}()
	<-inFlight

	waiterDone := make(chan []byte, 1)
	go func() {
		got, err := c.GetOrFetch(context.Background(), "k", time.Hour, func(context.Context) ([]byte, error) {
			return []byte("mine"), nil
		})
		assert.NoError(t, err)
		waiterDone <- got
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	assert.ErrorIs(t, <-leaderDone, context.Canceled)
	assert.Equal(t, "mine", string(<-waiterDone))
}

func TestStartAndClose(t *testing.T) {
	c := New(WithSweepInterval(time.Millisecond), WithLogger(logger.Discard()))
	c.Start(context.Background())
	c.Close()
	c.Close()
}

type memStore struct {
	mu      sync.Mutex
	entries map[Fingerprint]Entry
	failSet bool
}

func (m *memStore) Get(_ context.Context, fp Fingerprint) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	if !ok {
		return Entry{}, sentinel.ErrNotFound
	}
	return e, nil
}

func (m *memStore) Set(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return sentinel.ErrUnavailable
	}
	m.entries[e.Fingerprint] = e
	return nil
}

func (m *memStore) Delete(_ context.Context, fp Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fp)
	return nil
}

func TestSecondTier(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := &memStore{entries: map[Fingerprint]Entry{}}
	ctx := context.Background()

	first := New(WithStore(store), WithClock(clock), WithLogger(logger.Discard()))
	_, err := first.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("from-provider"), nil
	})
	require.NoError(t, err)
	require.Contains(t, store.entries, Fingerprint("k"))

	// a fresh process finds the entry in the second tier
	second := New(WithStore(store), WithClock(clock), WithLogger(logger.Discard()))
	got, err := second.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		t.Error("second tier hit must not fetch")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-provider", string(got))
	assert.Equal(t, 1, second.Len())

	second.Invalidate(ctx, "k")
	assert.NotContains(t, store.entries, Fingerprint("k"))
}

func TestSecondTierFailuresAreIgnored(t *testing.T) {
	store := &memStore{entries: map[Fingerprint]Entry{}, failSet: true}
	c := New(WithStore(store), WithLogger(logger.Discard()))
	got, err := c.GetOrFetch(context.Background(), "k", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}
