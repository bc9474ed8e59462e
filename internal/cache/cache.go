// Package cache is the response cache shared by every source adapter. It
// keys provider payloads by request fingerprint, collapses concurrent
// fetches of the same fingerprint into one, and optionally mirrors entries
// to a second tier so restarts do not refetch everything.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"diligence/internal/platform/metrics"
	"diligence/pkg/platform/sentinel"
)

const (
	DefaultMaxEntries    = 512
	DefaultRetention     = 6 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Entry is one cached payload. Payload is shared between readers and must
// not be modified.
type Entry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Payload     []byte      `json:"payload"`
	FetchedAt   time.Time   `json:"fetched_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// FetchFunc produces a payload on a miss. Errors are never cached.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Store is an optional second tier consulted on in-process misses. Get
// returns sentinel.ErrNotFound (possibly wrapped) on a miss.
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (Entry, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, fp Fingerprint) error
}

type Cache struct {
	mu    sync.Mutex
	items *lru

	flight    singleflight.Group
	store     Store
	retention time.Duration
	sweep     time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Cache)

func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.items = newLRU(n)
		}
	}
}

// WithRetention bounds how long any entry may live regardless of its ttl.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retention = d
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweep = d
		}
	}
}

func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		items:     newLRU(DefaultMaxEntries),
		retention: DefaultRetention,
		sweep:     DefaultSweepInterval,
		logger:    slog.Default(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the fresh payload for fp, calling fetch on a miss.
// A ttl <= 0 bypasses the cache entirely. Concurrent callers with the same
// fingerprint share one fetch, but each returns as soon as its own ctx is
// done.
func (c *Cache) GetOrFetch(ctx context.Context, fp Fingerprint, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if ttl <= 0 {
		c.metrics.IncCacheLookup("bypass")
		return fetch(ctx)
	}
	if e, ok := c.lookup(fp); ok {
		c.metrics.IncCacheLookup("hit")
		return e.Payload, nil
	}

	payload, err, shared := c.wait(ctx, fp, ttl, fetch)
	// A shared flight can fail only because its leader's context ended. If
	// ours is still live, fetch on our own behalf once.
	if err != nil && shared && isContextErr(err) && ctx.Err() == nil {
		payload, err, _ = c.wait(ctx, fp, ttl, fetch)
	}
	return payload, err
}

func (c *Cache) wait(ctx context.Context, fp Fingerprint, ttl time.Duration, fetch FetchFunc) ([]byte, error, bool) {
	ch := c.flight.DoChan(string(fp), func() (any, error) {
		return c.load(ctx, fp, ttl, fetch)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-ch:
		if res.Shared {
			c.metrics.IncCacheLookup("shared")
		}
		if res.Err != nil {
			return nil, res.Err, res.Shared
		}
		return res.Val.([]byte), nil, res.Shared
	}
}

// load runs once per in-flight fingerprint.
func (c *Cache) load(ctx context.Context, fp Fingerprint, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if e, ok := c.lookup(fp); ok {
		c.metrics.IncCacheLookup("hit")
		return e.Payload, nil
	}
	if e, ok := c.fromStore(ctx, fp); ok {
		c.metrics.IncCacheLookup("store_hit")
		c.insert(e)
		return e.Payload, nil
	}

	c.metrics.IncCacheLookup("miss")
	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if c.retention > 0 {
		ttl = min(ttl, c.retention)
	}
	e := Entry{Fingerprint: fp, Payload: payload, FetchedAt: now, ExpiresAt: now.Add(ttl)}
	c.insert(e)
	if c.store != nil {
		if err := c.store.Set(ctx, e); err != nil {
			c.logger.WarnContext(ctx, "cache store write failed", "fingerprint", string(fp), "error", err)
		}
	}
	return payload, nil
}

func (c *Cache) lookup(fp Fingerprint) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.get(fp, c.now())
}

func (c *Cache) insert(e Entry) {
	c.mu.Lock()
	evicted := c.items.put(e)
	n := c.items.len()
	c.mu.Unlock()

	c.metrics.AddCacheEvictions("capacity", evicted)
	c.metrics.SetCacheEntries(n)
}

func (c *Cache) fromStore(ctx context.Context, fp Fingerprint) (Entry, bool) {
	if c.store == nil {
		return Entry{}, false
	}
	e, err := c.store.Get(ctx, fp)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			c.logger.WarnContext(ctx, "cache store read failed", "fingerprint", string(fp), "error", err)
		}
		return Entry{}, false
	}
	now := c.now()
	if !now.Before(e.ExpiresAt) || (c.retention > 0 && now.Sub(e.FetchedAt) >= c.retention) {
		return Entry{}, false
	}
	return e, true
}

// Invalidate drops fp from both tiers, typically after its payload failed
// to decode.
func (c *Cache) Invalidate(ctx context.Context, fp Fingerprint) {
	c.mu.Lock()
	c.items.delete(fp)
	n := c.items.len()
	c.mu.Unlock()
	c.metrics.SetCacheEntries(n)

	if c.store != nil {
		if err := c.store.Delete(ctx, fp); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			c.logger.WarnContext(ctx, "cache store delete failed", "fingerprint", string(fp), "error", err)
		}
	}
}

// Purge removes expired entries and entries older than the retention
// window, returning how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	removed := c.items.purge(c.now(), c.retention)
	n := c.items.len()
	c.mu.Unlock()

	c.metrics.AddCacheEvictions("expired", removed)
	c.metrics.SetCacheEntries(n)
	return removed
}

// Clear empties the in-process tier. The second tier is left alone.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items.reset()
	c.mu.Unlock()
	c.metrics.SetCacheEntries(0)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.len()
}

// Start runs the periodic purge until ctx is done or Close is called.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if n := c.Purge(); n > 0 {
					c.logger.Debug("cache sweep", "removed", n)
				}
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit. Safe to call more than
// once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
