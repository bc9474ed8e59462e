package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAttempt("api.github.com", "rate_limited")
	m.ObserveAttempt("api.github.com", "rate_limited")
	m.IncCacheLookup("hit")
	m.AddCacheEvictions("lru", 3)
	m.AddCacheEvictions("lru", 0)
	m.SetCacheEntries(7)
	m.ObserveSource("audits", "ok", 120*time.Millisecond)
	m.ObserveReport("complete", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransportAttempts.WithLabelValues("api.github.com", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheEvictions.WithLabelValues("lru")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceResults.WithLabelValues("audits", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsBuilt.WithLabelValues("complete")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("h", "ok")
		m.ObserveLimiterWait("h", time.Millisecond)
		m.IncBreakerOpened("h")
		m.IncCacheLookup("miss")
		m.AddCacheEvictions("expired", 1)
		m.SetCacheEntries(1)
		m.ObserveSource("onchain", "ok", time.Millisecond)
		m.ObserveReport("complete", time.Millisecond)
		m.IncResolve("resolved")
		m.IncAuditDropped()
	})
}
