package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing, so components can be built without it in tests.
type Metrics struct {
	// Transport: one observation per HTTP attempt, labelled by outcome
	// (ok, timeout, rate_limited, server_error, client_error, budget, circuit_open)
	TransportAttempts *prometheus.CounterVec
	LimiterWait       *prometheus.HistogramVec
	BreakerOpened     *prometheus.CounterVec

	// Cache lookups by result: hit, miss, shared, store_hit
	CacheLookups   *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheEntries   prometheus.Gauge

	SourceDuration *prometheus.HistogramVec
	SourceResults  *prometheus.CounterVec

	ReportsBuilt    *prometheus.CounterVec
	ReportDuration  prometheus.Histogram
	ResolveOutcomes *prometheus.CounterVec

	AuditDropped prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransportAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_transport_attempts_total",
			Help: "HTTP attempts against provider hosts by outcome",
		}, []string{"host", "outcome"}),
		LimiterWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diligence_transport_limiter_wait_seconds",
			Help:    "Time spent waiting for a per-host rate limit token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"host"}),
		BreakerOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_transport_breaker_opened_total",
			Help: "Circuit breaker open transitions per host",
		}, []string{"host"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_cache_lookups_total",
			Help: "Response cache lookups by result",
		}, []string{"result"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_cache_evictions_total",
			Help: "Response cache evictions by reason",
		}, []string{"reason"}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "diligence_cache_entries",
			Help: "Entries currently held by the in-process response cache",
		}),
		SourceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diligence_source_duration_seconds",
			Help:    "Duration of a single source adapter collection",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"section"}),
		SourceResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_source_results_total",
			Help: "Source adapter results by section and status",
		}, []string{"section", "status"}),
		ReportsBuilt: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_reports_total",
			Help: "Reports built by status (complete, partially_degraded)",
		}, []string{"status"}),
		ReportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "diligence_report_duration_seconds",
			Help:    "End to end report build duration",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
		}),
		ResolveOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diligence_resolve_outcomes_total",
			Help: "Protocol name resolutions by outcome (resolved, not_found)",
		}, []string{"outcome"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "diligence_audit_events_dropped_total",
			Help: "Audit events dropped because the emitter buffer was full",
		}),
	}
}

func (m *Metrics) ObserveAttempt(host, outcome string) {
	if m != nil {
		m.TransportAttempts.WithLabelValues(host, outcome).Inc()
	}
}

func (m *Metrics) ObserveLimiterWait(host string, d time.Duration) {
	if m != nil {
		m.LimiterWait.WithLabelValues(host).Observe(d.Seconds())
	}
}

func (m *Metrics) IncBreakerOpened(host string) {
	if m != nil {
		m.BreakerOpened.WithLabelValues(host).Inc()
	}
}

func (m *Metrics) IncCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AddCacheEvictions(reason string, n int) {
	if m != nil && n > 0 {
		m.CacheEvictions.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) SetCacheEntries(n int) {
	if m != nil {
		m.CacheEntries.Set(float64(n))
	}
}

func (m *Metrics) ObserveSource(section, status string, d time.Duration) {
	if m != nil {
		m.SourceDuration.WithLabelValues(section).Observe(d.Seconds())
		m.SourceResults.WithLabelValues(section, status).Inc()
	}
}

func (m *Metrics) ObserveReport(status string, d time.Duration) {
	if m != nil {
		m.ReportsBuilt.WithLabelValues(status).Inc()
		m.ReportDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncResolve(outcome string) {
	if m != nil {
		m.ResolveOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncAuditDropped() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}
