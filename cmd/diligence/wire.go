package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"diligence/internal/audit"
	"diligence/internal/cache"
	"diligence/internal/evidence/sources"
	"diligence/internal/evidence/sources/defillama"
	"diligence/internal/evidence/sources/github"
	"diligence/internal/evidence/sources/immunefi"
	"diligence/internal/evidence/sources/redflags"
	"diligence/internal/evidence/sources/snapshot"
	"diligence/internal/platform/config"
	"diligence/internal/platform/metrics"
	redisclient "diligence/internal/platform/redis"
	"diligence/internal/protocol"
	"diligence/internal/report"
	"diligence/internal/resolver"
	"diligence/internal/transport"
)

const (
	auditBuffer      = 256
	auditPartitions  = 3
	auditReplication = 1
	setupTimeout     = 10 * time.Second
)

// app holds every long-lived component. Build it with newApp and release it
// with Close.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	redis   *redisclient.Client
	cache   *cache.Cache
	catalog *protocol.Catalog
	reports *report.Service

	publisher *audit.Publisher
	kafka     *audit.KafkaSink
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	a.redis, err = redisclient.New(setupCtx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	cacheOpts := []cache.Option{
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithRetention(cfg.Cache.Retention),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithMetrics(a.metrics),
		cache.WithLogger(logger),
	}
	if a.redis != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(cache.NewRedisStore(a.redis.Client, cfg.Redis.KeyPrefix)))
	}
	a.cache = cache.New(cacheOpts...)
	a.cache.Start(ctx)

	tr := newTransport(cfg.Transport, a.metrics, logger)
	fetcher := sources.NewFetcher(tr, a.cache)

	sink, err := a.auditSink(setupCtx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = audit.NewPublisher(sink,
		audit.WithAsyncBuffer(auditBuffer),
		audit.WithLogger(logger),
		audit.WithMetrics(a.metrics),
	)

	a.reports, err = report.New(
		resolver.New(catalog,
			resolver.WithThreshold(cfg.Resolver.Threshold),
			resolver.WithMargin(cfg.Resolver.Margin),
		),
		newAdapters(cfg.Providers, fetcher, logger),
		report.WithLogger(logger),
		report.WithMetrics(a.metrics),
		report.WithAuditPublisher(a.publisher),
		report.WithDefaults(cfg.Report.HistoryWindowDays, cfg.Report.Timeout),
		report.WithCallBudget(transport.HostOf(cfg.Providers.GitHubBaseURL), cfg.Transport.GitHubCallLimit),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func loadCatalog(path string) (*protocol.Catalog, error) {
	if path == "" {
		return protocol.LoadDefault()
	}
	c, err := protocol.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}

func newTransport(cfg config.TransportConfig, m *metrics.Metrics, logger *slog.Logger) *transport.Transport {
	burst := max(1, int(cfg.DefaultRate))
	return transport.New(
		transport.WithRetryPolicy(transport.RetryPolicy{
			MaxAttempts:  cfg.MaxAttempts,
			BaseDelay:    cfg.BaseBackoff,
			MaxDelay:     cfg.MaxBackoff,
			JitterFactor: cfg.JitterFactor,
		}),
		transport.WithDefaultRate(rate.Limit(cfg.DefaultRate), burst),
		transport.WithRequestTimeout(cfg.RequestTimeout),
		transport.WithBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithMetrics(m),
		transport.WithLogger(logger),
	)
}

// newAdapters builds one adapter per section. The red-flag screen reuses
// the DeFiLlama client for exploit history so both share cached responses.
func newAdapters(p config.ProvidersConfig, fetcher *sources.Fetcher, logger *slog.Logger) []sources.Adapter {
	llama := defillama.NewClient(p.LlamaBaseURL, fetcher)
	gh := github.NewClient(p.GitHubBaseURL, p.GitHubToken, fetcher)

	return []sources.Adapter{
		defillama.New(llama, defillama.WithLogger(logger)),
		github.NewAuditAdapter(gh, github.WithLogger(logger)),
		immunefi.New(p.ImmunefiBaseURL, fetcher, immunefi.WithLogger(logger)),
		snapshot.New(p.SnapshotURL, fetcher, snapshot.WithLogger(logger)),
		github.NewActivityAdapter(gh, github.WithLogger(logger)),
		redflags.New(p.EtherscanBaseURL, p.EtherscanAPIKey, fetcher, llama, redflags.WithLogger(logger)),
	}
}

// auditSink prefers Kafka when brokers are configured and falls back to an
// in-process sink otherwise.
func (a *app) auditSink(ctx context.Context) (audit.Sink, error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("audit events kept in memory; no kafka brokers configured")
		return audit.NewMemorySink(), nil
	}
	sink, err := audit.NewKafkaSink(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
	if err != nil {
		return nil, fmt.Errorf("kafka audit sink: %w", err)
	}
	if err := sink.EnsureTopic(ctx, auditPartitions, auditReplication); err != nil {
		a.logger.Warn("could not ensure audit topic; relying on broker auto-create",
			"topic", a.cfg.Kafka.Topic,
			"error", err,
		)
	}
	a.kafka = sink
	return sink, nil
}

// health reports the first failing dependency. Absent dependencies are
// healthy.
func (a *app) health(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.kafka != nil {
		if err := a.kafka.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending audit events before releasing the connections they
// travel over.
func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
}
