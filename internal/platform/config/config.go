package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Addr        string
	LogLevel    string
	CatalogPath string

	Redis     RedisConfig
	Kafka     KafkaConfig
	Transport TransportConfig
	Cache     CacheConfig
	Resolver  ResolverConfig
	Report    ReportConfig
	Providers ProvidersConfig
}

// RedisConfig enables the shared second-tier response cache. An empty URL
// disables it.
type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the report audit sink. No brokers means audit events
// stay in memory.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type TransportConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
	RequestTimeout time.Duration
	// DefaultRate is requests per second for hosts without an explicit rate.
	DefaultRate     float64
	GitHubCallLimit int
	BreakerFailures int
	BreakerCooldown time.Duration
	UserAgent       string
}

type CacheConfig struct {
	MaxEntries    int
	Retention     time.Duration
	SweepInterval time.Duration
}

// ResolverConfig holds the fuzzy match acceptance policy.
type ResolverConfig struct {
	Threshold float64
	Margin    float64
}

type ReportConfig struct {
	HistoryWindowDays int
	Timeout           time.Duration
}

// ProvidersConfig holds provider endpoints and optional credentials. Base URLs
// are overridable so tests and mirrors can stand in for the public APIs.
type ProvidersConfig struct {
	LlamaBaseURL     string
	GitHubBaseURL    string
	GitHubToken      string
	SnapshotURL      string
	ImmunefiBaseURL  string
	EtherscanBaseURL string
	EtherscanAPIKey  string
}

// Default returns the configuration used when no environment overrides are set.
func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		Redis: RedisConfig{
			KeyPrefix:    "diligence:cache:",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Kafka: KafkaConfig{Topic: "diligence.reports"},
		Transport: TransportConfig{
			MaxAttempts:     3,
			BaseBackoff:     500 * time.Millisecond,
			MaxBackoff:      8 * time.Second,
			JitterFactor:    0.2,
			RequestTimeout:  15 * time.Second,
			DefaultRate:     2,
			GitHubCallLimit: 8,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			UserAgent:       "diligence/1.0",
		},
		Cache: CacheConfig{
			MaxEntries:    512,
			Retention:     6 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Resolver: ResolverConfig{
			Threshold: 0.75,
			Margin:    0.10,
		},
		Report: ReportConfig{
			HistoryWindowDays: 180,
			Timeout:           45 * time.Second,
		},
		Providers: ProvidersConfig{
			LlamaBaseURL:     "https://api.llama.fi",
			GitHubBaseURL:    "https://api.github.com",
			SnapshotURL:      "https://hub.snapshot.org/graphql",
			ImmunefiBaseURL:  "https://immunefi.com",
			EtherscanBaseURL: "https://api.etherscan.io",
		},
	}
}

// FromEnv builds a Config from environment variables so main stays lean.
// Numeric knobs are clamped to sane ranges rather than rejected.
func FromEnv() Config {
	cfg := Default()

	cfg.Addr = envString("DILIGENCE_ADDR", cfg.Addr)
	cfg.LogLevel = envString("DILIGENCE_LOG_LEVEL", cfg.LogLevel)
	cfg.CatalogPath = envString("DILIGENCE_CATALOG_PATH", "")

	cfg.Redis.URL = envString("REDIS_URL", "")
	cfg.Redis.KeyPrefix = envString("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)
	cfg.Redis.PoolSize = clampInt(envInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize), 1, 256)

	if brokers := envString("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = splitCSV(brokers)
	}
	cfg.Kafka.Topic = envString("KAFKA_AUDIT_TOPIC", cfg.Kafka.Topic)

	t := &cfg.Transport
	t.MaxAttempts = clampInt(envInt("DILIGENCE_MAX_ATTEMPTS", t.MaxAttempts), 1, 5)
	t.BaseBackoff = clampDuration(envDuration("DILIGENCE_BASE_BACKOFF", t.BaseBackoff), 10*time.Millisecond, 10*time.Second)
	t.MaxBackoff = clampDuration(envDuration("DILIGENCE_MAX_BACKOFF", t.MaxBackoff), t.BaseBackoff, time.Minute)
	t.RequestTimeout = clampDuration(envDuration("DILIGENCE_REQUEST_TIMEOUT", t.RequestTimeout), time.Second, 2*time.Minute)
	t.DefaultRate = clampFloat(envFloat("DILIGENCE_DEFAULT_RATE", t.DefaultRate), 0.1, 50)
	t.GitHubCallLimit = clampInt(envInt("DILIGENCE_GITHUB_CALL_LIMIT", t.GitHubCallLimit), 1, 60)
	t.UserAgent = envString("DILIGENCE_USER_AGENT", t.UserAgent)

	cfg.Cache.MaxEntries = clampInt(envInt("DILIGENCE_CACHE_ENTRIES", cfg.Cache.MaxEntries), 16, 100_000)
	cfg.Cache.Retention = clampDuration(envDuration("DILIGENCE_CACHE_RETENTION", cfg.Cache.Retention), time.Minute, 7*24*time.Hour)

	cfg.Resolver.Threshold = clampFloat(envFloat("DILIGENCE_MATCH_THRESHOLD", cfg.Resolver.Threshold), 0.5, 0.99)
	cfg.Resolver.Margin = clampFloat(envFloat("DILIGENCE_MATCH_MARGIN", cfg.Resolver.Margin), 0, 0.5)

	cfg.Report.HistoryWindowDays = clampInt(envInt("DILIGENCE_HISTORY_DAYS", cfg.Report.HistoryWindowDays), 1, 730)
	cfg.Report.Timeout = clampDuration(envDuration("DILIGENCE_REPORT_TIMEOUT", cfg.Report.Timeout), time.Second, 5*time.Minute)

	p := &cfg.Providers
	p.LlamaBaseURL = envString("DEFILLAMA_BASE_URL", p.LlamaBaseURL)
	p.GitHubBaseURL = envString("GITHUB_BASE_URL", p.GitHubBaseURL)
	p.GitHubToken = envString("GITHUB_TOKEN", "")
	p.SnapshotURL = envString("SNAPSHOT_URL", p.SnapshotURL)
	p.ImmunefiBaseURL = envString("IMMUNEFI_BASE_URL", p.ImmunefiBaseURL)
	p.EtherscanBaseURL = envString("ETHERSCAN_BASE_URL", p.EtherscanBaseURL)
	p.EtherscanAPIKey = envString("ETHERSCAN_API_KEY", "")

	return cfg
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(lo, min(v, hi))
}
