package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendSQLite = "sqlite"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	NotifyWebhookURL  string `env:"NOTIFY_WEBHOOK_URL"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`

	IndexerURL  string `env:"INDEXER_URL,default=https://testnet-idx.algonode.cloud"`
	AlgodURL    string `env:"ALGOD_URL,default=https://testnet-api.algonode.cloud"`
	AlgodToken  string `env:"ALGOD_TOKEN"`
	SignerURL   string `env:"SIGNER_URL,default=http://localhost:8090"`
	ExplorerURL string `env:"EXPLORER_URL,default=https://testnet.explorer.perawallet.app"`

	CacheBackend    string `env:"CACHE_BACKEND,default=redis"`
	CacheSQLitePath string `env:"CACHE_SQLITE_PATH,default=podledger-cache.db"`

	IndexerRateLimitPerSec int           `env:"INDEXER_RATE_LIMIT_PER_SEC,default=10"`
	PollInterval           time.Duration `env:"POLL_INTERVAL,default=5s"`
	PollMaxTicks           int           `env:"POLL_MAX_TICKS,default=36"`
	PendingTimeout         time.Duration `env:"PENDING_TIMEOUT,default=3m"`
	DueScanInterval        time.Duration `env:"DUE_SCAN_INTERVAL,default=30s"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	Address  string `env:"ADDRESS"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("DATABASE_DSN must not be empty")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL must not be empty")
	}

	switch c.CacheBackend {
	case CacheBackendRedis, CacheBackendSQLite:
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q: want %s or %s", c.CacheBackend, CacheBackendRedis, CacheBackendSQLite)
	}
	if c.CacheBackend == CacheBackendSQLite && c.CacheSQLitePath == "" {
		return fmt.Errorf("CACHE_SQLITE_PATH is required for the sqlite cache backend")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"POLL_INTERVAL", c.PollInterval},
		{"PENDING_TIMEOUT", c.PendingTimeout},
		{"DUE_SCAN_INTERVAL", c.DueScanInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.PollMaxTicks <= 0 {
		return fmt.Errorf("POLL_MAX_TICKS must be positive, got %d", c.PollMaxTicks)
	}
	if c.IndexerRateLimitPerSec <= 0 {
		return fmt.Errorf("INDEXER_RATE_LIMIT_PER_SEC must be positive, got %d", c.IndexerRateLimitPerSec)
	}
	if c.NotifyWebhookURL != "" && c.RabbitMQURL == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL requires RABBITMQ_URL")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.APIPort)
	}
	return nil
}
