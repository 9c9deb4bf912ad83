package app

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv             string        `envconfig:"APP_ENV" default:"development"`
	AppAddr            string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout     time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout    time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout  time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppShutdownTimeout time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	PGDSN       string        `envconfig:"PG_DSN" required:"true"`
	PGMaxConns  int32         `envconfig:"PG_MAX_CONNS" default:"10"`
	PGIdleTime  time.Duration `envconfig:"PG_MAX_CONN_IDLE_TIME" default:"5m"`
	RedisAddr   string        `envconfig:"REDIS_ADDR" required:"true"`
	RedisPass   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB     int           `envconfig:"REDIS_DB" default:"0"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	TokenPrefix string        `envconfig:"TOKEN_PREFIX" default:"pp_"`

	RBACCacheTTL          time.Duration `envconfig:"RBAC_CACHE_TTL" default:"60s"`
	RBACSeedOnBoot        bool          `envconfig:"RBAC_SEED_ON_BOOT" default:"true"`
	RBACExtendedCatalogue bool          `envconfig:"RBAC_EXTENDED_CATALOGUE" default:"true"`
	RBACReconcileCron     string        `envconfig:"RBAC_RECONCILE_CRON" default:"@hourly"`

	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	WorkerConcurrency  int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr  string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.RBACCacheTTL < 0 {
		return nil, errors.New("rbac cache ttl must not be negative")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
