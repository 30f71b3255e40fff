package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/sales"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// PGDSN selects postgres. When empty the server runs on the in-memory store.
	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	SaleMaxAttempts int           `envconfig:"SALE_MAX_ATTEMPTS" default:"5"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"10ms"`
	// StockUnitsPerItem maps product ids to stock units per sold item, e.g. "7:25,8:50".
	StockUnitsPerItem map[string]string `envconfig:"STOCK_UNITS_PER_ITEM"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	IntegrityCron        string `envconfig:"INTEGRITY_CRON" default:"30 1 * * *"`
	IntegrityConcurrency int    `envconfig:"INTEGRITY_CONCURRENCY" default:"4"`
	WorkerConcurrency    int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr    string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	units sales.UnitTable
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SaleMaxAttempts <= 0 {
		return nil, fmt.Errorf("SALE_MAX_ATTEMPTS must be positive, got %d", cfg.SaleMaxAttempts)
	}
	if cfg.RateLimitPerMinute <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", cfg.RateLimitPerMinute)
	}
	units, err := parseUnitTable(cfg.StockUnitsPerItem)
	if err != nil {
		return nil, err
	}
	cfg.units = units
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UsesPostgres reports whether a database DSN was configured.
func (c *Config) UsesPostgres() bool {
	return c != nil && c.PGDSN != ""
}

// Units returns the parsed stock unit table.
func (c *Config) Units() sales.UnitTable {
	if c == nil {
		return nil
	}
	return c.units
}

func parseUnitTable(raw map[string]string) (sales.UnitTable, error) {
	table := make(sales.UnitTable, len(raw))
	for k, v := range raw {
		productID, err := strconv.ParseInt(k, 10, 64)
		if err != nil || productID <= 0 {
			return nil, fmt.Errorf("STOCK_UNITS_PER_ITEM: invalid product id %q", k)
		}
		units, err := decimal.NewFromString(v)
		if err != nil || !units.IsPositive() {
			return nil, fmt.Errorf("STOCK_UNITS_PER_ITEM: product %d needs a positive unit count, got %q", productID, v)
		}
		table[productID] = units
	}
	return table, nil
}
