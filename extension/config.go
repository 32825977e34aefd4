package extension

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/stockpile/store"
)

// Config holds the Stockpile extension configuration.
// Fields can be set programmatically via Option functions, loaded from
// YAML configuration files (under "extensions.stockpile" or "stockpile"
// keys) or read from STOCKPILE_* environment variables.
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `env:"STOCKPILE_DISABLE_MIGRATE" json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// FlushBatchSize is the number of dirty stores that triggers an early
	// flush (default: 100).
	FlushBatchSize int `env:"STOCKPILE_FLUSH_BATCH_SIZE" envDefault:"100" json:"flush_batch_size" mapstructure:"flush_batch_size" yaml:"flush_batch_size"`

	// FlushInterval is how often dirty stores are flushed even if the batch
	// size has not been reached (default: 5s).
	FlushInterval time.Duration `env:"STOCKPILE_FLUSH_INTERVAL" envDefault:"5s" json:"flush_interval" mapstructure:"flush_interval" yaml:"flush_interval"`

	// DesyncPolicy is "resync" (default) or "panic".
	DesyncPolicy string `env:"STOCKPILE_DESYNC_POLICY" envDefault:"resync" json:"desync_policy" mapstructure:"desync_policy" yaml:"desync_policy"`

	// RedisAddr enables the change feed: every registered store publishes
	// its events to Redis at this address.
	RedisAddr string `env:"STOCKPILE_REDIS_ADDR" json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`

	// FeedPrefix is the Redis channel prefix of the change feed.
	FeedPrefix string `env:"STOCKPILE_FEED_PREFIX" json:"feed_prefix" mapstructure:"feed_prefix" yaml:"feed_prefix"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FlushBatchSize: 100,
		FlushInterval:  5 * time.Second,
		DesyncPolicy:   "resync",
	}
}

// ConfigFromEnv reads a Config from STOCKPILE_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.desyncPolicy(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// desyncPolicy maps the configured name to a store.DesyncPolicy.
func (c Config) desyncPolicy() (store.DesyncPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(c.DesyncPolicy)) {
	case "", "resync":
		return store.DesyncResync, nil
	case "panic":
		return store.DesyncPanic, nil
	default:
		return 0, fmt.Errorf("stockpile: unknown desync policy %q", c.DesyncPolicy)
	}
}
