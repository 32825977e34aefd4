package extension

import (
	"time"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/state"
)

// Option configures the Stockpile Forge extension.
type Option func(*Extension)

// WithRepository sets the state repository for the ledger.
func WithRepository(r state.Repository) Option {
	return func(e *Extension) {
		e.repo = r
	}
}

// WithLedgerOption passes a stockpile.Option through to the underlying ledger.
func WithLedgerOption(opt stockpile.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, stockpile.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithFlushBatchSize sets the number of dirty stores that triggers a flush.
func WithFlushBatchSize(size int) Option {
	return func(e *Extension) { e.config.FlushBatchSize = size }
}

// WithFlushInterval sets how frequently dirty stores are flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.FlushInterval = d }
}

// WithRedisFeed publishes store events to the Redis server at addr.
func WithRedisFeed(addr string) Option {
	return func(e *Extension) { e.config.RedisAddr = addr }
}
