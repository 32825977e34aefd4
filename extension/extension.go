// Package extension provides the Forge extension adapter for Stockpile.
//
// It implements the forge.Extension interface to integrate a
// stockpile.Ledger into a Forge application with DI registration and
// lifecycle management.
//
// Configuration can be provided programmatically via Option functions,
// via YAML configuration files under "extensions.stockpile" or "stockpile"
// keys, or read from the environment with ConfigFromEnv.
package extension

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/replica/redisfeed"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/state/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "stockpile"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Transactional article storage"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts a stockpile.Ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	ledger     *stockpile.Ledger
	repo       state.Repository
	ledgerOpts []stockpile.Option

	redis *goredis.Client
	feed  *redisfeed.Feed
}

// New creates a new Stockpile Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger returns the underlying ledger. This is nil until Register is called.
func (e *Extension) Ledger() *stockpile.Ledger { return e.ledger }

// Feed returns the Redis change feed, or nil when it is not configured.
func (e *Extension) Feed() *redisfeed.Feed { return e.feed }

// Register implements [forge.Extension]. It loads configuration,
// builds the ledger, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.repo == nil {
		e.repo = memory.New()
	}

	opts, err := e.buildLedgerOpts()
	if err != nil {
		return err
	}
	e.ledger = stockpile.New(e.repo, opts...)

	if err := vessel.Provide(fapp.Container(), func() (*stockpile.Ledger, error) {
		return e.ledger, nil
	}); err != nil {
		return err
	}
	if e.feed != nil {
		return vessel.Provide(fapp.Container(), func() (*redisfeed.Feed, error) {
			return e.feed, nil
		})
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.ledger == nil {
		return errors.New("stockpile: extension not initialized")
	}

	if e.feed != nil {
		e.feed.Start(context.WithoutCancel(ctx))
	}

	if !e.config.DisableMigrate {
		if err := e.ledger.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension]. The ledger flushes before the feed
// drains so the last events still reach Redis.
func (e *Extension) Stop(_ context.Context) error {
	var errs stockpile.MultiError
	if e.ledger != nil {
		errs.Add(e.ledger.Stop())
	}
	if e.feed != nil {
		e.feed.Stop()
	}
	if e.redis != nil {
		errs.Add(e.redis.Close())
	}
	e.MarkStopped()
	return errs.Err()
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.repo == nil {
		return errors.New("stockpile: repository not initialized")
	}
	if err := e.repo.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// buildLedgerOpts constructs stockpile.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() ([]stockpile.Option, error) {
	policy, err := e.config.desyncPolicy()
	if err != nil {
		return nil, err
	}

	opts := make([]stockpile.Option, 0, len(e.ledgerOpts)+3)
	opts = append(opts,
		stockpile.WithFlushConfig(e.config.FlushBatchSize, e.config.FlushInterval),
		stockpile.WithDesyncPolicy(policy),
	)

	if e.config.RedisAddr != "" {
		e.redis = goredis.NewClient(&goredis.Options{Addr: e.config.RedisAddr})
		feedOpts := []redisfeed.Option{}
		if e.config.FeedPrefix != "" {
			feedOpts = append(feedOpts, redisfeed.WithPrefix(e.config.FeedPrefix))
		}
		e.feed = redisfeed.NewFeed(e.redis, feedOpts...)
		opts = append(opts, stockpile.WithListener(e.feed))
	}

	// Pass-through options last so they win.
	opts = append(opts, e.ledgerOpts...)
	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("stockpile: configuration is required but not found in config files; " +
				"ensure 'extensions.stockpile' or 'stockpile' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	if _, err := e.config.desyncPolicy(); err != nil {
		return fmt.Errorf("stockpile: invalid configuration: %w", err)
	}

	e.Logger().Debug("stockpile: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("flush_batch_size", e.config.FlushBatchSize),
		forge.F("flush_interval", e.config.FlushInterval),
		forge.F("desync_policy", e.config.DesyncPolicy),
		forge.F("redis_feed", e.config.RedisAddr != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.stockpile", "stockpile"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("stockpile: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("stockpile: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.FlushBatchSize == 0 {
		cfg.FlushBatchSize = defaults.FlushBatchSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.DesyncPolicy == "" {
		cfg.DesyncPolicy = defaults.DesyncPolicy
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.FlushBatchSize == 0 {
		yamlConfig.FlushBatchSize = programmaticConfig.FlushBatchSize
	}
	if yamlConfig.FlushInterval == 0 {
		yamlConfig.FlushInterval = programmaticConfig.FlushInterval
	}
	if yamlConfig.DesyncPolicy == "" {
		yamlConfig.DesyncPolicy = programmaticConfig.DesyncPolicy
	}
	if yamlConfig.RedisAddr == "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}
	if yamlConfig.FeedPrefix == "" {
		yamlConfig.FeedPrefix = programmaticConfig.FeedPrefix
	}

	return mergeWithDefaults(yamlConfig)
}
