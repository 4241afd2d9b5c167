package cache

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-query-sync/internal/cacheinfra"
)

// Config exposes store configuration options for consumers of the cache package.
type Config struct {
	// Retention bounds how long an entry survives without being rewritten.
	// It is garbage collection for abandoned keys, not staleness: staleness
	// is judged per read against each query's own stale time.
	Retention time.Duration

	// Capacity caps the number of live entries; the oldest entries are
	// evicted once it is exceeded. Zero means unbounded. Eviction does not
	// notify subscribers, so size it above the expected live-key count;
	// an engine whose entry was evicted only notices on its next staleness,
	// focus, or interval check.
	Capacity uint64

	// Now supplies write timestamps. Defaults to time.Now.
	Now func() time.Time

	// Logger receives debug-level cache traffic. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// New constructs the default Store implementation using the provided
// configuration. The store runs a retention janitor until Close.
func New(cfg Config) (Store, error) {
	return cacheinfra.NewTTLStore(cfg.toInternal())
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Retention: c.Retention,
		Capacity:  c.Capacity,
		Now:       c.Now,
		Logger:    c.Logger,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Retention: cfg.Retention,
		Capacity:  cfg.Capacity,
		Now:       cfg.Now,
		Logger:    cfg.Logger,
	}
}

// FetcherConfig exposes shared-fetcher configuration options.
type FetcherConfig struct {
	// Capacity is how many keys the sharing window tracks at once.
	Capacity int

	// NumShards determines shard count for concurrent access.
	NumShards int

	// Window is how long a completed fetch keeps answering duplicate
	// requests before the next caller goes upstream again. Keep it short:
	// the window shares in-flight work, it does not cache.
	Window time.Duration

	// EvictionPercentage is what share of tracked keys to evict when the
	// window reaches capacity. Must be between 1 and 100.
	EvictionPercentage int
}

// DefaultFetcherConfig returns a FetcherConfig populated with sensible defaults.
func DefaultFetcherConfig() FetcherConfig {
	return convertFetcherFromInternal(cacheinfra.DefaultFetcherConfig())
}

// Validate checks whether the configuration values are valid.
func (c FetcherConfig) Validate() error {
	return c.toInternal().Validate()
}

// NewSharedFetcher constructs the default Fetcher implementation using the
// provided configuration.
func NewSharedFetcher(cfg FetcherConfig) (Fetcher, error) {
	return cacheinfra.NewSturdycFetcher(cfg.toInternal())
}

func (c FetcherConfig) toInternal() cacheinfra.FetcherConfig {
	return cacheinfra.FetcherConfig{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		Window:             c.Window,
		EvictionPercentage: c.EvictionPercentage,
	}
}

func convertFetcherFromInternal(cfg cacheinfra.FetcherConfig) FetcherConfig {
	return FetcherConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		Window:             cfg.Window,
		EvictionPercentage: cfg.EvictionPercentage,
	}
}
