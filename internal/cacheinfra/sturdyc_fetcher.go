package cacheinfra

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// FetcherConfig holds the configuration for the sturdyc-backed shared fetcher.
type FetcherConfig struct {
	// Capacity is how many keys the sharing window tracks at once.
	// Must be greater than 0.
	Capacity int

	// NumShards determines shard count for concurrent access.
	// Must be greater than 0.
	NumShards int

	// Window is how long a completed fetch keeps answering duplicate
	// requests. Must be greater than 0 and should stay short; authoritative
	// storage lives in the store, not here.
	Window time.Duration

	// EvictionPercentage is what share of tracked keys to evict when the
	// window reaches capacity. Must be between 1 and 100.
	EvictionPercentage int
}

// DefaultFetcherConfig returns a FetcherConfig with sensible defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Capacity:           1000,
		NumShards:          64,
		Window:             100 * time.Millisecond,
		EvictionPercentage: 10,
	}
}

// Validate checks if the configuration values are valid.
func (c FetcherConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// SturdycFetcher deduplicates concurrent fetches per key through a sturdyc
// client. The client's TTL is deliberately tiny: it is a sharing window for
// in-flight results, not a cache.
type SturdycFetcher struct {
	client *sturdyc.Client[any]
}

// NewSturdycFetcher creates a new sturdyc-backed fetch coalescer.
func NewSturdycFetcher(cfg FetcherConfig) (*SturdycFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.Window,
		cfg.EvictionPercentage,
	)

	return &SturdycFetcher{client: client}, nil
}

// Fetch implements cache.Fetcher.Fetch. Concurrent callers for the same key
// share a single upstream call; callers arriving within the window after
// completion share its result.
func (f *SturdycFetcher) Fetch(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	return f.client.GetOrFetch(ctx, key, fn)
}

// Forget implements cache.Fetcher.Forget.
func (f *SturdycFetcher) Forget(key string) {
	f.client.Delete(key)
}
