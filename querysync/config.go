package querysync

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-query-sync/cache"
)

// QueryConfig tunes one query engine instance.
type QueryConfig struct {
	// StaleTime is how long a cached value is served without revalidation.
	// Zero revalidates on every activation.
	StaleTime time.Duration

	// RetryCount is how many retries follow a failed fetch, so total
	// attempts are RetryCount+1.
	RetryCount int

	// RetryDelay is the base retry delay; the nth retry waits n*RetryDelay.
	RetryDelay time.Duration

	// RefetchInterval, when positive, revalidates on a fixed cadence while
	// the engine is open.
	RefetchInterval time.Duration

	// Focus, when set, revalidates on focus events if the entry has gone
	// stale by then.
	Focus FocusSource

	// SharedFetcher, when set, coalesces concurrent fetches of the same key
	// across engine instances. Left nil, concurrent instances fetch
	// independently and the last write wins.
	SharedFetcher cache.Fetcher

	// Clock supplies time and timers. Defaults to the real clock.
	Clock Clock

	// Logger receives engine lifecycle and fetch events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultQueryConfig returns a QueryConfig populated with sensible defaults.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		StaleTime:  30 * time.Second,
		RetryCount: 3,
		RetryDelay: time.Second,
	}
}

// Validate checks whether the configuration values are valid.
func (c QueryConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryCount, validation.Min(0)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.RefetchInterval, validation.Min(time.Duration(0))),
	)
}

// MutationConfig tunes one mutation engine instance.
type MutationConfig[T, V any] struct {
	// InvalidatePatterns are store patterns invalidated after each confirmed
	// success. Patterns attached to the call context via
	// WithInvalidatePatterns are unioned in per call.
	InvalidatePatterns []string

	// OnSuccess runs after invalidation with the mutation result and the
	// variables that produced it.
	OnSuccess func(data T, vars V)

	// OnError runs after a failed mutation.
	OnError func(err error, vars V)

	// Logger receives mutation outcomes. Defaults to slog.Default().
	Logger *slog.Logger
}
