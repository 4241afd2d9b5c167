package cache

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// FetchFn is the function signature engines expect when fetching from the
// source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Store exposes the cache operations the sync engines are built on: payloads
// timestamped at write time, staleness judged per read, and a subscriber
// registry that fans out writes and invalidations by key.
//
// It is exported so that other packages can provide alternate backends; the
// default implementation is constructed by New.
type Store interface {
	// Get returns the payload stored under key and the time it was written.
	Get(key string) (payload any, storedAt time.Time, ok bool)

	// Set replaces the entry under key, stamps it with the store clock, and
	// synchronously notifies the key's subscribers.
	Set(key string, payload any)

	// IsStale reports whether key is absent or was written longer than
	// staleTime ago. An entry exactly staleTime old is still fresh.
	IsStale(key string, staleTime time.Duration) bool

	// Invalidate removes key and notifies its subscribers. Subscribers are
	// notified even when no entry existed, so instances stranded without
	// data still learn they should re-check.
	Invalidate(key string)

	// InvalidatePattern removes every entry whose key contains pattern and
	// notifies subscribers of matching keys exactly once each. It returns
	// the number of entries removed.
	InvalidatePattern(pattern string) int

	// InvalidateRegexp is InvalidatePattern with a compiled expression.
	InvalidateRegexp(re *regexp.Regexp) int

	// Subscribe registers fn to run whenever key is written or invalidated.
	// Callbacks run against a snapshot outside the registry locks, so fn may
	// call back into the store. The returned func removes the registration.
	Subscribe(key string, fn func()) (unsubscribe func())

	// Keys returns a snapshot of the keys currently stored.
	Keys() []string

	// Len returns the number of live entries.
	Len() int

	// Close stops the retention janitor. The store must not be used after.
	Close() error
}

// Value is a type-safe read through the any-typed Store interface. It returns
// ErrNotFound when key is absent and ErrInvalidResultType when the payload is
// not a T.
func Value[T any](s Store, key string) (T, error) {
	payload, _, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	v, ok := payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: key %s holds %T", ErrInvalidResultType, key, payload)
	}
	return v, nil
}
