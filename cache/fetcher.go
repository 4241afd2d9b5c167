package cache

import (
	"context"
	"fmt"
)

// Fetcher coalesces concurrent fetches of the same key so that a burst of
// identical requests reaches the source of truth once. It is deliberately
// separate from Store: the store is authoritative, a fetcher only shares
// in-flight results for a short window.
//
// Engines that are handed a Fetcher route their fetches through it; without
// one, concurrent instances fetch independently and the last write wins.
type Fetcher interface {
	// Fetch returns the shared result for key, invoking fn at most once per
	// sharing window across all concurrent callers.
	Fetch(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error)

	// Forget drops key's sharing window so the next Fetch goes upstream.
	// Callers invoke it before a forced revalidation to guarantee the fetch
	// cannot be answered with a pre-invalidation result.
	Forget(key string)
}

// FetchShared is a type-safe wrapper function that provides generic support
// for Fetcher.
func FetchShared[T any](ctx context.Context, f Fetcher, key string, fn FetchFn[T]) (T, error) {
	result, err := f.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: key %s shared %T", ErrInvalidResultType, key, result)
	}
	return v, nil
}
