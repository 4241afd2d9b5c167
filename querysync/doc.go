// Package querysync orchestrates background data fetching over a cache.Store.
//
// # Overview
//
// This package implements the engines that sit between application code and
// the cache: queries that serve cached data while revalidating stale entries,
// mutations that invalidate affected cache regions after confirmed writes,
// a pagination controller that drives a query across numbered pages, and
// optimistic update helpers for predicted values awaiting confirmation.
//
// # Key Features
//
//   - **Stale-while-revalidate**: cached data renders immediately; a background
//     fetch refreshes entries older than the configured staleness window
//   - **Retry with linear backoff**: failed fetches retry up to RetryCount
//     times, waiting attempt*RetryDelay between attempts
//   - **Reactive refetching**: engines refetch when their cache entry is
//     invalidated, when the application regains focus (only if stale), and on
//     an optional fixed interval
//   - **Shared in-flight fetches**: an optional cache.Fetcher collapses
//     concurrent fetches for the same key into one upstream call
//   - **Mutation-driven invalidation**: successful mutations clear cache
//     regions by substring pattern, triggering refetches in active queries
//
// # Query Lifecycle
//
// A query adopts its cache entry synchronously on construction when one
// exists, so a second mount of the same key renders without a loading phase:
//
//	q, err := querysync.NewQuery(store, key, fetchQuotes, cfg)
//	if err != nil {
//		return err
//	}
//	defer q.Close()
//
//	unsub := q.OnStateChange(func(st querysync.QueryState[[]Quote]) {
//		render(st)
//	})
//	defer unsub()
//
// IsLoading is true only while no data has ever been resolved. IsFetching is
// true whenever a fetch is in flight, including retries, so consumers can
// show a background refresh indicator next to existing data.
//
// # State Transitions
//
// Engines never regress to a loading state once data exists. A failed
// revalidation keeps the last good data and records the error; a successful
// one clears any previous error. After Close an engine emits nothing and
// writes nothing to the store, regardless of in-flight work.
//
// # Mutations
//
// Mutations run the write, then invalidate configured patterns only after the
// source of truth confirmed it:
//
//	m, err := querysync.NewMutation(store, createQuote, querysync.MutationConfig[Quote, QuoteInput]{
//		InvalidatePatterns: []string{"quotes"},
//	})
//
//	quote, err := m.MutateAsync(ctx, input)
//
// Additional patterns can ride on the context for one call via
// WithInvalidatePatterns. A failed mutation invalidates nothing.
//
// # Pagination
//
// Paginated keeps one cache slot per page and size, so previously visited
// pages render synchronously while staleness rules decide whether they
// revalidate. Out-of-range page requests clamp to the nearest valid page, and
// the current page re-clamps when a fetch reports the total shrank.
//
// # Optimistic Updates
//
// ApplyOptimisticUpdate writes a prediction into a shadow slot next to the
// canonical key; OptimisticValue reads shadow-first. Rolling back removes
// only the shadow, and pattern invalidation clears shadows together with
// their canonical entries.
//
// # See Also
//
// For the cache store, key construction, and the shared fetcher, see the
// cache package. For wiring engines to go-repository-bun repositories, see
// the repoquery package.
package querysync
