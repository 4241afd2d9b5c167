// Package cache provides the timestamped cache store, key construction, and
// fetch coalescing that the sync engines are built on.
//
// # Overview
//
// This package exports two main interfaces and their default implementations:
//
//   - Store: a key/value cache where every write is timestamped and every
//     write or invalidation notifies the key's subscribers
//   - Fetcher: an opt-in coalescer that collapses concurrent fetches of the
//     same key into a single upstream call
//
// plus KeyBuilder, which renders stable colon-delimited keys from typed
// query descriptions.
//
// # Staleness Model
//
// The store never expires entries on behalf of readers. Each entry carries
// the time it was written; consumers decide per read how old is too old:
//
//	store.Set("quotes:status=sent", quotes)
//	...
//	if store.IsStale("quotes:status=sent", 30*time.Second) {
//		// revalidate in the background, keep rendering the cached value
//	}
//
// Config.Retention is unrelated to staleness: it only bounds how long an
// abandoned entry survives before the janitor collects it.
//
// # Key Construction
//
// Keys are colon-delimited: entity, then an optional canonical filter
// segment, then optional page segments.
//
//	b := cache.NewKeyBuilder()
//	b.Build("quotes", map[string]any{"status": "sent"})      // quotes:status=sent
//	b.BuildPage("quotes", nil, 2, 20)                        // quotes:page=2:size=20
//
// Filter maps serialize with sorted keys and recursive value rendering, so
// logically identical filter sets collide regardless of construction order.
// Oversized filter segments are replaced by an xxhash digest.
//
// # Pattern Invalidation
//
// InvalidatePattern removes every entry whose key contains the pattern and
// notifies subscribers of matching keys, whether or not an entry was present
// for them. Substring matching trades precision for simplicity: the pattern
// "quotes" also matches a hypothetical "archived_quotes" namespace. Choose
// entity names accordingly, or use InvalidateRegexp with an anchored
// expression when that matters.
//
// # Typed Access
//
// Store deals in any-typed payloads; Value restores type safety at the edge:
//
//	quotes, err := cache.Value[[]Quote](store, "quotes:status=sent")
//
// Value returns ErrNotFound for missing keys and ErrInvalidResultType when
// the payload is not the requested type.
//
// # Fetch Coalescing
//
// By default concurrent fetches of one key proceed independently and the
// last write wins. Handing engines a Fetcher changes that:
//
//	fetcher, _ := cache.NewSharedFetcher(cache.DefaultFetcherConfig())
//	// N concurrent engines fetching "quotes:page=1" make one upstream call
//
// Forget must be called before a forced revalidation so the shared window
// cannot answer with a pre-invalidation value; the engines do this
// themselves.
//
// # See Also
//
// The querysync package builds the query, mutation, pagination, and
// optimistic-update engines on top of this package. The realtime package
// bridges change feeds into pattern invalidation.
package cache
