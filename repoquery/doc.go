// Package repoquery binds go-repository-bun repositories to the sync layer.
//
// # Overview
//
// A Source pairs one entity's repository with the cache key namespace derived
// from its Go type name. Everything the sync engines need for that entity
// comes out of the Source: stable keys, fetch functions for list, page, get,
// and count reads, and mutation engines whose confirmed writes invalidate the
// entity's pattern.
//
// # Key Features
//
//   - **Derived namespaces**: Quote caches under "quotes", QuoteLineItem under
//     "quote_line_items"; the name is also the invalidation pattern
//   - **Narrow repository surface**: eight methods instead of the full
//     go-repository-bun interface, so fakes stay small
//   - **Paging as criteria**: page bounds become limit and offset criteria
//     appended after the caller's own
//   - **Wrapped errors**: repository failures come back as
//     "repoquery: list quotes page 2: ..." so logs name the operation
//
// # Basic Usage
//
//	src, err := repoquery.NewSource[Quote](quoteRepo, nil)
//	if err != nil {
//		return err
//	}
//
//	keyFn, fetch := src.PageFetcher(map[string]any{"status": "sent"})
//	pages, err := querysync.NewPaginated(store, keyFn, fetch, 20, cfg)
//
//	create, err := src.CreateMutation(store, querysync.MutationConfig[Quote, Quote]{})
//	// create.MutateAsync(ctx, quote) invalidates "quotes" on success.
//
// Filters shape keys only; criteria shape the SQL. Callers keep the two in
// agreement, typically by deriving both from the same request.
//
// # See Also
//
// Engine semantics live in the querysync package; key construction rules in
// the cache package.
package repoquery
