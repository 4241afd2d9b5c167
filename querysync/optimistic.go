package querysync

import (
	"sync"

	"github.com/goliatone/go-query-sync/cache"
)

// OptimisticSuffix marks the shadow slot that holds a locally predicted
// value next to its canonical key. Because the shadow key contains the
// canonical key as a substring, pattern invalidation that clears the
// canonical entry clears the shadow with it.
const OptimisticSuffix = ":optimistic"

// ApplyOptimisticUpdate writes a predicted value into the shadow slot for
// key. merge receives the current canonical value (ok reports whether one
// existed) and returns the prediction. Subscribers of key are not notified;
// readers opt in through OptimisticValue.
//
// The returned rollback removes the shadow entry, restoring canonical reads.
// It is safe to call more than once and after the prediction has been
// superseded by a real write.
func ApplyOptimisticUpdate[T any](store cache.Store, key string, merge func(current T, ok bool) T) (rollback func()) {
	var current T
	ok := false
	if payload, _, found := store.Get(key); found {
		if typed, isT := payload.(T); isT {
			current = typed
			ok = true
		}
	}

	store.Set(key+OptimisticSuffix, merge(current, ok))

	var once sync.Once
	return func() {
		once.Do(func() {
			store.Invalidate(key + OptimisticSuffix)
		})
	}
}

// OptimisticValue reads key preferring its shadow slot: a pending prediction
// wins over the canonical entry. The canonical entry is consulted when no
// shadow exists, and cache.ErrNotFound is returned when neither does.
func OptimisticValue[T any](store cache.Store, key string) (T, error) {
	if v, err := cache.Value[T](store, key+OptimisticSuffix); err == nil {
		return v, nil
	}
	return cache.Value[T](store, key)
}
