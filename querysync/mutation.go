package querysync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-sync/cache"
)

// MutationFn is the function signature mutation engines invoke against the
// source of truth: vars in, created or updated data out.
type MutationFn[T, V any] func(ctx context.Context, vars V) (T, error)

// Mutation tracks one write path and the cache keys its writes make stale.
// Configured invalidation patterns run strictly after the write confirms, so
// a failed mutation never triggers refetch churn.
//
// Mutations never retry automatically; retrying a write is the caller's
// decision.
type Mutation[T, V any] struct {
	store  cache.Store
	fn     MutationFn[T, V]
	cfg    MutationConfig[T, V]
	logger *slog.Logger

	mu    sync.Mutex
	state MutationState[T]
}

// NewMutation constructs a mutation engine around fn.
func NewMutation[T, V any](store cache.Store, fn MutationFn[T, V], cfg MutationConfig[T, V]) (*Mutation[T, V], error) {
	if store == nil {
		return nil, errors.New("querysync: store is required")
	}
	if fn == nil {
		return nil, errors.New("querysync: mutation function is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Mutation[T, V]{
		store:  store,
		fn:     fn,
		cfg:    cfg,
		logger: logger.With("engine", "mutation", "instance", uuid.NewString()),
	}, nil
}

// MutateAsync runs the mutation and returns its result. On success the
// configured patterns, plus any attached to ctx via WithInvalidatePatterns,
// are invalidated and OnSuccess runs. On failure the error lands in state,
// OnError runs, and the error is returned.
func (m *Mutation[T, V]) MutateAsync(ctx context.Context, vars V) (T, error) {
	m.mu.Lock()
	m.state.IsLoading = true
	m.state.IsError = false
	m.state.Err = nil
	m.mu.Unlock()

	data, err := m.fn(ctx, vars)
	if err != nil {
		m.mu.Lock()
		m.state.IsLoading = false
		m.state.IsError = true
		m.state.Err = err
		m.mu.Unlock()

		m.logger.Warn("mutation failed", "error", err)
		if m.cfg.OnError != nil {
			m.cfg.OnError(err, vars)
		}
		var zero T
		return zero, err
	}

	m.mu.Lock()
	m.state.Data = data
	m.state.HasData = true
	m.state.IsLoading = false
	m.state.IsError = false
	m.state.Err = nil
	m.mu.Unlock()

	for _, pattern := range m.patterns(ctx) {
		removed := m.store.InvalidatePattern(pattern)
		m.logger.Debug("invalidated after mutation", "pattern", pattern, "removed", removed)
	}

	if m.cfg.OnSuccess != nil {
		m.cfg.OnSuccess(data, vars)
	}
	return data, nil
}

// Mutate is the fire-and-forget form of MutateAsync: failures land in state
// and the OnError callback but are not returned.
func (m *Mutation[T, V]) Mutate(ctx context.Context, vars V) {
	_, _ = m.MutateAsync(ctx, vars)
}

// Reset restores the initial idle state.
func (m *Mutation[T, V]) Reset() {
	m.mu.Lock()
	m.state = MutationState[T]{}
	m.mu.Unlock()
}

// State returns a copy of the current state.
func (m *Mutation[T, V]) State() MutationState[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// patterns merges configured invalidation patterns with context-attached
// ones, deduplicated in first-seen order.
func (m *Mutation[T, V]) patterns(ctx context.Context) []string {
	merged := append([]string(nil), m.cfg.InvalidatePatterns...)
	merged = append(merged, invalidatePatternsFromContext(ctx)...)
	return dedupeStrings(merged)
}
