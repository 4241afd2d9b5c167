package repoquery

import (
	"context"
	"errors"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/querysync"
)

// Repository is the slice of a go-repository-bun repository the sync layer
// reads and writes through. Narrowing it here keeps tests to eight methods
// and lets callers hand in anything that can list, get, count, and mutate.
type Repository[T any] interface {
	Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error)
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error)
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	Delete(ctx context.Context, record T) error
}

// Interface assertion to ensure every full repository satisfies Repository.
var _ Repository[struct{}] = (repository.Repository[struct{}])(nil)

// Source binds one entity's repository to the cache key namespace derived
// from its type name. Its factories produce the keys, fetch functions, and
// mutation engines the sync layer runs on, so callers never hand-roll either
// side of that pairing.
type Source[T any] struct {
	repo   Repository[T]
	keys   *cache.KeyBuilder
	entity string
}

// NewSource creates a Source for repo. A nil keys falls back to the default
// key builder.
func NewSource[T any](repo Repository[T], keys *cache.KeyBuilder) (*Source[T], error) {
	if repo == nil {
		return nil, errors.New("repoquery: repository is required")
	}
	if keys == nil {
		keys = cache.NewKeyBuilder()
	}
	return &Source[T]{
		repo:   repo,
		keys:   keys,
		entity: EntityName[T](),
	}, nil
}

// Entity returns the derived cache namespace, e.g. "quotes".
func (s *Source[T]) Entity() string {
	return s.entity
}

// Pattern returns the invalidation pattern that reaches every key this
// source produces. It is the entity name: list, page, count, and item keys
// all carry it verbatim.
func (s *Source[T]) Pattern() string {
	return s.entity
}

// ListKey renders the cache key for an unpaged list under filters.
func (s *Source[T]) ListKey(filters map[string]any) string {
	return s.keys.Build(s.entity, filters)
}

// CountKey renders the cache key for a count under filters.
func (s *Source[T]) CountKey(filters map[string]any) string {
	return s.keys.Build(s.entity+":count", filters)
}

// ItemKey renders the cache key for a single record by id. The item segment
// keeps a record's key distinct from a list filtered down to the same id,
// which is a different query shape sharing the same parameters.
func (s *Source[T]) ItemKey(id string) string {
	return s.keys.Build(s.entity+":item", map[string]any{"id": id})
}

// PageKeys returns the per-page key function for a paged query under
// filters.
func (s *Source[T]) PageKeys(filters map[string]any) querysync.PageKeyFn {
	return s.keys.PageKeyFn(s.entity, filters)
}

// ListFetcher returns the key and fetch function for an unpaged list query.
// Criteria pass through to the repository on every fetch; filters only shape
// the key, so the two must agree.
func (s *Source[T]) ListFetcher(filters map[string]any, criteria ...repository.SelectCriteria) (string, cache.FetchFn[[]T]) {
	key := s.ListKey(filters)
	fetch := func(ctx context.Context) ([]T, error) {
		records, _, err := s.repo.List(ctx, criteria...)
		if err != nil {
			return nil, fmt.Errorf("repoquery: list %s: %w", s.entity, err)
		}
		return records, nil
	}
	return key, fetch
}

// PageFetcher returns the key function and page fetch function for a paged
// query. Page bounds become limit and offset criteria appended after the
// caller's own.
func (s *Source[T]) PageFetcher(filters map[string]any, criteria ...repository.SelectCriteria) (querysync.PageKeyFn, querysync.PageFetchFn[T]) {
	fetch := func(ctx context.Context, page, size int) (querysync.Page[T], error) {
		crit := make([]repository.SelectCriteria, 0, len(criteria)+1)
		crit = append(crit, criteria...)
		crit = append(crit, pageCriteria(page, size))

		records, total, err := s.repo.List(ctx, crit...)
		if err != nil {
			return querysync.Page[T]{}, fmt.Errorf("repoquery: list %s page %d: %w", s.entity, page, err)
		}
		return querysync.Page[T]{Items: records, Total: total}, nil
	}
	return s.PageKeys(filters), fetch
}

// GetFetcher returns the key and fetch function for a single record by id.
func (s *Source[T]) GetFetcher(id string, criteria ...repository.SelectCriteria) (string, cache.FetchFn[T]) {
	key := s.ItemKey(id)
	fetch := func(ctx context.Context) (T, error) {
		record, err := s.repo.GetByID(ctx, id, criteria...)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("repoquery: get %s id %s: %w", s.entity, id, err)
		}
		return record, nil
	}
	return key, fetch
}

// CountFetcher returns the key and fetch function for a count query.
func (s *Source[T]) CountFetcher(filters map[string]any, criteria ...repository.SelectCriteria) (string, cache.FetchFn[int]) {
	key := s.CountKey(filters)
	fetch := func(ctx context.Context) (int, error) {
		n, err := s.repo.Count(ctx, criteria...)
		if err != nil {
			return 0, fmt.Errorf("repoquery: count %s: %w", s.entity, err)
		}
		return n, nil
	}
	return key, fetch
}

// CreateMutation builds a mutation engine that creates records and, by
// default, invalidates this entity's pattern on success.
func (s *Source[T]) CreateMutation(store cache.Store, cfg querysync.MutationConfig[T, T]) (*querysync.Mutation[T, T], error) {
	fn := func(ctx context.Context, record T) (T, error) {
		created, err := s.repo.Create(ctx, record)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("repoquery: create %s: %w", s.entity, err)
		}
		return created, nil
	}
	return querysync.NewMutation(store, fn, s.withDefaultPatterns(cfg))
}

// UpdateMutation builds a mutation engine that updates records.
func (s *Source[T]) UpdateMutation(store cache.Store, cfg querysync.MutationConfig[T, T]) (*querysync.Mutation[T, T], error) {
	fn := func(ctx context.Context, record T) (T, error) {
		updated, err := s.repo.Update(ctx, record)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("repoquery: update %s: %w", s.entity, err)
		}
		return updated, nil
	}
	return querysync.NewMutation(store, fn, s.withDefaultPatterns(cfg))
}

// UpsertMutation builds a mutation engine that inserts or updates records.
func (s *Source[T]) UpsertMutation(store cache.Store, cfg querysync.MutationConfig[T, T]) (*querysync.Mutation[T, T], error) {
	fn := func(ctx context.Context, record T) (T, error) {
		stored, err := s.repo.Upsert(ctx, record)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("repoquery: upsert %s: %w", s.entity, err)
		}
		return stored, nil
	}
	return querysync.NewMutation(store, fn, s.withDefaultPatterns(cfg))
}

// DeleteMutation builds a mutation engine that deletes records. The result
// type is empty; deletes only produce invalidation.
func (s *Source[T]) DeleteMutation(store cache.Store, cfg querysync.MutationConfig[struct{}, T]) (*querysync.Mutation[struct{}, T], error) {
	fn := func(ctx context.Context, record T) (struct{}, error) {
		if err := s.repo.Delete(ctx, record); err != nil {
			return struct{}{}, fmt.Errorf("repoquery: delete %s: %w", s.entity, err)
		}
		return struct{}{}, nil
	}
	if len(cfg.InvalidatePatterns) == 0 {
		cfg.InvalidatePatterns = []string{s.entity}
	}
	return querysync.NewMutation(store, fn, cfg)
}

func (s *Source[T]) withDefaultPatterns(cfg querysync.MutationConfig[T, T]) querysync.MutationConfig[T, T] {
	if len(cfg.InvalidatePatterns) == 0 {
		cfg.InvalidatePatterns = []string{s.entity}
	}
	return cfg
}

// pageCriteria translates one-based page bounds into limit and offset.
func pageCriteria(page, size int) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Limit(size).Offset((page - 1) * size)
	}
}
