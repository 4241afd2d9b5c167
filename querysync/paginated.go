package querysync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-sync/cache"
)

// Page is one page of a paginated result set together with the total item
// count across all pages.
type Page[T any] struct {
	Items []T
	Total int
}

// PageFetchFn fetches one page from the source of truth.
type PageFetchFn[T any] func(ctx context.Context, page, size int) (Page[T], error)

// PageKeyFn renders the cache key for one page. Every page and page size
// combination owns its own key.
type PageKeyFn func(page, size int) string

// Paginated drives a query engine across numbered pages. Because each page
// keeps its own cache slot, returning to a previously visited page renders
// synchronously while staleness rules decide whether it revalidates.
//
// The current page is clamped into [1, max(1, TotalPages)]; out-of-range
// requests move to the nearest valid page instead of failing, and the page
// re-clamps automatically when a fetch reports that the total shrank.
type Paginated[T any] struct {
	store  cache.Store
	keyFn  PageKeyFn
	fetch  PageFetchFn[T]
	cfg    QueryConfig
	logger *slog.Logger

	mu          sync.Mutex
	page        int
	pageSize    int
	total       int
	hasTotal    bool
	closed      bool
	query       *Query[Page[T]]
	unsub       func()
	observerSeq int
	observers   map[int]func(QueryState[Page[T]])
}

// NewPaginated constructs a pagination controller starting at page 1.
func NewPaginated[T any](store cache.Store, keyFn PageKeyFn, fetch PageFetchFn[T], pageSize int, cfg QueryConfig) (*Paginated[T], error) {
	if store == nil {
		return nil, errors.New("querysync: store is required")
	}
	if keyFn == nil {
		return nil, errors.New("querysync: page key function is required")
	}
	if fetch == nil {
		return nil, errors.New("querysync: page fetch function is required")
	}
	if pageSize <= 0 {
		return nil, errors.New("querysync: page size must be positive")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Paginated[T]{
		store:     store,
		keyFn:     keyFn,
		fetch:     fetch,
		cfg:       cfg,
		logger:    logger.With("engine", "paginated", "instance", uuid.NewString()),
		page:      1,
		pageSize:  pageSize,
		observers: make(map[int]func(QueryState[Page[T]])),
	}

	if err := p.mount(); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPage moves to page, clamped into the valid range. Out-of-range requests
// are not errors; they land on the nearest valid page.
func (p *Paginated[T]) SetPage(page int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	next := p.clampLocked(page)
	if next == p.page {
		p.mu.Unlock()
		return
	}
	p.page = next
	p.mu.Unlock()

	if err := p.mount(); err != nil {
		p.logger.Warn("page mount failed", "page", next, "error", err)
	}
}

// NextPage advances one page; at the last known page it is a no-op.
func (p *Paginated[T]) NextPage() {
	p.shift(1)
}

// PrevPage goes back one page; at the first page it is a no-op.
func (p *Paginated[T]) PrevPage() {
	p.shift(-1)
}

func (p *Paginated[T]) shift(delta int) {
	p.mu.Lock()
	target := p.page + delta
	p.mu.Unlock()
	p.SetPage(target)
}

// SetPageSize changes the page size and returns to the first page. Slots
// cached under the previous size stay in the store under their own keys.
func (p *Paginated[T]) SetPageSize(size int) {
	if size <= 0 {
		return
	}
	p.mu.Lock()
	if p.closed || size == p.pageSize {
		p.mu.Unlock()
		return
	}
	p.pageSize = size
	p.page = 1
	p.mu.Unlock()

	if err := p.mount(); err != nil {
		p.logger.Warn("page mount failed", "size", size, "error", err)
	}
}

// Pagination reports the current position and derived bounds.
func (p *Paginated[T]) Pagination() PaginationState {
	p.mu.Lock()
	defer p.mu.Unlock()

	totalPages := p.totalPagesLocked()
	return PaginationState{
		Page:       p.page,
		PageSize:   p.pageSize,
		Total:      p.total,
		TotalPages: totalPages,
		HasNext:    p.page < totalPages,
		HasPrev:    p.page > 1,
	}
}

// State returns the current page's query state.
func (p *Paginated[T]) State() QueryState[Page[T]] {
	p.mu.Lock()
	q := p.query
	p.mu.Unlock()

	if q == nil {
		return QueryState[Page[T]]{}
	}
	return q.State()
}

// OnStateChange registers fn across page changes: it keeps firing as the
// controller swaps inner engines. The returned func removes the registration.
func (p *Paginated[T]) OnStateChange(fn func(QueryState[Page[T]])) func() {
	p.mu.Lock()
	id := p.observerSeq
	p.observerSeq++
	p.observers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
		})
	}
}

// Refetch forces a revalidation of the current page.
func (p *Paginated[T]) Refetch() {
	p.mu.Lock()
	q := p.query
	p.mu.Unlock()

	if q != nil {
		q.Refetch()
	}
}

// Close tears down the controller and its current inner engine.
func (p *Paginated[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	q, unsub := p.query, p.unsub
	p.query, p.unsub = nil, nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if q != nil {
		q.Close()
	}
}

// mount builds the inner engine for the current page and retires the
// previous one. Callers hold no lock.
func (p *Paginated[T]) mount() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	page, size := p.page, p.pageSize
	p.mu.Unlock()

	fetch := func(ctx context.Context) (Page[T], error) {
		return p.fetch(ctx, page, size)
	}
	q, err := NewQuery(p.store, p.keyFn(page, size), fetch, p.cfg)
	if err != nil {
		return err
	}
	unsub := q.OnStateChange(p.adoptState)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		unsub()
		q.Close()
		return ErrClosed
	}
	old, oldUnsub := p.query, p.unsub
	p.query, p.unsub = q, unsub
	p.mu.Unlock()

	if oldUnsub != nil {
		oldUnsub()
	}
	if old != nil {
		old.Close()
	}

	// The mount may have resolved synchronously from cache before the
	// observer was attached; adopt whatever state it settled into.
	p.adoptState(q.State())
	return nil
}

// adoptState ingests an inner engine transition: it refreshes the total,
// re-clamps the page when the total shrank beneath it, and fans the state
// out to the controller's observers.
func (p *Paginated[T]) adoptState(st QueryState[Page[T]]) {
	remount := false

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if st.HasData {
		p.total = st.Data.Total
		p.hasTotal = true
		if clamped := p.clampLocked(p.page); clamped != p.page {
			p.page = clamped
			remount = true
		}
	}
	observers := p.snapshotObserversLocked()
	p.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}

	if remount {
		if err := p.mount(); err != nil && !errors.Is(err, ErrClosed) {
			p.logger.Warn("page re-clamp mount failed", "error", err)
		}
	}
}

// clampLocked bounds page into [1, max(1, totalPages)]. Before the first
// total is known only the lower bound applies.
func (p *Paginated[T]) clampLocked(page int) int {
	if page < 1 {
		return 1
	}
	if !p.hasTotal {
		return page
	}
	totalPages := p.totalPagesLocked()
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

func (p *Paginated[T]) totalPagesLocked() int {
	if p.pageSize <= 0 {
		return 0
	}
	return (p.total + p.pageSize - 1) / p.pageSize
}

func (p *Paginated[T]) snapshotObserversLocked() []func(QueryState[Page[T]]) {
	if len(p.observers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(p.observers))
	for id := range p.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]func(QueryState[Page[T]]), len(ids))
	for i, id := range ids {
		out[i] = p.observers[id]
	}
	return out
}
