package querysync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-sync/cache"
)

// ErrClosed is returned by constructors and operations that require a live
// engine after Close has run.
var ErrClosed = errors.New("querysync: engine closed")

// Query keeps one cache key synchronized with its source of truth. On
// construction it activates immediately: a fresh cached value renders
// synchronously, a stale one renders and revalidates in the background, a
// miss fetches. From then on it reacts to store notifications, focus events,
// and the refetch interval until Close.
//
// All methods are safe for concurrent use. Within one instance fetch
// attempts are sequential; across instances sharing a key there is no
// de-duplication unless a SharedFetcher is configured, and the last write to
// the store wins.
type Query[T any] struct {
	store cache.Store
	key   string
	fetch cache.FetchFn[T]
	cfg   QueryConfig

	clock  Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         QueryState[T]
	closed        bool
	inFlight      bool
	refetchQueued bool
	stopRetry     func() bool
	stopInterval  func() bool
	interval      time.Duration
	observerSeq   int
	observers     map[int]func(QueryState[T])

	unsubStore func()
	unsubFocus func()
}

// NewQuery constructs and activates a query engine for key.
func NewQuery[T any](store cache.Store, key string, fetch cache.FetchFn[T], cfg QueryConfig) (*Query[T], error) {
	if store == nil {
		return nil, errors.New("querysync: store is required")
	}
	if key == "" {
		return nil, errors.New("querysync: key is required")
	}
	if fetch == nil {
		return nil, errors.New("querysync: fetch function is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Query[T]{
		store:     store,
		key:       key,
		fetch:     fetch,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.With("engine", "query", "instance", uuid.NewString(), "key", key),
		ctx:       ctx,
		cancel:    cancel,
		interval:  cfg.RefetchInterval,
		observers: make(map[int]func(QueryState[T])),
	}

	q.activate()
	return q, nil
}

// Key returns the cache key this engine synchronizes.
func (q *Query[T]) Key() string {
	return q.key
}

// State returns a copy of the current state.
func (q *Query[T]) State() QueryState[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// OnStateChange registers fn to run after every state transition. Callbacks
// run outside the engine lock in registration order. The returned func
// removes the registration.
func (q *Query[T]) OnStateChange(fn func(QueryState[T])) func() {
	q.mu.Lock()
	id := q.observerSeq
	q.observerSeq++
	q.observers[id] = fn
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.observers, id)
			q.mu.Unlock()
		})
	}
}

// Refetch forces a revalidation regardless of staleness. If a fetch is
// already in flight exactly one follow-up is queued.
func (q *Query[T]) Refetch() {
	q.startFetch(true)
}

// Invalidate removes the cached entry. The store notification that follows
// drives the refetch here and on every other engine sharing the key, so the
// data is fetched once per instance, not twice.
func (q *Query[T]) Invalidate() {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return
	}

	if q.cfg.SharedFetcher != nil {
		q.cfg.SharedFetcher.Forget(q.key)
	}
	q.store.Invalidate(q.key)
}

// SetRefetchInterval re-arms the periodic revalidation cadence; d <= 0
// disables it.
func (q *Query[T]) SetRefetchInterval(d time.Duration) {
	q.mu.Lock()
	q.interval = d
	q.armIntervalLocked()
	q.mu.Unlock()
}

// Close tears the engine down: store and focus subscriptions are removed,
// timers stopped, and the in-flight fetch context canceled. Completions that
// arrive afterwards are dropped without touching cache or state.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.stopRetry != nil {
		q.stopRetry()
		q.stopRetry = nil
	}
	if q.stopInterval != nil {
		q.stopInterval()
		q.stopInterval = nil
	}
	q.mu.Unlock()

	q.cancel()
	if q.unsubStore != nil {
		q.unsubStore()
	}
	if q.unsubFocus != nil {
		q.unsubFocus()
	}
	q.logger.Debug("query engine closed")
}

// activate performs the mount read: fresh hit renders synchronously, stale
// hit renders then revalidates, miss fetches.
func (q *Query[T]) activate() {
	q.unsubStore = q.store.Subscribe(q.key, q.onStoreEvent)
	if q.cfg.Focus != nil {
		q.unsubFocus = q.cfg.Focus.OnFocus(q.onFocus)
	}

	payload, _, ok := q.store.Get(q.key)
	stale := q.store.IsStale(q.key, q.cfg.StaleTime)

	adopted := false
	if ok {
		if v, good := payload.(T); good {
			adopted = true
			q.mu.Lock()
			q.state.Data = v
			q.state.HasData = true
			q.mu.Unlock()
		}
	}
	if !adopted {
		q.mu.Lock()
		q.state.IsLoading = true
		q.mu.Unlock()
	}

	if !adopted || stale {
		q.startFetch(false)
	}
	q.mu.Lock()
	q.armIntervalLocked()
	q.mu.Unlock()
}

// onStoreEvent runs whenever the key is written or invalidated, including by
// other engine instances, mutations, and the realtime bridge.
func (q *Query[T]) onStoreEvent() {
	payload, _, ok := q.store.Get(q.key)
	if !ok {
		// The entry was invalidated, so any shared fetch window for the key
		// holds a pre-invalidation result. Force drops it before refetching.
		q.startFetch(true)
		return
	}

	v, good := payload.(T)
	if !good {
		q.logger.Warn("cached payload has unexpected type, ignoring")
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.state.Data = v
	q.state.HasData = true
	q.state.IsLoading = false
	q.state.IsError = false
	q.state.Err = nil
	state := q.state
	observers := q.snapshotObserversLocked()
	q.mu.Unlock()

	emit(observers, state)
}

// onFocus revalidates only when the entry has gone stale, so rapid focus
// toggling against fresh data stays quiet.
func (q *Query[T]) onFocus() {
	if !q.store.IsStale(q.key, q.cfg.StaleTime) {
		return
	}
	q.logger.Debug("focus revalidation")
	q.startFetch(false)
}

func (q *Query[T]) onInterval() {
	q.startFetch(false)
	q.mu.Lock()
	q.armIntervalLocked()
	q.mu.Unlock()
}

// armIntervalLocked replaces the interval timer with one for the current
// cadence. Callers hold q.mu.
func (q *Query[T]) armIntervalLocked() {
	if q.stopInterval != nil {
		q.stopInterval()
		q.stopInterval = nil
	}
	if q.closed || q.interval <= 0 {
		return
	}
	q.stopInterval = q.clock.AfterFunc(q.interval, q.onInterval)
}

// startFetch begins an asynchronous fetch unless one is already in flight,
// in which case exactly one follow-up is queued. force drops the shared
// fetch window first so the fetch cannot be answered with a pre-invalidation
// result.
func (q *Query[T]) startFetch(force bool) {
	if force && q.cfg.SharedFetcher != nil {
		q.cfg.SharedFetcher.Forget(q.key)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if q.inFlight {
		q.refetchQueued = true
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	q.state.IsFetching = true
	q.state.IsError = false
	q.state.Err = nil
	state := q.state
	observers := q.snapshotObserversLocked()
	q.mu.Unlock()

	emit(observers, state)

	go q.runFetch(1)
}

// runFetch executes one attempt of the current fetch chain.
func (q *Query[T]) runFetch(attempt int) {
	data, err := q.doFetch()
	if err != nil {
		q.failAttempt(attempt, err)
		return
	}
	q.completeFetch(data)
}

func (q *Query[T]) doFetch() (T, error) {
	if q.cfg.SharedFetcher != nil {
		return cache.FetchShared(q.ctx, q.cfg.SharedFetcher, q.key, q.fetch)
	}
	return q.fetch(q.ctx)
}

// completeFetch publishes a successful result: the store write happens first
// so every subscriber, this instance included, observes the same value; state
// settles afterwards. No lock is held across the store call because the
// store notifies synchronously.
func (q *Query[T]) completeFetch(data T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.store.Set(q.key, data)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.state.Data = data
	q.state.HasData = true
	q.state.IsLoading = false
	q.state.IsFetching = false
	q.state.IsError = false
	q.state.Err = nil
	q.inFlight = false
	queued := q.refetchQueued
	q.refetchQueued = false
	state := q.state
	observers := q.snapshotObserversLocked()
	q.mu.Unlock()

	emit(observers, state)

	if queued {
		q.startFetch(false)
	}
}

// failAttempt records the error and either schedules the next attempt with
// linear backoff or, once the retry budget is spent, settles into the error
// state with the last good data retained.
func (q *Query[T]) failAttempt(attempt int, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	q.state.Err = err

	if attempt <= q.cfg.RetryCount {
		delay := time.Duration(attempt) * q.cfg.RetryDelay
		next := attempt + 1
		q.stopRetry = q.clock.AfterFunc(delay, func() { q.runFetch(next) })
		state := q.state
		observers := q.snapshotObserversLocked()
		q.mu.Unlock()

		q.logger.Debug("fetch failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		emit(observers, state)
		return
	}

	q.state.IsError = true
	q.state.IsLoading = false
	q.state.IsFetching = false
	q.inFlight = false
	queued := q.refetchQueued
	q.refetchQueued = false
	state := q.state
	observers := q.snapshotObserversLocked()
	q.mu.Unlock()

	q.logger.Warn("fetch failed, retry budget exhausted", "attempts", attempt, "error", err)
	emit(observers, state)

	if queued {
		q.startFetch(false)
	}
}

func (q *Query[T]) snapshotObserversLocked() []func(QueryState[T]) {
	if len(q.observers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(q.observers))
	for id := range q.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]func(QueryState[T]), len(ids))
	for i, id := range ids {
		out[i] = q.observers[id]
	}
	return out
}

func emit[T any](observers []func(QueryState[T]), state QueryState[T]) {
	for _, fn := range observers {
		fn(state)
	}
}
