package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-query-sync/cache"
)

// ChangeType classifies a row change reported by a change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row change on a table. Row carries the column values the
// feed chose to include; it may be nil for deletes.
type ChangeEvent struct {
	Type  ChangeType
	Table string
	Row   map[string]any
}

// ChangeStream is a live sequence of change events. Events is closed when the
// stream terminates; Err then reports why, or nil for a clean close.
type ChangeStream interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// ChangeFeed produces change streams for tables. Implementations must
// terminate the returned stream when ctx ends. Reconnection is the feed's
// concern, not the bridge's.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table, filter string) (ChangeStream, error)
}

// Status reports the bridge's view of its stream. After termination,
// Connected is false and Err carries the stream error if there was one.
type Status struct {
	Connected bool
	Err       error
}

// Config controls what a bridge invalidates and how fast.
type Config struct {
	// Table is the table to subscribe to.
	Table string

	// Filter is passed through to the feed, narrowing which rows produce
	// events. Its syntax belongs to the feed client.
	Filter string

	// InvalidatePatterns are the cache patterns cleared per event. Empty
	// defaults to the table name, which clears every key built for it.
	InvalidatePatterns []string

	// InvalidationsPerSecond throttles invalidation rounds so event floods
	// collapse into bounded cache work. Events arriving while the limiter is
	// closed coalesce into one trailing round that fires when it reopens, so
	// the last change of a burst is never lost. Zero disables throttling.
	// Events are still rebroadcast to observers at full rate.
	InvalidationsPerSecond float64

	// InvalidationBurst is the limiter burst; zero means 1.
	InvalidationBurst int

	Logger *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Table, validation.Required),
		validation.Field(&c.InvalidationsPerSecond, validation.Min(0.0)),
		validation.Field(&c.InvalidationBurst, validation.Min(0)),
	)
}

// Bridge connects a change feed to the cache: every event on the subscribed
// table invalidates the configured patterns, which wakes the queries bound to
// the affected keys. Events are also rebroadcast to OnChange observers for
// row-level consumers.
//
// The bridge deliberately owns no reconnection logic. When the stream dies,
// Status reports it and the cache keeps serving; staleness, focus, and
// interval revalidation continue to work without the feed.
type Bridge struct {
	store    cache.Store
	cfg      Config
	logger   *slog.Logger
	patterns []string
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}

	mu          sync.Mutex
	status      Status
	closed      bool
	flushTimer  *time.Timer
	observerSeq int
	observers   map[int]func(ChangeEvent)
}

// New subscribes to cfg.Table on feed and starts consuming events. The
// subscription lives until Close or until ctx ends.
func New(ctx context.Context, store cache.Store, feed ChangeFeed, cfg Config) (*Bridge, error) {
	if store == nil {
		return nil, errors.New("realtime: store is required")
	}
	if feed == nil {
		return nil, errors.New("realtime: change feed is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	patterns := cfg.InvalidatePatterns
	if len(patterns) == 0 {
		patterns = []string{cfg.Table}
	}

	var limiter *rate.Limiter
	if cfg.InvalidationsPerSecond > 0 {
		burst := cfg.InvalidationBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.InvalidationsPerSecond), burst)
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		store:     store,
		cfg:       cfg,
		logger:    logger.With("engine", "bridge", "instance", uuid.NewString(), "table", cfg.Table),
		patterns:  patterns,
		limiter:   limiter,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    Status{Connected: true},
		observers: make(map[int]func(ChangeEvent)),
	}

	stream, err := feed.Subscribe(ctx, cfg.Table, cfg.Filter)
	if err != nil {
		cancel()
		close(b.done)
		return nil, fmt.Errorf("realtime: subscribe %s: %w", cfg.Table, err)
	}

	go b.consume(stream)
	return b, nil
}

// OnChange registers fn for every event the bridge receives. The returned
// func removes the registration.
func (b *Bridge) OnChange(fn func(ChangeEvent)) func() {
	b.mu.Lock()
	id := b.observerSeq
	b.observerSeq++
	b.observers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Status reports whether the stream is live and, once it is not, why it
// ended.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Close cancels the subscription and waits for the consumer to drain.
// It is safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.mu.Unlock()

	b.cancel()
	<-b.done
}

func (b *Bridge) consume(stream ChangeStream) {
	defer close(b.done)
	defer stream.Close()

	for event := range stream.Events() {
		b.handle(event)
	}

	err := stream.Err()
	if errors.Is(err, context.Canceled) {
		// Deliberate teardown, not a stream failure.
		err = nil
	}

	b.mu.Lock()
	b.status = Status{Connected: false, Err: err}
	b.mu.Unlock()

	if err == nil {
		b.logger.Debug("change stream closed")
		return
	}
	b.logger.Warn("change stream failed", "error", err)
}

// handle invalidates for one event, subject to the limiter, then rebroadcasts
// it. Broadcast is never throttled so observers see every event even when
// invalidation rounds coalesce.
func (b *Bridge) handle(event ChangeEvent) {
	if b.limiter == nil || b.limiter.Allow() {
		b.invalidate(string(event.Type))
	} else {
		b.armTrailingFlush()
	}

	b.mu.Lock()
	observers := b.snapshotObserversLocked()
	b.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}

func (b *Bridge) invalidate(change string) {
	for _, pattern := range b.patterns {
		removed := b.store.InvalidatePattern(pattern)
		b.logger.Debug("invalidated cache pattern",
			"pattern", pattern,
			"change", change,
			"removed", removed,
		)
	}
}

// armTrailingFlush reserves the limiter's next slot and schedules one
// invalidation round for when it opens. Events throttled in the meantime
// share the pending round, so the last change of a burst always reaches the
// cache.
func (b *Bridge) armTrailingFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.flushTimer != nil {
		return
	}
	delay := b.limiter.Reserve().Delay()
	b.flushTimer = time.AfterFunc(delay, b.trailingFlush)
}

func (b *Bridge) trailingFlush() {
	b.mu.Lock()
	b.flushTimer = nil
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}
	b.invalidate("flush")
}

func (b *Bridge) snapshotObserversLocked() []func(ChangeEvent) {
	if len(b.observers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(b.observers))
	for id := range b.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]func(ChangeEvent), len(ids))
	for i, id := range ids {
		out[i] = b.observers[id]
	}
	return out
}
