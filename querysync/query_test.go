package querysync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/pkg/testsupport"
)

const testStaleTime = 30 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, now func() time.Time) cache.Store {
	t.Helper()

	cfg := cache.DefaultConfig()
	cfg.Logger = discardLogger()
	if now != nil {
		cfg.Now = now
	}
	store, err := cache.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testQueryConfig() QueryConfig {
	return QueryConfig{
		StaleTime:  testStaleTime,
		RetryCount: 0,
		RetryDelay: 10 * time.Millisecond,
		Logger:     discardLogger(),
	}
}

// stateSource is the observable surface shared by Query and Paginated.
type stateSource[T any] interface {
	State() QueryState[T]
	OnStateChange(func(QueryState[T])) func()
}

// waitForState blocks until src reports a state matching pred, checking the
// current state first so fast transitions are not missed.
func waitForState[T any](t *testing.T, src stateSource[T], pred func(QueryState[T]) bool) QueryState[T] {
	t.Helper()

	states := make(chan QueryState[T], 64)
	unsub := src.OnStateChange(func(st QueryState[T]) {
		select {
		case states <- st:
		default:
		}
	})
	defer unsub()

	if st := src.State(); pred(st) {
		return st
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-states:
			if pred(st) {
				return st
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state, last seen: %+v", src.State())
			return QueryState[T]{}
		}
	}
}

func TestQuery_FirstMountFetchesAndCaches(t *testing.T) {
	store := newTestStore(t, nil)

	gate := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		<-gate
		return []string{"q1", "q2"}, nil
	}

	q, err := NewQuery(store, "quotes:list", fetch, testQueryConfig())
	require.NoError(t, err)
	defer q.Close()

	st := q.State()
	assert.True(t, st.IsLoading)
	assert.True(t, st.IsFetching)
	assert.False(t, st.HasData)

	close(gate)

	st = waitForState[[]string](t, q, func(st QueryState[[]string]) bool {
		return st.HasData && !st.IsFetching
	})
	assert.Equal(t, []string{"q1", "q2"}, st.Data)
	assert.False(t, st.IsLoading)
	assert.NoError(t, st.Err)

	cached, err := cache.Value[[]string](store, "quotes:list")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuery_SecondMountAdoptsCachedDataSynchronously(t *testing.T) {
	store := newTestStore(t, nil)
	store.Set("quotes:list", []string{"cached"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"fetched"}, nil
	}

	q, err := NewQuery(store, "quotes:list", fetch, testQueryConfig())
	require.NoError(t, err)
	defer q.Close()

	st := q.State()
	assert.True(t, st.HasData)
	assert.Equal(t, []string{"cached"}, st.Data)
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsFetching)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "fresh cache entry must not trigger a fetch")
}

func TestQuery_StaleEntryServesThenRevalidates(t *testing.T) {
	clock := testsupport.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := newTestStore(t, clock.Now)
	store.Set("quotes:list", "v1")

	clock.Advance(testStaleTime + time.Second)

	cfg := testQueryConfig()
	cfg.Clock = clock
	fetch := func(ctx context.Context) (string, error) { return "v2", nil }

	q, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q.Close()

	st := q.State()
	assert.True(t, st.HasData)
	assert.Equal(t, "v1", st.Data)
	assert.False(t, st.IsLoading, "stale data still renders")
	assert.True(t, st.IsFetching, "stale entry revalidates in the background")

	st = waitForState[string](t, q, func(st QueryState[string]) bool {
		return st.Data == "v2" && !st.IsFetching
	})
	assert.Equal(t, "v2", st.Data)
	assert.False(t, st.IsLoading)
}

func TestQuery_RetriesWithLinearBackoff(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := testsupport.NewManualClock(start)
	store := newTestStore(t, clock.Now)

	var mu sync.Mutex
	var attempts []time.Time
	boom := errors.New("upstream down")
	fetch := func(ctx context.Context) (string, error) {
		mu.Lock()
		attempts = append(attempts, clock.Now())
		mu.Unlock()
		return "", boom
	}

	cfg := testQueryConfig()
	cfg.Clock = clock
	cfg.RetryCount = 3
	cfg.RetryDelay = 100 * time.Millisecond

	q, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q.Close()

	// The retry timer is armed before the failure is emitted, so once the
	// error is visible it is safe to advance the clock.
	st := waitForState[string](t, q, func(st QueryState[string]) bool { return st.Err != nil })
	assert.True(t, st.IsFetching, "retry chain counts as fetching")
	assert.False(t, st.IsError, "error state waits for the retry budget")

	clock.Advance(100 * time.Millisecond) // retry 1
	clock.Advance(200 * time.Millisecond) // retry 2
	clock.Advance(300 * time.Millisecond) // retry 3

	st = q.State()
	assert.True(t, st.IsError)
	assert.False(t, st.IsFetching)
	assert.ErrorIs(t, st.Err, boom)
	assert.False(t, st.HasData)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 4, "one initial attempt plus three retries")
	require.WithinDuration(t, start, attempts[0], 0)
	require.WithinDuration(t, start.Add(100*time.Millisecond), attempts[1], 0)
	require.WithinDuration(t, start.Add(300*time.Millisecond), attempts[2], 0)
	require.WithinDuration(t, start.Add(600*time.Millisecond), attempts[3], 0)
}

func TestQuery_FailedRevalidationKeepsLastGoodData(t *testing.T) {
	clock := testsupport.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock.Now)
	store.Set("quotes:list", "good")
	clock.Advance(testStaleTime + time.Second)

	boom := errors.New("upstream down")
	fetch := func(ctx context.Context) (string, error) { return "", boom }

	cfg := testQueryConfig()
	cfg.Clock = clock

	q, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q.Close()

	st := waitForState[string](t, q, func(st QueryState[string]) bool { return st.IsError })
	assert.True(t, st.HasData)
	assert.Equal(t, "good", st.Data)
	assert.ErrorIs(t, st.Err, boom)

	cached, cacheErr := cache.Value[string](store, "quotes:list")
	require.NoError(t, cacheErr)
	assert.Equal(t, "good", cached, "failed fetches never write to the cache")
}

func TestQuery_CloseDropsInFlightCompletion(t *testing.T) {
	store := newTestStore(t, nil)

	gate := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		<-gate
		return "late", nil
	}

	q, err := NewQuery(store, "quotes:list", fetch, testQueryConfig())
	require.NoError(t, err)

	var emissions atomic.Int32
	q.OnStateChange(func(QueryState[string]) { emissions.Add(1) })

	q.Close()
	before := emissions.Load()
	close(gate)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, emissions.Load(), "no emissions after Close")
	assert.Equal(t, 0, store.Len(), "no store writes after Close")
}

func TestQuery_InvalidateRefetchesEveryInstance(t *testing.T) {
	store := newTestStore(t, nil)

	var version atomic.Int32
	version.Store(1)
	var calls1, calls2 atomic.Int32

	fetchInto := func(calls *atomic.Int32) cache.FetchFn[string] {
		return func(ctx context.Context) (string, error) {
			calls.Add(1)
			return fmt.Sprintf("v%d", version.Load()), nil
		}
	}

	q1, err := NewQuery(store, "quotes:list", fetchInto(&calls1), testQueryConfig())
	require.NoError(t, err)
	defer q1.Close()
	waitForState[string](t, q1, func(st QueryState[string]) bool { return st.HasData && !st.IsFetching })

	q2, err := NewQuery(store, "quotes:list", fetchInto(&calls2), testQueryConfig())
	require.NoError(t, err)
	defer q2.Close()

	st2 := q2.State()
	assert.True(t, st2.HasData, "second instance adopts the cached value")
	assert.Equal(t, "v1", st2.Data)

	version.Store(2)
	q1.Invalidate()

	waitForState[string](t, q1, func(st QueryState[string]) bool { return st.Data == "v2" && !st.IsFetching })
	waitForState[string](t, q2, func(st QueryState[string]) bool { return st.Data == "v2" && !st.IsFetching })

	assert.Equal(t, int32(2), calls1.Load(), "owner fetched at mount and after invalidation")
	assert.Equal(t, int32(1), calls2.Load(), "peer fetched only after invalidation")
}

func TestQuery_FocusRevalidatesOnlyWhenStale(t *testing.T) {
	clock := testsupport.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock.Now)
	focus := testsupport.NewManualFocus()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}

	cfg := testQueryConfig()
	cfg.Clock = clock
	cfg.Focus = focus

	q, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q.Close()

	waitForState[string](t, q, func(st QueryState[string]) bool { return st.HasData && !st.IsFetching })
	require.Equal(t, int32(1), calls.Load())

	focus.Focus()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "fresh data stays quiet on focus")

	clock.Advance(testStaleTime + time.Second)
	focus.Focus()

	st := waitForState[string](t, q, func(st QueryState[string]) bool { return st.Data == "v2" && !st.IsFetching })
	assert.Equal(t, "v2", st.Data)
	assert.Equal(t, int32(2), calls.Load())

	require.Equal(t, 1, focus.SubscriberCount())
	q.Close()
	assert.Equal(t, 0, focus.SubscriberCount(), "Close removes the focus subscription")
}

func TestQuery_IntervalRevalidates(t *testing.T) {
	clock := testsupport.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock.Now)

	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}

	cfg := testQueryConfig()
	cfg.Clock = clock
	cfg.RefetchInterval = time.Minute

	q, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q.Close()

	waitForState[string](t, q, func(st QueryState[string]) bool { return st.HasData && !st.IsFetching })
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Minute)

	st := waitForState[string](t, q, func(st QueryState[string]) bool { return st.Data == "v2" && !st.IsFetching })
	assert.Equal(t, "v2", st.Data)

	q.SetRefetchInterval(0)
	assert.Equal(t, 0, clock.PendingTimers(), "disabling the interval releases its timer")

	clock.Advance(10 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuery_RefetchWhileInFlightQueuesExactlyOne(t *testing.T) {
	store := newTestStore(t, nil)

	gate := make(chan struct{}, 2)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		<-gate
		return fmt.Sprintf("v%d", n), nil
	}

	q, err := NewQuery(store, "quotes:list", fetch, testQueryConfig())
	require.NoError(t, err)
	defer q.Close()

	// Three refetches against the in-flight mount fetch fold into a single
	// follow-up.
	q.Refetch()
	q.Refetch()
	q.Refetch()

	gate <- struct{}{}
	gate <- struct{}{}

	st := waitForState[string](t, q, func(st QueryState[string]) bool { return st.Data == "v2" && !st.IsFetching })
	assert.Equal(t, "v2", st.Data)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuery_ObserverDisposeStopsDelivery(t *testing.T) {
	store := newTestStore(t, nil)
	store.Set("quotes:list", "v1")

	fetch := func(ctx context.Context) (string, error) { return "v2", nil }
	q, err := NewQuery(store, "quotes:list", fetch, testQueryConfig())
	require.NoError(t, err)
	defer q.Close()

	var delivered atomic.Int32
	unsub := q.OnStateChange(func(QueryState[string]) { delivered.Add(1) })
	unsub()
	unsub() // second call is a no-op

	q.Refetch()
	waitForState[string](t, q, func(st QueryState[string]) bool { return st.Data == "v2" && !st.IsFetching })

	assert.Equal(t, int32(0), delivered.Load())
}

func TestQuery_SharedFetcherCoalescesConcurrentMounts(t *testing.T) {
	store := newTestStore(t, nil)

	fetcherCfg := cache.DefaultFetcherConfig()
	fetcherCfg.Window = 10 * time.Second
	fetcher, err := cache.NewSharedFetcher(fetcherCfg)
	require.NoError(t, err)

	var upstream atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		upstream.Add(1)
		time.Sleep(100 * time.Millisecond)
		return "shared", nil
	}

	cfg := testQueryConfig()
	cfg.SharedFetcher = fetcher

	q1, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q1.Close()
	q2, err := NewQuery(store, "quotes:list", fetch, cfg)
	require.NoError(t, err)
	defer q2.Close()

	waitForState[string](t, q1, func(st QueryState[string]) bool { return st.HasData && !st.IsFetching })
	waitForState[string](t, q2, func(st QueryState[string]) bool { return st.HasData && !st.IsFetching })

	assert.Equal(t, int32(1), upstream.Load(), "concurrent mounts share one upstream call")

	q1.Refetch()
	waitForState[string](t, q1, func(st QueryState[string]) bool { return !st.IsFetching })
	assert.Equal(t, int32(2), upstream.Load(), "forced refetch drops the sharing window first")
}

func TestQuery_ForeignTypeWriteIgnored(t *testing.T) {
	store := newTestStore(t, nil)

	fetch := func(ctx context.Context) (int, error) { return 42, nil }
	q, err := NewQuery(store, "quotes:count", fetch, testQueryConfig())
	require.NoError(t, err)
	defer q.Close()

	waitForState[int](t, q, func(st QueryState[int]) bool { return st.HasData && !st.IsFetching })

	// Another producer writes an incompatible payload under the same key.
	store.Set("quotes:count", "not a count")

	st := q.State()
	assert.Equal(t, 42, st.Data, "incompatible payloads are ignored")
	assert.True(t, st.HasData)
	assert.False(t, st.IsError)
}

func TestNewQuery_Validation(t *testing.T) {
	store := newTestStore(t, nil)
	fetch := func(ctx context.Context) (string, error) { return "", nil }

	_, err := NewQuery[string](nil, "key", fetch, testQueryConfig())
	assert.Error(t, err)

	_, err = NewQuery(store, "", fetch, testQueryConfig())
	assert.Error(t, err)

	_, err = NewQuery[string](store, "key", nil, testQueryConfig())
	assert.Error(t, err)

	bad := testQueryConfig()
	bad.RetryCount = -1
	_, err = NewQuery(store, "key", fetch, bad)
	assert.Error(t, err)
}
