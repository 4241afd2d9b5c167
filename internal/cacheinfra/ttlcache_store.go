package cacheinfra

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jellydator/ttlcache/v3"
	"github.com/puzpuzpuz/xsync/v3"
)

// Config holds the configuration for the TTL-backed store engine.
type Config struct {
	// Retention bounds how long an entry survives without being rewritten.
	// Must be greater than 0.
	Retention time.Duration

	// Capacity caps the number of live entries; oldest entries are evicted
	// beyond it. Zero means unbounded. Capacity eviction, like retention,
	// is silent: subscribers are not notified.
	Capacity uint64

	// Now supplies write timestamps. Defaults to time.Now.
	Now func() time.Time

	// Logger receives debug-level cache traffic. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Retention: 30 * time.Minute,
		Capacity:  10000,
		Now:       time.Now,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Retention, validation.Required, validation.Min(time.Duration(1))),
	)
}

// entry pairs a cached payload with its write timestamp.
type entry struct {
	payload  any
	storedAt time.Time
}

// TTLStore is the default store engine: a ttlcache-backed entry map plus a
// per-key subscriber registry. The ttlcache TTL acts as retention garbage
// collection; staleness is judged per read in IsStale.
type TTLStore struct {
	entries *ttlcache.Cache[string, entry]
	subs    *xsync.MapOf[string, *subscriberSet]
	now     func() time.Time
	logger  *slog.Logger
}

// NewTTLStore creates the store engine and starts its retention janitor.
// Callers own the lifecycle: Close stops the janitor.
func NewTTLStore(cfg Config) (*TTLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []ttlcache.Option[string, entry]{
		ttlcache.WithTTL[string, entry](cfg.Retention),
		ttlcache.WithDisableTouchOnHit[string, entry](),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, entry](cfg.Capacity))
	}

	entries := ttlcache.New[string, entry](opts...)
	go entries.Start()

	return &TTLStore{
		entries: entries,
		subs:    xsync.NewMapOf[string, *subscriberSet](),
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Get implements cache.Store.Get.
func (s *TTLStore) Get(key string) (any, time.Time, bool) {
	item := s.entries.Get(key)
	if item == nil {
		return nil, time.Time{}, false
	}
	e := item.Value()
	return e.payload, e.storedAt, true
}

// Set implements cache.Store.Set. The write lands before subscribers run, so
// a callback reading the key observes the new value.
func (s *TTLStore) Set(key string, payload any) {
	s.entries.Set(key, entry{payload: payload, storedAt: s.now()}, ttlcache.DefaultTTL)
	s.logger.Debug("cache set", "key", key)
	s.notify(key)
}

// IsStale implements cache.Store.IsStale.
func (s *TTLStore) IsStale(key string, staleTime time.Duration) bool {
	item := s.entries.Get(key)
	if item == nil {
		return true
	}
	return s.now().Sub(item.Value().storedAt) > staleTime
}

// Invalidate implements cache.Store.Invalidate. Subscribers hear about it
// whether or not an entry existed.
func (s *TTLStore) Invalidate(key string) {
	s.entries.Delete(key)
	s.logger.Debug("cache invalidate", "key", key)
	s.notify(key)
}

// InvalidatePattern implements cache.Store.InvalidatePattern.
func (s *TTLStore) InvalidatePattern(pattern string) int {
	removed := s.invalidateMatching(func(key string) bool {
		return strings.Contains(key, pattern)
	})
	s.logger.Debug("cache invalidate pattern", "pattern", pattern, "removed", removed)
	return removed
}

// InvalidateRegexp implements cache.Store.InvalidateRegexp.
func (s *TTLStore) InvalidateRegexp(re *regexp.Regexp) int {
	removed := s.invalidateMatching(re.MatchString)
	s.logger.Debug("cache invalidate regexp", "pattern", re.String(), "removed", removed)
	return removed
}

// invalidateMatching removes matching entries and notifies the union of the
// removed keys and the matching registered subscriber keys, each once.
func (s *TTLStore) invalidateMatching(match func(string) bool) int {
	notified := make(map[string]struct{})
	removed := 0

	for _, key := range s.entries.Keys() {
		if !match(key) {
			continue
		}
		s.entries.Delete(key)
		removed++
		notified[key] = struct{}{}
	}

	// Subscriber keys without a live entry still match: an instance that
	// never managed to cache anything must not miss the invalidation.
	s.subs.Range(func(key string, _ *subscriberSet) bool {
		if match(key) {
			notified[key] = struct{}{}
		}
		return true
	})

	for key := range notified {
		s.notify(key)
	}
	return removed
}

// Subscribe implements cache.Store.Subscribe.
func (s *TTLStore) Subscribe(key string, fn func()) func() {
	set, _ := s.subs.LoadOrCompute(key, newSubscriberSet)
	return set.add(fn)
}

// Keys implements cache.Store.Keys.
func (s *TTLStore) Keys() []string {
	return s.entries.Keys()
}

// Len implements cache.Store.Len.
func (s *TTLStore) Len() int {
	return s.entries.Len()
}

// Close implements cache.Store.Close.
func (s *TTLStore) Close() error {
	s.entries.Stop()
	return nil
}

// notify runs key's callbacks against a snapshot so a callback may
// subscribe, unsubscribe, or call back into the store.
func (s *TTLStore) notify(key string) {
	set, ok := s.subs.Load(key)
	if !ok {
		return
	}
	for _, fn := range set.snapshot() {
		fn()
	}
}

// subscriberSet is a mutex-guarded callback registry for one key. Sets stay
// registered for the store's lifetime even when emptied; subscriber counts
// are bounded by live engine instances.
type subscriberSet struct {
	mu  sync.Mutex
	seq int
	fns map[int]func()
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{fns: make(map[int]func())}
}

func (s *subscriberSet) add(fn func()) func() {
	s.mu.Lock()
	id := s.seq
	s.seq++
	s.fns[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

// snapshot returns the callbacks in registration order.
func (s *subscriberSet) snapshot() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]func(), len(ids))
	for i, id := range ids {
		out[i] = s.fns[id]
	}
	return out
}
