package testsupport

import (
	"sort"
	"sync"
)

// ManualFocus is a hand-triggered focus source for engine tests. It
// satisfies the querysync focus contract.
type ManualFocus struct {
	mu   sync.Mutex
	seq  int
	subs map[int]func()
}

// NewManualFocus returns an empty focus source.
func NewManualFocus() *ManualFocus {
	return &ManualFocus{subs: make(map[int]func())}
}

// OnFocus registers fn to run on every Focus call. The returned func removes
// the registration.
func (f *ManualFocus) OnFocus(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.seq
	f.seq++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Focus simulates the application regaining focus, running every registered
// callback in registration order.
func (f *ManualFocus) Focus() {
	f.mu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = f.subs[id]
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SubscriberCount reports how many callbacks are registered. Useful for
// asserting that Close unsubscribed.
func (f *ManualFocus) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
