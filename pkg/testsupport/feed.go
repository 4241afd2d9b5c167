package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-query-sync/realtime"
)

// ScriptedFeed is a realtime.ChangeFeed driven by the test: Emit delivers an
// event to every stream subscribed to its table, Fail terminates a table's
// streams with an error.
type ScriptedFeed struct {
	mu      sync.Mutex
	streams map[string][]*scriptedStream
}

// NewScriptedFeed returns a feed with no subscribers.
func NewScriptedFeed() *ScriptedFeed {
	return &ScriptedFeed{streams: make(map[string][]*scriptedStream)}
}

// Subscribe opens a stream for table. The filter is recorded but not
// interpreted; tests decide what to Emit. The stream terminates when ctx
// ends, when Fail is called for its table, or when it is closed.
func (f *ScriptedFeed) Subscribe(ctx context.Context, table, filter string) (realtime.ChangeStream, error) {
	s := &scriptedStream{
		table:  table,
		filter: filter,
		events: make(chan realtime.ChangeEvent, 64),
	}

	f.mu.Lock()
	f.streams[table] = append(f.streams[table], s)
	f.mu.Unlock()

	if ctx != nil {
		go func() {
			<-ctx.Done()
			s.terminate(ctx.Err())
		}()
	}
	return s, nil
}

// Emit delivers event to every open stream subscribed to event.Table.
// Delivery does not block; events beyond a stream's buffer are dropped.
func (f *ScriptedFeed) Emit(event realtime.ChangeEvent) {
	f.mu.Lock()
	streams := append([]*scriptedStream(nil), f.streams[event.Table]...)
	f.mu.Unlock()

	for _, s := range streams {
		s.deliver(event)
	}
}

// Fail terminates every open stream on table with err.
func (f *ScriptedFeed) Fail(table string, err error) {
	f.mu.Lock()
	streams := append([]*scriptedStream(nil), f.streams[table]...)
	f.mu.Unlock()

	for _, s := range streams {
		s.terminate(err)
	}
}

type scriptedStream struct {
	table  string
	filter string

	mu     sync.Mutex
	events chan realtime.ChangeEvent
	err    error
	closed bool
}

func (s *scriptedStream) Events() <-chan realtime.ChangeEvent { return s.events }

func (s *scriptedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *scriptedStream) Close() error {
	s.terminate(nil)
	return nil
}

func (s *scriptedStream) deliver(event realtime.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

func (s *scriptedStream) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
