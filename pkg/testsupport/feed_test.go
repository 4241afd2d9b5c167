package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-query-sync/realtime"
)

func TestScriptedFeed_EmitReachesTableSubscribers(t *testing.T) {
	feed := NewScriptedFeed()

	quotes, err := feed.Subscribe(context.Background(), "quotes", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	users, err := feed.Subscribe(context.Background(), "users", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	feed.Emit(realtime.ChangeEvent{Type: realtime.ChangeInsert, Table: "quotes", Row: map[string]any{"id": "q1"}})

	select {
	case event := <-quotes.Events():
		if event.Table != "quotes" || event.Type != realtime.ChangeInsert {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("expected quotes stream to receive the event")
	}

	select {
	case event := <-users.Events():
		t.Errorf("users stream should not receive quotes events, got %+v", event)
	default:
	}
}

func TestScriptedFeed_FailTerminatesWithError(t *testing.T) {
	feed := NewScriptedFeed()

	stream, err := feed.Subscribe(context.Background(), "quotes", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	wantErr := errors.New("connection reset")
	feed.Fail("quotes", wantErr)

	if _, open := <-stream.Events(); open {
		t.Error("expected events channel to be closed")
	}
	if got := stream.Err(); !errors.Is(got, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, got)
	}
}

func TestScriptedFeed_ContextCancelTerminatesCleanly(t *testing.T) {
	feed := NewScriptedFeed()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := feed.Subscribe(ctx, "quotes", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	cancel()

	// Termination happens on a goroutine watching ctx; wait for the close.
	select {
	case _, open := <-stream.Events():
		if open {
			t.Error("expected events channel to be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream to terminate after context cancel")
	}

	if got := stream.Err(); !errors.Is(got, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", got)
	}
}

func TestScriptedFeed_EmitAfterCloseIsDropped(t *testing.T) {
	feed := NewScriptedFeed()

	stream, err := feed.Subscribe(context.Background(), "quotes", "")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Must not panic on the closed channel.
	feed.Emit(realtime.ChangeEvent{Type: realtime.ChangeDelete, Table: "quotes"})

	if got := stream.Err(); got != nil {
		t.Errorf("expected nil error for clean close, got %v", got)
	}
}
