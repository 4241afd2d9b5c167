package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T) Fetcher {
	t.Helper()

	cfg := DefaultFetcherConfig()
	// A long window keeps sharing behavior deterministic under test.
	cfg.Window = time.Minute

	fetcher, err := NewSharedFetcher(cfg)
	if err != nil {
		t.Fatalf("NewSharedFetcher() error = %v", err)
	}
	return fetcher
}

func TestFetchShared_CoalescesConcurrentCallers(t *testing.T) {
	fetcher := newTestFetcher(t)

	var upstream atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		upstream.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := FetchShared(context.Background(), fetcher, "quotes:list", fetch)
			if err != nil {
				t.Errorf("FetchShared() error = %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if n := upstream.Load(); n != 1 {
		t.Errorf("upstream ran %d times for concurrent callers, want 1", n)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("caller %d got %q, want shared", i, v)
		}
	}
}

func TestFetchShared_ForgetForcesUpstream(t *testing.T) {
	fetcher := newTestFetcher(t)

	var upstream atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		upstream.Add(1)
		return "v", nil
	}

	if _, err := FetchShared(context.Background(), fetcher, "quotes:list", fetch); err != nil {
		t.Fatalf("FetchShared() error = %v", err)
	}
	if _, err := FetchShared(context.Background(), fetcher, "quotes:list", fetch); err != nil {
		t.Fatalf("FetchShared() error = %v", err)
	}
	if n := upstream.Load(); n != 1 {
		t.Fatalf("upstream ran %d times inside the window, want 1", n)
	}

	fetcher.Forget("quotes:list")

	if _, err := FetchShared(context.Background(), fetcher, "quotes:list", fetch); err != nil {
		t.Fatalf("FetchShared() error = %v", err)
	}
	if n := upstream.Load(); n != 2 {
		t.Errorf("upstream ran %d times after Forget, want 2", n)
	}
}

func TestFetchShared_TypeMismatchWithinWindow(t *testing.T) {
	fetcher := newTestFetcher(t)

	if _, err := FetchShared(context.Background(), fetcher, "quotes:list", func(ctx context.Context) (string, error) {
		return "payload", nil
	}); err != nil {
		t.Fatalf("FetchShared() error = %v", err)
	}

	// The window still holds a string for this key.
	_, err := FetchShared(context.Background(), fetcher, "quotes:list", func(ctx context.Context) (int, error) {
		return 0, nil
	})
	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("FetchShared() error = %v, want ErrInvalidResultType", err)
	}
}

func TestFetchShared_PropagatesUpstreamError(t *testing.T) {
	fetcher := newTestFetcher(t)

	_, err := FetchShared(context.Background(), fetcher, "quotes:list", func(ctx context.Context) (string, error) {
		return "", errors.New("upstream down")
	})
	if err == nil {
		t.Error("expected upstream error but got none")
	}
}

func TestFetcherConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FetcherConfig)
		wantErr bool
	}{
		{
			name:   "defaults pass",
			mutate: func(*FetcherConfig) {},
		},
		{
			name:    "zero capacity",
			mutate:  func(c *FetcherConfig) { c.Capacity = 0 },
			wantErr: true,
		},
		{
			name:    "zero shards",
			mutate:  func(c *FetcherConfig) { c.NumShards = 0 },
			wantErr: true,
		},
		{
			name:    "zero window",
			mutate:  func(c *FetcherConfig) { c.Window = 0 },
			wantErr: true,
		},
		{
			name:    "eviction percentage above 100",
			mutate:  func(c *FetcherConfig) { c.EvictionPercentage = 101 },
			wantErr: true,
		},
		{
			name:    "eviction percentage below 1",
			mutate:  func(c *FetcherConfig) { c.EvictionPercentage = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFetcherConfig()
			tt.mutate(&cfg)

			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
