package di

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/goliatone/go-query-sync/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quietCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Logger = discardLogger()
	return cfg
}

func TestNewContainer(t *testing.T) {
	fetcherCfg := cache.FetcherConfig{
		Capacity:           500,
		NumShards:          8,
		Window:             250 * time.Millisecond,
		EvictionPercentage: 10,
	}
	config := Config{
		Cache: cache.Config{
			Retention: 10 * time.Minute,
			Capacity:  1000,
			Logger:    discardLogger(),
		},
		Fetcher: &fetcherCfg,
	}

	container, err := NewContainer(config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { container.Close() })

	if container.Store() == nil {
		t.Error("Container should have a non-nil store")
	}
	if container.Keys() == nil {
		t.Error("Container should have a non-nil key builder")
	}
	if container.Fetcher() == nil {
		t.Error("Container should have a non-nil shared fetcher")
	}

	stored := container.Config()
	if stored.Cache.Retention != config.Cache.Retention {
		t.Errorf("Expected retention %v, got %v", config.Cache.Retention, stored.Cache.Retention)
	}
	if stored.Fetcher.Window != fetcherCfg.Window {
		t.Errorf("Expected fetcher window %v, got %v", fetcherCfg.Window, stored.Fetcher.Window)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	t.Cleanup(func() { container.Close() })

	config := container.Config()
	defaultConfig := cache.DefaultConfig()

	if config.Cache.Retention != defaultConfig.Retention {
		t.Errorf("Expected default retention %v, got %v", defaultConfig.Retention, config.Cache.Retention)
	}
	if config.Cache.Capacity != defaultConfig.Capacity {
		t.Errorf("Expected default capacity %d, got %d", defaultConfig.Capacity, config.Cache.Capacity)
	}
	if config.Fetcher != nil {
		t.Error("Expected nil fetcher config to stay nil in the stored config")
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	t.Run("invalid cache config", func(t *testing.T) {
		_, err := NewContainer(Config{Cache: cache.Config{Retention: 0}})
		if err == nil {
			t.Error("NewContainer() should fail with zero retention")
		}
	})

	t.Run("invalid fetcher config", func(t *testing.T) {
		_, err := NewContainer(Config{
			Cache:   quietCacheConfig(),
			Fetcher: &cache.FetcherConfig{Capacity: 0},
		})
		if err == nil {
			t.Error("NewContainer() should fail with an invalid fetcher config")
		}
	})
}

func TestContainerSingletonBehavior(t *testing.T) {
	container, err := NewContainer(Config{Cache: quietCacheConfig()})
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { container.Close() })

	if container.Store() != container.Store() {
		t.Error("Store() should return the same instance (singleton behavior)")
	}
	if container.Keys() != container.Keys() {
		t.Error("Keys() should return the same instance (singleton behavior)")
	}
	if container.Fetcher() != container.Fetcher() {
		t.Error("Fetcher() should return the same instance (singleton behavior)")
	}
}

func TestKeyBuilderIntegration(t *testing.T) {
	container, err := NewContainer(Config{Cache: quietCacheConfig()})
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { container.Close() })

	keys := container.Keys()

	testCases := []struct {
		name     string
		got      string
		expected string
	}{
		{
			name:     "entity only",
			got:      keys.Build("users", nil),
			expected: "users",
		},
		{
			name:     "entity with filters",
			got:      keys.Build("users", map[string]any{"active": true}),
			expected: "users:active=true",
		},
		{
			name:     "paged",
			got:      keys.BuildPage("users", nil, 2, 20),
			expected: "users:page=2:size=20",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.expected {
				t.Errorf("Expected key %q, got %q", tc.expected, tc.got)
			}
		})
	}
}

func TestStoreIntegration(t *testing.T) {
	container, err := NewContainer(Config{Cache: quietCacheConfig()})
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { container.Close() })

	store := container.Store()

	store.Set("users:u1", "payload")

	value, err := cache.Value[string](store, "users:u1")
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if value != "payload" {
		t.Errorf("Expected value %q, got %q", "payload", value)
	}

	if store.IsStale("users:u1", time.Minute) {
		t.Error("Entry written this instant should not be stale")
	}

	if removed := store.InvalidatePattern("users"); removed != 1 {
		t.Errorf("Expected 1 entry removed, got %d", removed)
	}
}
