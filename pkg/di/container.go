package di

import (
	"context"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/querysync"
	"github.com/goliatone/go-query-sync/realtime"
	"github.com/goliatone/go-query-sync/repoquery"
)

// Config collects the configuration for every shared component the container
// owns.
type Config struct {
	// Cache configures the shared store.
	Cache cache.Config

	// Fetcher configures the shared fetch coalescer. Nil uses defaults; the
	// container always carries a coalescer so engines built through it share
	// in-flight fetches per key.
	Fetcher *cache.FetcherConfig
}

// Container provides dependency injection for the sync layer. It manages the
// singleton store, key builder, and shared fetcher, and provides factory
// functions for creating engines wired to them.
type Container struct {
	store   cache.Store
	keys    *cache.KeyBuilder
	fetcher cache.Fetcher
	config  Config
}

// NewContainer creates a new DI container with the provided configuration.
func NewContainer(config Config) (*Container, error) {
	store, err := cache.New(config.Cache)
	if err != nil {
		return nil, err
	}

	fetcherCfg := cache.DefaultFetcherConfig()
	if config.Fetcher != nil {
		fetcherCfg = *config.Fetcher
	}
	fetcher, err := cache.NewSharedFetcher(fetcherCfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Container{
		store:   store,
		keys:    cache.NewKeyBuilder(),
		fetcher: fetcher,
		config:  config,
	}, nil
}

// NewContainerWithDefaults creates a new DI container using default
// configuration. This is a convenience constructor for typical use cases
// where custom configuration is not required.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(Config{Cache: cache.DefaultConfig()})
}

// Store returns the singleton store instance.
func (c *Container) Store() cache.Store {
	return c.store
}

// Keys returns the singleton key builder instance.
func (c *Container) Keys() *cache.KeyBuilder {
	return c.keys
}

// Fetcher returns the singleton shared fetcher instance.
func (c *Container) Fetcher() cache.Fetcher {
	return c.fetcher
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Close releases the container's store. Engines created through the
// container must be closed first.
func (c *Container) Close() error {
	return c.store.Close()
}

// NewQuery creates a query engine on the container's store, injecting the
// shared fetcher when cfg does not carry one.
//
// Since Go methods cannot have type parameters, this is provided as a
// package-level function. Example: NewQuery[[]Quote](container, key, fetch, cfg)
func NewQuery[T any](c *Container, key string, fetch cache.FetchFn[T], cfg querysync.QueryConfig) (*querysync.Query[T], error) {
	if cfg.SharedFetcher == nil {
		cfg.SharedFetcher = c.fetcher
	}
	return querysync.NewQuery(c.store, key, fetch, cfg)
}

// NewPaginated creates a pagination controller on the container's store,
// injecting the shared fetcher when cfg does not carry one.
func NewPaginated[T any](c *Container, keyFn querysync.PageKeyFn, fetch querysync.PageFetchFn[T], pageSize int, cfg querysync.QueryConfig) (*querysync.Paginated[T], error) {
	if cfg.SharedFetcher == nil {
		cfg.SharedFetcher = c.fetcher
	}
	return querysync.NewPaginated(c.store, keyFn, fetch, pageSize, cfg)
}

// NewMutation creates a mutation engine on the container's store.
func NewMutation[T, V any](c *Container, fn querysync.MutationFn[T, V], cfg querysync.MutationConfig[T, V]) (*querysync.Mutation[T, V], error) {
	return querysync.NewMutation(c.store, fn, cfg)
}

// NewBridge connects a change feed to the container's store.
func NewBridge(ctx context.Context, c *Container, feed realtime.ChangeFeed, cfg realtime.Config) (*realtime.Bridge, error) {
	return realtime.New(ctx, c.store, feed, cfg)
}

// NewSource binds a repository to the container's key builder.
func NewSource[T any](c *Container, repo repoquery.Repository[T]) (*repoquery.Source[T], error) {
	return repoquery.NewSource(repo, c.keys)
}
