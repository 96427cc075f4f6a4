package query

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// DefaultStaleTime is how long an aggregated result is served from cache
// before a background refresh is triggered.
const DefaultStaleTime = 30 * time.Second

// Options configures a Client.
type Options struct {
	AuthProvider konflux.AuthProvider
	StaleTime    time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Client caches paginated queries by identity. All queries share the
// fetcher and the read-only auth provider.
type Client[T any] struct {
	fetcher      PageFetcher[T]
	logger       *logrus.Logger
	authProvider konflux.AuthProvider
	staleTime    time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queries map[string]*PaginatedQuery[T]
}

// NewClient creates a query client.
func NewClient[T any](fetcher PageFetcher[T], logger *logrus.Logger, opts Options) *Client[T] {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.AuthProvider == "" {
		opts.AuthProvider = konflux.DefaultAuthProvider
	}
	if opts.StaleTime == 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client[T]{
		fetcher:      fetcher,
		logger:       logger,
		authProvider: opts.AuthProvider,
		staleTime:    opts.StaleTime,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
		queries:      make(map[string]*PaginatedQuery[T]),
	}
}

// Query returns the cached query for key, creating it on first use.
func (c *Client[T]) Query(key Key) *PaginatedQuery[T] {
	id := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queries[id]; ok {
		return q
	}

	ctx, cancel := context.WithCancel(c.ctx)
	q := &PaginatedQuery[T]{
		client: c,
		key:    NewKey(key.Kind, key.EntityRef, key.Subcomponent, key.Clusters, key.Application),
		logger: c.logger,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
	c.queries[id] = q
	return q
}

// Forget evicts a query, cancelling any request in flight for it.
func (c *Client[T]) Forget(key Key) {
	id := key.String()

	c.mu.Lock()
	q, ok := c.queries[id]
	delete(c.queries, id)
	c.mu.Unlock()

	if ok {
		q.CancelInFlight()
		q.cancel()
	}
}

// Len returns the number of cached queries.
func (c *Client[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// Close cancels every query and empties the cache.
func (c *Client[T]) Close() {
	c.mu.Lock()
	queries := c.queries
	c.queries = make(map[string]*PaginatedQuery[T])
	c.mu.Unlock()

	for _, q := range queries {
		q.CancelInFlight()
	}
	c.cancel()
}
