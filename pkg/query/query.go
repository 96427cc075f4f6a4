package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/konflux-aggregator/pkg/backend"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// State is the lifecycle state of a paginated query.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateHasMore   State = "has_more"
	StateExhausted State = "exhausted"
	StateError     State = "error"
)

// ErrStaleResponse is returned to a caller whose response arrived after the
// query was cancelled or refetched. The response is discarded.
var ErrStaleResponse = errors.New("response discarded: query was cancelled or refetched")

// PageFetcher fetches a single page of resources.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, req backend.PageRequest) (*konflux.ResourcePage[T], error)
}

// Snapshot is an immutable view of a query's accumulated result.
type Snapshot[T any] struct {
	konflux.AggregatedResource[T]

	State      State
	HasMore    bool
	Refreshing bool
	Err        error
	FetchedAt  time.Time
	PageCount  int
}

// PaginatedQuery accumulates the pages of one query identity. Pages are
// requested strictly in sequence and appended in the order they arrive.
type PaginatedQuery[T any] struct {
	client *Client[T]
	key    Key
	logger *logrus.Logger

	// ctx lives as long as the query is cached.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	pages      []*konflux.ResourcePage[T]
	err        error
	fetchedAt  time.Time
	generation uint64
	refreshing bool
	// done is closed when the in-flight operation finishes; nil when idle.
	done     chan struct{}
	opCancel context.CancelFunc
}

// Key returns the identity of the query.
func (q *PaginatedQuery[T]) Key() Key {
	return q.key
}

// Fetch returns the query result, requesting the first page when nothing is
// cached. Cached data is returned without a network call while fresh; stale
// data is returned immediately and refreshed in the background. A query in
// the error state stays there until Refetch.
//
// A caller that joins a first-page request in flight waits for it. When that
// request ends without a page, for example because its owner was cancelled,
// the caller requests the page itself on its own context.
func (q *PaginatedQuery[T]) Fetch(ctx context.Context) (Snapshot[T], error) {
	for {
		q.mu.Lock()
		switch {
		case q.state == StateError:
			snap := q.snapshotLocked()
			q.mu.Unlock()
			return snap, snap.Err
		case len(q.pages) > 0:
			if !q.isFreshLocked() && q.done == nil {
				q.startRevalidateLocked()
			}
			snap := q.snapshotLocked()
			q.mu.Unlock()
			return snap, nil
		case q.done != nil:
			done := q.done
			q.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return q.Snapshot(), ctx.Err()
			}
		default:
			return q.fetchNextLocked(ctx)
		}
	}
}

// LoadMore requests the next page. It is a no-op when no further pages exist,
// when the query is in the error state, or when a request is already in flight.
func (q *PaginatedQuery[T]) LoadMore(ctx context.Context) (Snapshot[T], error) {
	q.mu.Lock()
	if q.state != StateHasMore || q.done != nil {
		snap := q.snapshotLocked()
		q.mu.Unlock()
		return snap, nil
	}
	return q.fetchNextLocked(ctx)
}

// Refetch discards all pages and starts again from the first page. It is the
// only way out of the error state.
func (q *PaginatedQuery[T]) Refetch(ctx context.Context) (Snapshot[T], error) {
	q.mu.Lock()
	q.abortLocked()
	q.pages = nil
	q.err = nil
	q.fetchedAt = time.Time{}
	q.state = StateIdle
	return q.fetchNextLocked(ctx)
}

// LoadAll fetches pages until the query is exhausted, maxPages pages are
// loaded (0 means no limit), or ctx is cancelled.
func (q *PaginatedQuery[T]) LoadAll(ctx context.Context, maxPages int) (Snapshot[T], error) {
	snap, err := q.Fetch(ctx)
	for err == nil {
		if err = q.Wait(ctx); err != nil {
			break
		}
		snap = q.Snapshot()
		if snap.Err != nil {
			return snap, snap.Err
		}
		if !snap.HasMore || (maxPages > 0 && snap.PageCount >= maxPages) {
			break
		}
		snap, err = q.LoadMore(ctx)
	}
	return snap, err
}

// Wait blocks until no request is in flight for the query.
func (q *PaginatedQuery[T]) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		done := q.done
		q.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CancelInFlight aborts the in-flight request, if any. Accumulated pages are
// kept and a late response is discarded.
func (q *PaginatedQuery[T]) CancelInFlight() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done == nil {
		return
	}
	q.abortLocked()
	q.state = q.settledStateLocked()
}

// Snapshot returns the current accumulated result.
func (q *PaginatedQuery[T]) Snapshot() Snapshot[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *PaginatedQuery[T]) abortLocked() {
	q.generation++
	if q.opCancel != nil {
		q.opCancel()
	}
	q.done = nil
	q.opCancel = nil
	q.refreshing = false
}

// fetchNextLocked requests the page following the last accumulated page.
// It must be called with q.mu held and releases it.
func (q *PaginatedQuery[T]) fetchNextLocked(ctx context.Context) (Snapshot[T], error) {
	token := ""
	if n := len(q.pages); n > 0 {
		token = q.pages[n-1].ContinuationToken
	}
	gen := q.generation
	done := make(chan struct{})
	opCtx, cancel := q.operationContext(ctx)
	q.done, q.opCancel = done, cancel
	q.state = StateLoading
	q.mu.Unlock()

	page, err := q.client.fetcher.FetchPage(opCtx, q.request(token))
	cancelled := opCtx.Err() != nil
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	defer close(done)
	if q.done == done {
		q.done, q.opCancel = nil, nil
	}

	if gen != q.generation {
		q.logger.Debugf("Discarding stale %s page for %s", q.key.Kind, q.key.EntityRef)
		return q.snapshotLocked(), ErrStaleResponse
	}

	if err != nil {
		if cancelled {
			q.state = q.settledStateLocked()
			return q.snapshotLocked(), err
		}
		q.logger.Warnf("Failed to fetch %s for %s: %v", q.key.Kind, q.key.EntityRef, err)
		q.err = err
		q.state = StateError
		return q.snapshotLocked(), err
	}

	q.pages = append(q.pages, page)
	q.fetchedAt = q.client.now()
	q.err = nil
	q.state = q.settledStateLocked()
	q.logger.Debugf("Fetched page %d of %s for %s (%d items, %d cluster errors, more: %t)",
		len(q.pages), q.key.Kind, q.key.EntityRef, len(page.Data), len(page.ClusterErrors), page.HasMore())
	return q.snapshotLocked(), nil
}

// startRevalidateLocked refreshes the loaded pages in the background while
// the stale data stays visible.
func (q *PaginatedQuery[T]) startRevalidateLocked() {
	gen := q.generation
	pageCount := len(q.pages)
	done := make(chan struct{})
	opCtx, cancel := context.WithCancel(q.ctx)
	q.done, q.opCancel = done, cancel
	q.refreshing = true

	q.logger.Debugf("Revalidating stale %s for %s (%d pages)", q.key.Kind, q.key.EntityRef, pageCount)
	go q.revalidate(opCtx, cancel, gen, pageCount, done)
}

func (q *PaginatedQuery[T]) revalidate(ctx context.Context, cancel context.CancelFunc, gen uint64, pageCount int, done chan struct{}) {
	var (
		pages []*konflux.ResourcePage[T]
		token string
		err   error
	)
	for i := 0; i < pageCount; i++ {
		page, fetchErr := q.client.fetcher.FetchPage(ctx, q.request(token))
		if fetchErr != nil {
			err = fetchErr
			break
		}
		pages = append(pages, page)
		if !page.HasMore() {
			break
		}
		token = page.ContinuationToken
	}
	cancelled := ctx.Err() != nil
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	defer close(done)
	if q.done == done {
		q.done, q.opCancel = nil, nil
		q.refreshing = false
	}

	switch {
	case gen != q.generation:
		q.logger.Debugf("Discarding stale revalidation of %s for %s", q.key.Kind, q.key.EntityRef)
	case err != nil && cancelled:
	case err != nil:
		q.logger.Warnf("Background refresh of %s for %s failed: %v", q.key.Kind, q.key.EntityRef, err)
		q.err = err
		q.state = StateError
	default:
		q.pages = pages
		q.fetchedAt = q.client.now()
		q.err = nil
		q.state = q.settledStateLocked()
	}
}

// operationContext derives a request context from the caller's context that
// is also cancelled when the query is forgotten.
func (q *PaginatedQuery[T]) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (q *PaginatedQuery[T]) request(token string) backend.PageRequest {
	return backend.PageRequest{
		Kind:              q.key.Kind,
		EntityRef:         q.key.EntityRef,
		Subcomponent:      q.key.Subcomponent,
		Clusters:          q.key.Clusters,
		Application:       q.key.Application,
		ContinuationToken: token,
		AuthProvider:      q.client.authProvider,
	}
}

func (q *PaginatedQuery[T]) isFreshLocked() bool {
	return q.client.now().Sub(q.fetchedAt) < q.client.staleTime
}

func (q *PaginatedQuery[T]) settledStateLocked() State {
	switch {
	case q.err != nil:
		return StateError
	case len(q.pages) == 0:
		return StateIdle
	case q.pages[len(q.pages)-1].HasMore():
		return StateHasMore
	default:
		return StateExhausted
	}
}

// snapshotLocked copies the accumulated data. Cluster errors come from the
// most recent page only.
func (q *PaginatedQuery[T]) snapshotLocked() Snapshot[T] {
	snap := Snapshot[T]{
		AggregatedResource: konflux.AggregatedResource[T]{
			Data:          []T{},
			ClusterErrors: []konflux.ClusterError{},
		},
		State:      q.state,
		Refreshing: q.refreshing,
		Err:        q.err,
		FetchedAt:  q.fetchedAt,
		PageCount:  len(q.pages),
	}
	for _, page := range q.pages {
		snap.Data = append(snap.Data, page.Data...)
	}
	if n := len(q.pages); n > 0 {
		last := q.pages[n-1]
		snap.ClusterErrors = append(snap.ClusterErrors, last.ClusterErrors...)
		snap.HasMore = last.HasMore() && q.state != StateError
	}
	return snap
}
