package query

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konflux-ci/konflux-aggregator/pkg/backend"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

// fakeFetcher serves scripted pages keyed by continuation token.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]*konflux.ResourcePage[string]
	errs     map[string]error
	requests []backend.PageRequest
	// gate, when set, blocks every request until it receives a value.
	gate chan struct{}
	// started is signalled when a request begins.
	started chan struct{}
	// honorCtx makes a gated request return early when its context ends.
	honorCtx bool
}

func newFakeFetcher(pages map[string]*konflux.ResourcePage[string]) *fakeFetcher {
	return &fakeFetcher{pages: pages, errs: map[string]error{}}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req backend.PageRequest) (*konflux.ResourcePage[string], error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate, started, honorCtx := f.gate, f.started, f.honorCtx
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		if honorCtx {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-gate
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[req.ContinuationToken]; err != nil {
		return nil, err
	}
	page, ok := f.pages[req.ContinuationToken]
	if !ok {
		return nil, errors.New("unexpected continuation token " + req.ContinuationToken)
	}
	copied := *page
	return &copied, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFetcher) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokens := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		tokens = append(tokens, r.ContinuationToken)
	}
	return tokens
}

func (f *fakeFetcher) setPage(token string, page *konflux.ResourcePage[string]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[token] = page
}

func (f *fakeFetcher) setErr(token string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[token] = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func twoPages() map[string]*konflux.ResourcePage[string] {
	return map[string]*konflux.ResourcePage[string]{
		"":  {Data: []string{"a"}, ContinuationToken: "x"},
		"x": {Data: []string{"b"}},
	}
}

func testKey() Key {
	return NewKey(konflux.KindReleases, "component:default/test-entity", "", []string{"c2", "c1"}, "")
}

func newTestClient(f *fakeFetcher, clock *fakeClock) *Client[string] {
	opts := Options{StaleTime: 30 * time.Second}
	if clock != nil {
		opts.Now = clock.Now
	}
	return NewClient[string](f, quietLogger(), opts)
}

func TestKey_Identity(t *testing.T) {
	a := NewKey(konflux.KindReleases, "component:default/x", "sub", []string{"b", "a"}, "app")
	b := NewKey(konflux.KindReleases, "component:default/x", "sub", []string{"a", "b"}, "app")
	assert.Equal(t, a.String(), b.String())

	different := []Key{
		NewKey(konflux.KindApplications, "component:default/x", "sub", []string{"a", "b"}, "app"),
		NewKey(konflux.KindReleases, "component:default/y", "sub", []string{"a", "b"}, "app"),
		NewKey(konflux.KindReleases, "component:default/x", "other", []string{"a", "b"}, "app"),
		NewKey(konflux.KindReleases, "component:default/x", "sub", []string{"a"}, "app"),
		NewKey(konflux.KindReleases, "component:default/x", "sub", []string{"a", "b"}, "app2"),
	}
	for _, k := range different {
		assert.NotEqual(t, a.String(), k.String())
	}

	client := newTestClient(newFakeFetcher(twoPages()), nil)
	assert.Same(t, client.Query(a), client.Query(b))
	assert.Equal(t, 1, client.Len())
}

func TestPaginationCompleteness(t *testing.T) {
	f := newFakeFetcher(twoPages())
	q := newTestClient(f, nil).Query(testKey())

	assert.Equal(t, StateIdle, q.Snapshot().State)
	assert.False(t, q.Snapshot().HasMore)

	snap, err := q.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.Data)
	assert.True(t, snap.HasMore)
	assert.Equal(t, StateHasMore, snap.State)

	snap, err = q.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Data)
	assert.False(t, snap.HasMore)
	assert.Equal(t, StateExhausted, snap.State)

	// Pages are requested sequentially with the previous page's token.
	assert.Equal(t, []string{"", "x"}, f.tokens())
	assert.Equal(t, []string{"c1", "c2"}, f.requests[0].Clusters)
	assert.Equal(t, konflux.AuthProviderServiceAccount, f.requests[0].AuthProvider)

	// No further pages: LoadMore is a no-op.
	snap, err = q.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Data)
	assert.Equal(t, 2, f.calls())
}

func TestFetch_Idempotent(t *testing.T) {
	f := newFakeFetcher(twoPages())
	client := newTestClient(f, &fakeClock{now: time.Unix(1700000000, 0)})

	first, err := client.Query(testKey()).Fetch(context.Background())
	require.NoError(t, err)
	second, err := client.Query(testKey()).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.calls())
}

func TestClusterErrors_LastPageWins(t *testing.T) {
	f := newFakeFetcher(map[string]*konflux.ResourcePage[string]{
		"": {
			Data:              []string{"a"},
			ClusterErrors:     []konflux.ClusterError{{Cluster: "c2", Namespace: "ns2", ErrorType: "Timeout", Message: "timed out"}},
			ContinuationToken: "x",
		},
		"x": {
			Data:              []string{"b"},
			ClusterErrors:     []konflux.ClusterError{{Cluster: "c3", Namespace: "ns3", ErrorType: "Forbidden", Message: "denied"}},
			ContinuationToken: "y",
		},
		"y": {Data: []string{"c"}},
	})
	q := newTestClient(f, nil).Query(testKey())

	snap, err := q.LoadAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, snap.Data)
	assert.Empty(t, snap.ClusterErrors)
	assert.Equal(t, 3, snap.PageCount)

	q2 := newTestClient(newFakeFetcher(map[string]*konflux.ResourcePage[string]{
		"":  {Data: []string{"a"}, ClusterErrors: []konflux.ClusterError{{Cluster: "c2"}}, ContinuationToken: "x"},
		"x": {Data: []string{"b"}, ClusterErrors: []konflux.ClusterError{{Cluster: "c3"}}},
	}), nil).Query(testKey())
	snap, err = q2.LoadAll(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, snap.ClusterErrors, 1)
	assert.Equal(t, "c3", snap.ClusterErrors[0].Cluster)
}

func TestTransportError_HaltsUntilRefetch(t *testing.T) {
	f := newFakeFetcher(twoPages())
	httpErr := &backend.HTTPError{StatusCode: 503, Message: "HTTP 503: Service Unavailable"}
	f.setErr("", httpErr)
	q := newTestClient(f, nil).Query(testKey())

	snap, err := q.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, backend.IsHTTPError(err))
	assert.Equal(t, StateError, snap.State)
	assert.Empty(t, snap.Data)

	// No silent retry.
	_, err = q.Fetch(context.Background())
	require.Error(t, err)
	_, err = q.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls())

	f.setErr("", nil)
	snap, err = q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.Data)
	assert.Nil(t, snap.Err)
	assert.Equal(t, 2, f.calls())
}

func TestTransportError_OnLaterPageKeepsData(t *testing.T) {
	f := newFakeFetcher(twoPages())
	f.setErr("x", errors.New("connection reset"))
	q := newTestClient(f, nil).Query(testKey())

	snap, err := q.LoadAll(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, []string{"a"}, snap.Data)
	assert.False(t, snap.HasMore)
}

func TestLoadMore_NoopWhileInFlight(t *testing.T) {
	f := newFakeFetcher(twoPages())
	q := newTestClient(f, nil).Query(testKey())

	_, err := q.Fetch(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	f.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.LoadMore(context.Background())
	}()
	<-f.started

	snap, err := q.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateLoading, snap.State)
	assert.Equal(t, []string{"a"}, snap.Data)

	f.gate <- struct{}{}
	wg.Wait()

	assert.Equal(t, 2, f.calls())
	assert.Equal(t, []string{"a", "b"}, q.Snapshot().Data)
}

func TestStaleWhileRevalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newFakeFetcher(map[string]*konflux.ResourcePage[string]{"": {Data: []string{"v1"}}})
	q := newTestClient(f, clock).Query(testKey())

	_, err := q.Fetch(context.Background())
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	snap, err := q.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Refreshing)
	assert.Equal(t, 1, f.calls())

	f.setPage("", &konflux.ResourcePage[string]{Data: []string{"v2"}})
	clock.Advance(30 * time.Second)
	snap, err = q.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, snap.Data, "stale data stays visible while refreshing")

	require.NoError(t, q.Wait(context.Background()))
	snap = q.Snapshot()
	assert.Equal(t, []string{"v2"}, snap.Data)
	assert.False(t, snap.Refreshing)
	assert.Equal(t, clock.Now(), snap.FetchedAt)
	assert.Equal(t, 2, f.calls())
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	f := newFakeFetcher(twoPages())
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	q := newTestClient(f, nil).Query(testKey())

	result := make(chan error, 1)
	go func() {
		_, err := q.Fetch(context.Background())
		result <- err
	}()
	<-f.started

	q.CancelInFlight()
	assert.Equal(t, StateIdle, q.Snapshot().State)

	// The late response arrives after the cancel and is dropped.
	f.gate <- struct{}{}
	assert.ErrorIs(t, <-result, ErrStaleResponse)
	assert.Empty(t, q.Snapshot().Data)
	assert.Equal(t, StateIdle, q.Snapshot().State)
}

func TestRefetch_SupersedesInFlightFetch(t *testing.T) {
	f := newFakeFetcher(twoPages())
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 2)
	q := newTestClient(f, nil).Query(testKey())

	first := make(chan error, 1)
	go func() {
		_, err := q.Fetch(context.Background())
		first <- err
	}()
	<-f.started

	second := make(chan error, 1)
	go func() {
		_, err := q.Refetch(context.Background())
		second <- err
	}()
	<-f.started

	f.gate <- struct{}{}
	f.gate <- struct{}{}
	assert.ErrorIs(t, <-first, ErrStaleResponse)
	require.NoError(t, <-second)

	snap := q.Snapshot()
	assert.Equal(t, []string{"a"}, snap.Data, "the superseded page is not appended")
	assert.Equal(t, 1, snap.PageCount)
	assert.Equal(t, StateHasMore, snap.State)
}

func TestFetch_WaiterRetriesWhenOwnerCancels(t *testing.T) {
	f := newFakeFetcher(twoPages())
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 2)
	f.honorCtx = true
	q := newTestClient(f, nil).Query(testKey())

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	defer cancelOwner()
	ownerErr := make(chan error, 1)
	go func() {
		_, err := q.Fetch(ownerCtx)
		ownerErr <- err
	}()
	<-f.started

	type result struct {
		snap Snapshot[string]
		err  error
	}
	waiter := make(chan result, 1)
	go func() {
		snap, err := q.Fetch(context.Background())
		waiter <- result{snap: snap, err: err}
	}()

	cancelOwner()
	assert.ErrorIs(t, <-ownerErr, context.Canceled)

	// The waiter issues its own request instead of reporting an empty result.
	<-f.started
	f.gate <- struct{}{}
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, []string{"a"}, got.snap.Data)
	assert.Equal(t, StateHasMore, got.snap.State)
	assert.True(t, got.snap.HasMore)
	assert.Equal(t, 2, f.calls())
}

func TestRefetch_DiscardsPages(t *testing.T) {
	f := newFakeFetcher(twoPages())
	q := newTestClient(f, nil).Query(testKey())

	_, err := q.LoadAll(context.Background(), 0)
	require.NoError(t, err)

	f.setPage("", &konflux.ResourcePage[string]{Data: []string{"fresh"}})
	snap, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, snap.Data)
	assert.Equal(t, StateExhausted, snap.State)
}

func TestLoadAll_MaxPages(t *testing.T) {
	f := newFakeFetcher(map[string]*konflux.ResourcePage[string]{
		"":  {Data: []string{"a"}, ContinuationToken: "x"},
		"x": {Data: []string{"b"}, ContinuationToken: "y"},
		"y": {Data: []string{"c"}},
	})
	q := newTestClient(f, nil).Query(testKey())

	snap, err := q.LoadAll(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Data)
	assert.True(t, snap.HasMore)
}

func TestForget_RemovesQuery(t *testing.T) {
	f := newFakeFetcher(twoPages())
	client := newTestClient(f, nil)

	_, err := client.Query(testKey()).Fetch(context.Background())
	require.NoError(t, err)
	client.Forget(testKey())
	assert.Equal(t, 0, client.Len())

	snap, err := client.Query(testKey()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.Data)
	assert.Equal(t, 2, f.calls())
}
