package menu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/ordering-service/internal/domain"
)

var errPOSDown = errors.New("pos down")

type fakeFetcher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	err     error
	release chan struct{}
	now     func() time.Time
}

func (f *fakeFetcher) FetchMenu(ctx context.Context) (*domain.MenuSnapshot, error) {
	n := f.calls.Add(1)

	f.mu.Lock()
	err, release := f.err, f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return testSnapshot(int64(n), f.now()), nil
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testSnapshot(revision int64, fetchedAt time.Time) *domain.MenuSnapshot {
	return domain.NewMenuSnapshot(
		[]domain.Category{{ID: "pizza", Name: "Pizza"}},
		[]domain.Product{{ID: "p1", Name: "Margherita", Price: decimal.NewFromInt(250), CategoryID: "pizza"}},
		revision, fetchedAt)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(store SnapshotStore) (*Cache, *fakeFetcher, *clock) {
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{now: clk.Now}
	cache := NewCache(fetcher, store, nil)
	cache.now = clk.Now
	return cache, fetcher, clk
}

func TestGetMenu_ServesFreshSnapshotWithoutFetching(t *testing.T) {
	cache, fetcher, clk := newTestCache(nil)
	ctx := context.Background()

	first, err := cache.GetMenu(ctx, 10*time.Minute)
	require.NoError(t, err)

	clk.Advance(9 * time.Minute)
	second, err := cache.GetMenu(ctx, 10*time.Minute)
	require.NoError(t, err)

	assert.Same(t, first.Snapshot, second.Snapshot)
	assert.False(t, second.Stale)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestGetMenu_RefreshesExpiredSnapshot(t *testing.T) {
	cache, fetcher, clk := newTestCache(nil)
	ctx := context.Background()

	_, err := cache.GetMenu(ctx, 10*time.Minute)
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	res, err := cache.GetMenu(ctx, 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Snapshot.Revision)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestGetMenu_ServesStaleOnRefreshFailure(t *testing.T) {
	cache, fetcher, clk := newTestCache(nil)
	ctx := context.Background()

	first, err := cache.GetMenu(ctx, time.Minute)
	require.NoError(t, err)

	fetcher.fail(errPOSDown)
	clk.Advance(time.Hour)
	res, err := cache.GetMenu(ctx, time.Minute)

	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Same(t, first.Snapshot, res.Snapshot)
	assert.False(t, cache.Fresh(time.Minute))
}

func TestGetMenu_ErrorWithoutAnySnapshot(t *testing.T) {
	cache, fetcher, _ := newTestCache(nil)
	fetcher.fail(errPOSDown)

	res, err := cache.GetMenu(context.Background(), time.Minute)

	assert.ErrorIs(t, err, ErrMenuUnavailable)
	assert.ErrorIs(t, err, errPOSDown)
	assert.Nil(t, res.Snapshot)
	assert.Nil(t, cache.Current())
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	cache, fetcher, _ := newTestCache(nil)
	ctx := context.Background()

	_, err := cache.GetMenu(ctx, time.Hour)
	require.NoError(t, err)
	assert.True(t, cache.Fresh(time.Hour))

	cache.Invalidate()
	assert.False(t, cache.Fresh(time.Hour))

	res, err := cache.GetMenu(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Snapshot.Revision)

	_, err = cache.GetMenu(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestGetMenu_ConcurrentRefreshesCollapse(t *testing.T) {
	cache, fetcher, _ := newTestCache(nil)
	fetcher.release = make(chan struct{})

	const callers = 50
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cache.GetMenu(context.Background(), time.Minute)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	for _, res := range results {
		assert.Same(t, results[0].Snapshot, res.Snapshot)
	}
}

func TestGetMenu_CallerCancellationDoesNotFailOthers(t *testing.T) {
	cache, fetcher, _ := newTestCache(nil)
	fetcher.release = make(chan struct{})

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.GetMenu(cancelled, time.Minute)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() {
		res, err := cache.GetMenu(context.Background(), time.Minute)
		assert.NoError(t, err)
		second <- res
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(fetcher.release)
	res := <-second
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

type memoryStore struct {
	mu   sync.Mutex
	snap *domain.MenuSnapshot
}

func (m *memoryStore) Load(context.Context) (*domain.MenuSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, ErrNoSnapshot
	}
	return m.snap, nil
}

func (m *memoryStore) Save(_ context.Context, snap *domain.MenuSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	return nil
}

func TestWarm_ServesPersistedSnapshotWhilePOSDown(t *testing.T) {
	fetchedAt := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	store := &memoryStore{snap: testSnapshot(42, fetchedAt)}
	cache, fetcher, _ := newTestCache(store)
	fetcher.fail(errPOSDown)

	require.NoError(t, cache.Warm(context.Background()))
	res, err := cache.GetMenu(context.Background(), 10*time.Minute)

	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, int64(42), res.Snapshot.Revision)
	assert.Equal(t, fetchedAt, res.Snapshot.FetchedAt)
}

func TestWarm_EmptyStore(t *testing.T) {
	cache, _, _ := newTestCache(&memoryStore{})

	require.NoError(t, cache.Warm(context.Background()))
	assert.Nil(t, cache.Current())
}

func TestRefresh_WritesThroughToStore(t *testing.T) {
	store := &memoryStore{}
	cache, _, _ := newTestCache(store)

	snap, err := cache.Refresh(context.Background())
	require.NoError(t, err)

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, persisted)
}
