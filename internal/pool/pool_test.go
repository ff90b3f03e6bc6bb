package pool_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/errors"
)

type fakeResource struct {
	factory *fakeFactory

	mu      sync.Mutex
	pingErr error
	closed  bool
}

func (r *fakeResource) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pingErr
}

func (r *fakeResource) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	if r.factory != nil {
		r.factory.mu.Lock()
		r.factory.live--
		r.factory.mu.Unlock()
	}
	return nil
}

func (r *fakeResource) setPingErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pingErr = err
}

type fakeFactory struct {
	mu        sync.Mutex
	created   int
	live      int
	maxLive   int
	createErr error
	resources []*fakeResource
}

func (f *fakeFactory) factory() pool.Factory {
	return func(ctx context.Context) (pool.Resource, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.createErr != nil {
			return nil, f.createErr
		}
		f.created++
		f.live++
		if f.live > f.maxLive {
			f.maxLive = f.live
		}
		r := &fakeResource{factory: f}
		f.resources = append(f.resources, r)
		return r, nil
	}
}

func (f *fakeFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeFactory) maxLiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

func newTestPool(t *testing.T, f *fakeFactory, minSize, maxSize int) *pool.Pool {
	t.Helper()

	p := pool.NewPool(f.factory(), pool.Config{
		MinSize:       minSize,
		MaxSize:       maxSize,
		ProbeTimeout:  time.Second,
		ShutdownGrace: 2 * time.Second,
	}, nil)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestInitializeCreatesMinSize(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 2, 5)
	defer p.Shutdown(context.Background())

	assert.Equal(t, 2, f.createdCount())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 0, stats.Active)
}

func TestInitializeFailurePropagates(t *testing.T) {
	f := &fakeFactory{createErr: fmt.Errorf("chromium refused to start")}
	p := pool.NewPool(f.factory(), pool.Config{MinSize: 2, MaxSize: 5}, nil)

	err := p.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeInternal, errors.GetType(err))
}

func TestAcquireReusesIdleHandle(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 5)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h1, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	p.Release(ctx, h1)

	h2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	defer p.Release(ctx, h2)

	assert.Equal(t, h1.ID(), h2.ID())
	assert.Equal(t, 1, f.createdCount(), "idle handle must be reused, not recreated")
	assert.Equal(t, int64(2), h2.UseCount())
}

func TestAcquireGrowsToMaxThenExhausts(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 2, 3)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	handles := make([]*pool.Handle, 0, 3)
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(ctx, time.Second)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, 3, f.createdCount())

	_, err := p.Acquire(ctx, 200*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, "POOL_EXHAUSTED", errors.GetCode(err))
	assert.Equal(t, errors.ErrorTypeExhausted, errors.GetType(err))

	for _, h := range handles {
		p.Release(ctx, h)
	}
}

func TestWaitersServedInFIFOOrder(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 1)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	order := make(chan int, 2)
	var wg sync.WaitGroup

	startWaiter := func(n int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wh, err := p.Acquire(ctx, 5*time.Second)
			if assert.NoError(t, err) {
				order <- n
				p.Release(ctx, wh)
			}
		}()
	}

	startWaiter(1)
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 },
		time.Second, 5*time.Millisecond)
	startWaiter(2)
	require.Eventually(t, func() bool { return p.Stats().Waiting == 2 },
		time.Second, 5*time.Millisecond)

	p.Release(ctx, h)
	wg.Wait()
	close(order)

	assert.Equal(t, 1, <-order, "oldest waiter must be served first")
	assert.Equal(t, 2, <-order)
}

func TestReleaseUnhealthyDestroysHandle(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 3)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	h.MarkUnhealthy()
	p.Release(ctx, h)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle, "unhealthy handle must never be parked idle")
	assert.Equal(t, uint64(1), stats.Destroyed)

	h2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	defer p.Release(ctx, h2)
	assert.NotEqual(t, h.ID(), h2.ID())
}

func TestDiscardDestroysHandle(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 3)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	p.Discard(ctx, h)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, uint64(1), stats.Destroyed)
}

func TestDeadIdleHandleReplacedOnAcquire(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 3)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	f.mu.Lock()
	f.resources[0].setPingErr(fmt.Errorf("browser crashed"))
	f.mu.Unlock()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err, "a dead idle handle must be replaced, not served")
	defer p.Release(ctx, h)

	assert.True(t, h.Healthy())
	assert.GreaterOrEqual(t, f.createdCount(), 2)
}

func TestHealthCheckReplacesDeadIdle(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 2, 5)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	f.mu.Lock()
	f.resources[0].setPingErr(fmt.Errorf("browser crashed"))
	f.mu.Unlock()

	p.HealthCheck(ctx)

	assert.Eventually(t, func() bool {
		stats := p.Stats()
		return stats.Idle == 2 && stats.Destroyed == 1
	}, 2*time.Second, 10*time.Millisecond, "pool must replenish back to min size")
}

func TestCapacityNeverExceededUnderLoad(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 3)

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h, err := p.Acquire(ctx, 5*time.Second)
				if err != nil {
					continue
				}
				time.Sleep(time.Millisecond)
				p.Release(ctx, h)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.maxLiveCount(), 3, "live resources must never exceed max size")

	stats := p.Stats()
	assert.LessOrEqual(t, stats.Active+stats.Idle, 3)
	assert.Equal(t, 0, stats.Active)

	require.NoError(t, p.Shutdown(ctx))
}

func TestShutdownRejectsNewAcquires(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 3)

	ctx := context.Background()
	require.NoError(t, p.Shutdown(ctx))

	_, err := p.Acquire(ctx, time.Second)
	require.Error(t, err)
	assert.Equal(t, "SHUTDOWN_IN_PROGRESS", errors.GetCode(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestShutdownRejectsQueuedWaiters(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 1)

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, 10*time.Second)
		waiterErr <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 },
		time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(ctx) }()

	select {
	case err := <-waiterErr:
		require.Error(t, err)
		assert.Equal(t, "SHUTDOWN_IN_PROGRESS", errors.GetCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter was not rejected by shutdown")
	}

	p.Release(ctx, h)
	require.NoError(t, <-done)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Idle)
}

func TestShutdownForceDestroysAfterGrace(t *testing.T) {
	f := &fakeFactory{}
	p := pool.NewPool(f.factory(), pool.Config{
		MinSize:       0,
		MaxSize:       1,
		ProbeTimeout:  time.Second,
		ShutdownGrace: 100 * time.Millisecond,
	}, nil)
	require.NoError(t, p.Initialize(context.Background()))

	ctx := context.Background()

	_, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	// The lent handle is never released; shutdown must reclaim it
	require.NoError(t, p.Shutdown(ctx))

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, uint64(1), stats.Destroyed)
}

func TestDiscardCreatesReplacementForQueuedWaiter(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 1)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	got := make(chan *pool.Handle, 1)
	failed := make(chan error, 1)
	go func() {
		wh, err := p.Acquire(ctx, 2*time.Second)
		if err != nil {
			failed <- err
			return
		}
		got <- wh
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 },
		time.Second, 5*time.Millisecond)

	// Discarding the only handle frees capacity the waiter is queued for
	p.Discard(ctx, h)

	select {
	case wh := <-got:
		assert.NotEqual(t, h.ID(), wh.ID())
		assert.Equal(t, 2, f.createdCount())
		p.Release(ctx, wh)
	case err := <-failed:
		t.Fatalf("queued waiter failed despite free capacity: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("queued waiter never served after discard")
	}
}

func TestUnhealthyReleaseCreatesReplacementForQueuedWaiter(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 0, 1)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	got := make(chan *pool.Handle, 1)
	failed := make(chan error, 1)
	go func() {
		wh, err := p.Acquire(ctx, 2*time.Second)
		if err != nil {
			failed <- err
			return
		}
		got <- wh
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 },
		time.Second, 5*time.Millisecond)

	h.MarkUnhealthy()
	p.Release(ctx, h)

	select {
	case wh := <-got:
		assert.True(t, wh.Healthy())
		p.Release(ctx, wh)
	case err := <-failed:
		t.Fatalf("queued waiter failed despite free capacity: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("queued waiter never served after unhealthy release")
	}
}

func TestConcurrentDoubleReleaseParksOnce(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 3)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	for i := 0; i < 100; i++ {
		h, err := p.Acquire(ctx, time.Second)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Release(ctx, h)
			}()
		}
		wg.Wait()

		stats := p.Stats()
		require.LessOrEqual(t, stats.Idle, 1, "a handle must never be parked twice")
		require.Equal(t, uint64(i+1), stats.Released, "only one of the racing releases may count")
	}
}

func TestDoubleReleaseIgnored(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPool(t, f, 1, 3)
	defer p.Shutdown(context.Background())

	ctx := context.Background()

	h, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)

	p.Release(ctx, h)
	p.Release(ctx, h)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, uint64(1), stats.Released)
}
