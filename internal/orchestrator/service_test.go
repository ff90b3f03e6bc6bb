package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/errors"
	"github.com/wcagai/scanner-go/pkg/resilience"
)

type stubResource struct{}

func (stubResource) Ping(ctx context.Context) error  { return nil }
func (stubResource) Close(ctx context.Context) error { return nil }

func stubFactory(ctx context.Context) (pool.Resource, error) {
	return stubResource{}, nil
}

func newTestPool(t *testing.T, minSize, maxSize int) *pool.Pool {
	t.Helper()

	p := pool.NewPool(stubFactory, pool.Config{
		MinSize:       minSize,
		MaxSize:       maxSize,
		ProbeTimeout:  time.Second,
		ShutdownGrace: time.Second,
	}, nil)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func allowAll(target orchestrator.Target) error { return nil }

func testConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxRetries:       3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         10 * time.Millisecond,
		AcquireTimeout:   time.Second,
		ScanTimeout:      5 * time.Second,
		DiscardOnFailure: true,
	}
}

func newBreakers() *resilience.Manager {
	return resilience.NewManager(resilience.DefaultSettings(""))
}

func urlTarget(input string) orchestrator.Target {
	return orchestrator.Target{Type: orchestrator.TargetTypeURL, Input: input}
}

func TestPerformScanSucceedsFirstAttempt(t *testing.T) {
	p := newTestPool(t, 1, 3)

	var calls int32
	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &orchestrator.Result{ViolationsCount: 2}, nil
	}

	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), testConfig(), nil)

	result, err := o.PerformScan(context.Background(), urlTarget("https://example.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ViolationsCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active, "handle must be released after a successful scan")
}

func TestPerformScanRetriesUntilSuccess(t *testing.T) {
	p := newTestPool(t, 1, 3)

	var calls int32
	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, fmt.Errorf("browser hung")
		}
		return &orchestrator.Result{PassesCount: 7}, nil
	}

	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), testConfig(), nil)

	result, err := o.PerformScan(context.Background(), urlTarget("https://example.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.PassesCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Both failed attempts discarded their handle
	assert.GreaterOrEqual(t, p.Stats().Destroyed, uint64(2))
}

func TestPerformScanExhaustsRetries(t *testing.T) {
	p := newTestPool(t, 1, 3)

	var calls int32
	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("render timeout")
	}

	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), testConfig(), nil)

	_, err := o.PerformScan(context.Background(), urlTarget("https://example.com"), nil)
	require.Error(t, err)
	assert.Equal(t, "SCAN_FAILED", errors.GetCode(err))
	assert.Equal(t, 3, errors.Attempts(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "render timeout")
}

func TestSecurityViolationBypassesPoolAndRetry(t *testing.T) {
	p := newTestPool(t, 1, 3)

	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		t.Error("analyzer must not run for a rejected target")
		return nil, fmt.Errorf("unexpected analysis")
	}
	validator := func(target orchestrator.Target) error {
		return errors.NewSecurityViolationError("private address")
	}

	o := orchestrator.NewOrchestrator(p, analyzer, validator, newBreakers(), testConfig(), nil)

	_, err := o.PerformScan(context.Background(), urlTarget("http://169.254.169.254/"), nil)
	require.Error(t, err)
	assert.Equal(t, "SECURITY_VIOLATION", errors.GetCode(err))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, uint64(0), p.Stats().Acquired, "validation happens before any pool interaction")
}

func TestPlainValidatorErrorWrappedAsSecurityViolation(t *testing.T) {
	p := newTestPool(t, 1, 3)

	validator := func(target orchestrator.Target) error {
		return fmt.Errorf("scheme not allowed")
	}

	o := orchestrator.NewOrchestrator(p, nil, validator, newBreakers(), testConfig(), nil)

	_, err := o.PerformScan(context.Background(), urlTarget("ftp://example.com"), nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSecurity, errors.GetType(err))
}

func TestPoolExhaustionPropagatesWithoutRetry(t *testing.T) {
	p := newTestPool(t, 0, 1)

	// Occupy the only handle for the duration of the test
	held, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer p.Release(context.Background(), held)

	var calls int32
	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &orchestrator.Result{}, nil
	}

	cfg := testConfig()
	cfg.AcquireTimeout = 100 * time.Millisecond
	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), cfg, nil)

	_, err = o.PerformScan(context.Background(), urlTarget("https://example.com"), nil)
	require.Error(t, err)
	assert.Equal(t, "POOL_EXHAUSTED", errors.GetCode(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

type mapCache struct {
	mu    sync.Mutex
	store map[string]*orchestrator.Result
	hits  int
	sets  int
}

func newMapCache() *mapCache {
	return &mapCache{store: make(map[string]*orchestrator.Result)}
}

func (c *mapCache) Get(ctx context.Context, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.store[target.Input]
	if ok {
		c.hits++
	}
	return r, ok
}

func (c *mapCache) Set(ctx context.Context, target orchestrator.Target, options orchestrator.Options, result *orchestrator.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.store[target.Input] = result
}

func TestCacheHitSkipsAnalysis(t *testing.T) {
	p := newTestPool(t, 1, 3)

	var calls int32
	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &orchestrator.Result{ViolationsCount: 1}, nil
	}

	cache := newMapCache()
	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), testConfig(), nil,
		orchestrator.WithCache(cache))

	ctx := context.Background()
	target := urlTarget("https://example.com")

	first, err := o.PerformScan(ctx, target, nil)
	require.NoError(t, err)

	second, err := o.PerformScan(ctx, target, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second scan must come from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.sets)
}

func TestEnricherAugmentsResult(t *testing.T) {
	p := newTestPool(t, 1, 3)

	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		return &orchestrator.Result{ViolationsCount: 1}, nil
	}
	enricher := func(ctx context.Context, target orchestrator.Target, result *orchestrator.Result) (*orchestrator.Result, error) {
		result.Metadata = map[string]interface{}{"severity": "critical"}
		return result, nil
	}

	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), testConfig(), nil,
		orchestrator.WithEnricher(enricher))

	result, err := o.PerformScan(context.Background(), urlTarget("https://example.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, "critical", result.Metadata["severity"])
}

func TestEnricherFailureDoesNotFailScan(t *testing.T) {
	p := newTestPool(t, 1, 3)

	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		return &orchestrator.Result{ViolationsCount: 4}, nil
	}
	enricher := func(ctx context.Context, target orchestrator.Target, result *orchestrator.Result) (*orchestrator.Result, error) {
		return nil, fmt.Errorf("enrichment service down")
	}

	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), testConfig(), nil,
		orchestrator.WithEnricher(enricher))

	result, err := o.PerformScan(context.Background(), urlTarget("https://example.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, result.ViolationsCount, "original result survives enrichment failure")
}

func TestPerformBulkPreservesOrderAndTallies(t *testing.T) {
	p := newTestPool(t, 2, 3)

	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		if target.Input == "https://broken.example.com" {
			return nil, fmt.Errorf("page crashed")
		}
		return &orchestrator.Result{Metadata: map[string]interface{}{"input": target.Input}}, nil
	}

	cfg := testConfig()
	cfg.MaxRetries = 1
	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), cfg, nil)

	targets := []orchestrator.Target{
		urlTarget("https://a.example.com"),
		urlTarget("https://broken.example.com"),
		urlTarget("https://b.example.com"),
		urlTarget("https://c.example.com"),
		urlTarget("https://broken.example.com"),
		urlTarget("https://d.example.com"),
	}

	var mu sync.Mutex
	var progress [][2]int
	bulk, err := o.PerformBulk(context.Background(), targets, nil, 2,
		func(completed, total int) {
			mu.Lock()
			progress = append(progress, [2]int{completed, total})
			mu.Unlock()
		})
	require.NoError(t, err)

	require.Len(t, bulk.Outcomes, len(targets))
	assert.Equal(t, 4, bulk.Succeeded)
	assert.Equal(t, 2, bulk.Failed)

	for i, outcome := range bulk.Outcomes {
		assert.Equal(t, targets[i], outcome.Target, "outcomes must preserve target order")
		if targets[i].Input == "https://broken.example.com" {
			assert.False(t, outcome.Success)
			assert.Contains(t, outcome.Error, "SCAN_FAILED")
		} else {
			require.True(t, outcome.Success)
			assert.Equal(t, targets[i].Input, outcome.Result.Metadata["input"])
		}
	}

	assert.Equal(t, [][2]int{{2, 6}, {4, 6}, {6, 6}}, progress)
}

func TestPerformBulkRejectsEmptyTargets(t *testing.T) {
	p := newTestPool(t, 1, 3)
	o := orchestrator.NewOrchestrator(p, nil, allowAll, newBreakers(), testConfig(), nil)

	_, err := o.PerformBulk(context.Background(), nil, nil, 2, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestBulkFailureNeverAbortsWave(t *testing.T) {
	p := newTestPool(t, 1, 3)

	analyzer := func(ctx context.Context, h *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		if target.Input == "https://broken.example.com" {
			return nil, fmt.Errorf("crash")
		}
		return &orchestrator.Result{}, nil
	}

	cfg := testConfig()
	cfg.MaxRetries = 1
	o := orchestrator.NewOrchestrator(p, analyzer, allowAll, newBreakers(), cfg, nil)

	// Failing target shares a wave with succeeding ones
	targets := []orchestrator.Target{
		urlTarget("https://broken.example.com"),
		urlTarget("https://ok1.example.com"),
		urlTarget("https://ok2.example.com"),
	}

	bulk, err := o.PerformBulk(context.Background(), targets, nil, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, bulk.Succeeded)
	assert.Equal(t, 1, bulk.Failed)
}
