package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/errors"
	"github.com/wcagai/scanner-go/pkg/logging"
	"github.com/wcagai/scanner-go/pkg/metrics"
	"github.com/wcagai/scanner-go/pkg/resilience"
)

// BreakerEnrichment names the circuit breaker guarding enrichment calls
const BreakerEnrichment = "enrichment"

// Config contains orchestration configuration
type Config struct {
	MaxRetries     int           `json:"max_retries"`
	BaseDelay      time.Duration `json:"base_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	AcquireTimeout time.Duration `json:"acquire_timeout"`
	ScanTimeout    time.Duration `json:"scan_timeout"`
	// DiscardOnFailure destroys the handle used by a failed attempt instead
	// of returning it to the pool. This treats the handle as potentially
	// poisoned; disabling it marks the handle unhealthy and lets the pool
	// decide on release.
	DiscardOnFailure bool `json:"discard_on_failure"`
}

// DefaultConfig returns default orchestration configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		AcquireTimeout:   30 * time.Second,
		ScanTimeout:      60 * time.Second,
		DiscardOnFailure: true,
	}
}

// Orchestrator composes the browser pool, an injected analyzer, and an
// injected validator into single scans with retry and bulk scans with
// wave-based concurrency control
type Orchestrator struct {
	pool      *pool.Pool
	analyzer  Analyzer
	validator Validator
	enricher  Enricher
	breakers  *resilience.Manager
	cache     ResultCache
	config    Config
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// Option configures optional orchestrator collaborators
type Option func(*Orchestrator)

// WithEnricher attaches an enrichment dependency, guarded by a circuit breaker
func WithEnricher(enricher Enricher) Option {
	return func(o *Orchestrator) { o.enricher = enricher }
}

// WithCache attaches a read-through result cache
func WithCache(cache ResultCache) Option {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithMetrics attaches a metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates a new scan orchestrator
func NewOrchestrator(p *pool.Pool, analyzer Analyzer, validator Validator, breakers *resilience.Manager, config Config, logger *logging.Logger, opts ...Option) *Orchestrator {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig().BaseDelay
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	o := &Orchestrator{
		pool:      p,
		analyzer:  analyzer,
		validator: validator,
		breakers:  breakers,
		config:    config,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PerformScan validates the target, then runs analysis attempts against
// pooled browser handles until one succeeds or retries are exhausted
func (o *Orchestrator) PerformScan(ctx context.Context, target Target, options Options) (*Result, error) {
	task := &Task{
		ID:      uuid.New().String(),
		Target:  target,
		Timeout: o.config.ScanTimeout,
	}
	ctx = logging.WithCorrelationID(ctx, task.ID)

	// Validation happens before any pool interaction and is never retried
	if err := o.validator(target); err != nil {
		if errors.IsType(err, errors.ErrorTypeSecurity) {
			return nil, err
		}
		return nil, errors.NewSecurityViolationError(err.Error()).WithCause(err)
	}

	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, target, options); ok {
			o.logger.LogScanEvent(ctx, "cache_hit", task.ID, target.Input, nil)
			return cached, nil
		}
	}

	if o.metrics != nil {
		o.metrics.ActiveScans.Inc()
		defer o.metrics.ActiveScans.Dec()
	}

	start := time.Now()
	result, err := o.runAttempts(ctx, task, options)
	status := "success"
	if err != nil {
		status = "error"
	}
	if o.metrics != nil {
		o.metrics.RecordScan(string(target.Type), status, time.Since(start))
	}

	if err != nil {
		return nil, err
	}

	result = o.enrich(ctx, target, result)

	if o.cache != nil {
		o.cache.Set(ctx, target, options, result)
	}
	return result, nil
}

// runAttempts is the retry loop around acquire/analyze/release
func (o *Orchestrator) runAttempts(ctx context.Context, task *Task, options Options) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		task.Attempts = attempt

		if ctx.Err() != nil {
			return nil, errors.NewTimeoutError("scan").WithCause(ctx.Err())
		}

		handle, err := o.pool.Acquire(ctx, o.config.AcquireTimeout)
		if err != nil {
			// Exhaustion and shutdown are not analysis failures; the caller
			// decides whether to come back
			return nil, err
		}

		result, err := o.analyze(ctx, handle, task.Target, options)
		if err == nil {
			o.pool.Release(ctx, handle)
			o.logger.LogScanEvent(ctx, "scan_completed", task.ID, task.Target.Input, logrus.Fields{
				"attempts": attempt,
			})
			return result, nil
		}

		lastErr = errors.NewTransientScanError(err.Error()).WithCause(err)
		o.disposeFailed(ctx, handle)
		o.logger.LogScanEvent(ctx, "attempt_failed", task.ID, task.Target.Input, logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		})

		if o.metrics != nil {
			o.metrics.ScanRetriesTotal.Inc()
		}

		if attempt == o.config.MaxRetries {
			break
		}

		if err := o.backoff(ctx, attempt); err != nil {
			return nil, errors.NewTimeoutError("scan").WithCause(err)
		}
	}

	return nil, errors.NewFinalScanError(o.config.MaxRetries, lastErr)
}

// analyze runs the injected analysis function under the attempt timeout
func (o *Orchestrator) analyze(ctx context.Context, handle *pool.Handle, target Target, options Options) (*Result, error) {
	attemptCtx := ctx
	if o.config.ScanTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.config.ScanTimeout)
		defer cancel()
	}

	type outcome struct {
		result *Result
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, errors.NewInternalError("panic during analysis")}
			}
		}()
		res, err := o.analyzer(attemptCtx, handle, target, options)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		return nil, errors.NewTimeoutError("analysis").WithCause(attemptCtx.Err())
	}
}

// disposeFailed applies the post-failure disposal policy to a handle
func (o *Orchestrator) disposeFailed(ctx context.Context, handle *pool.Handle) {
	if o.config.DiscardOnFailure {
		o.pool.Discard(ctx, handle)
		return
	}
	handle.MarkUnhealthy()
	o.pool.Release(ctx, handle)
}

// backoff waits BaseDelay*attempt, capped at MaxDelay
func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	delay := o.config.BaseDelay * time.Duration(attempt)
	if o.config.MaxDelay > 0 && delay > o.config.MaxDelay {
		delay = o.config.MaxDelay
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// enrich augments a finished result through the enrichment breaker. The
// original result is the fallback, so enrichment failures are invisible to
// the caller.
func (o *Orchestrator) enrich(ctx context.Context, target Target, result *Result) *Result {
	if o.enricher == nil || o.breakers == nil {
		return result
	}

	enriched, err := o.breakers.Get(BreakerEnrichment).ExecuteWithFallback(ctx,
		func(ctx context.Context) (interface{}, error) {
			return o.enricher(ctx, target, result)
		},
		func(ctx context.Context, cause error) (interface{}, error) {
			return result, nil
		},
	)
	if err != nil {
		o.logger.WithError(err).Debug("Enrichment skipped")
		return result
	}
	if r, ok := enriched.(*Result); ok && r != nil {
		return r
	}
	return result
}

// PerformBulk scans targets in fixed-size waves. Every task in a wave is
// dispatched concurrently and awaited to settlement; a failing target never
// aborts its wave. Outcomes preserve target order.
func (o *Orchestrator) PerformBulk(ctx context.Context, targets []Target, options Options, concurrency int, progress ProgressFunc) (*BulkResult, error) {
	if len(targets) == 0 {
		return nil, errors.NewValidationError("at least one target is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	start := time.Now()
	bulk := &BulkResult{
		Outcomes: make([]TaskOutcome, len(targets)),
	}

	for waveStart := 0; waveStart < len(targets); waveStart += concurrency {
		waveEnd := waveStart + concurrency
		if waveEnd > len(targets) {
			waveEnd = len(targets)
		}

		var wg sync.WaitGroup
		for i := waveStart; i < waveEnd; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				result, err := o.PerformScan(ctx, targets[idx], options)
				if err != nil {
					bulk.Outcomes[idx] = TaskOutcome{
						Target:  targets[idx],
						Error:   err.Error(),
						Success: false,
					}
					return
				}
				bulk.Outcomes[idx] = TaskOutcome{
					Target:  targets[idx],
					Result:  result,
					Success: true,
				}
			}(i)
		}
		wg.Wait()

		if progress != nil {
			progress(waveEnd, len(targets))
		}
	}

	for _, outcome := range bulk.Outcomes {
		if outcome.Success {
			bulk.Succeeded++
		} else {
			bulk.Failed++
		}
	}
	bulk.Duration = time.Since(start)

	o.logger.Info("Bulk scan completed",
		"targets", len(targets),
		"succeeded", bulk.Succeeded,
		"failed", bulk.Failed,
		"duration", bulk.Duration.String(),
	)
	return bulk, nil
}
