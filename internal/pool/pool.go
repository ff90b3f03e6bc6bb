package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wcagai/scanner-go/pkg/errors"
	"github.com/wcagai/scanner-go/pkg/logging"
)

// Config contains pool configuration
type Config struct {
	MinSize             int           `json:"min_size"`
	MaxSize             int           `json:"max_size"`
	ProbeTimeout        time.Duration `json:"probe_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	ShutdownGrace       time.Duration `json:"shutdown_grace"`
}

// DefaultConfig returns default pool configuration
func DefaultConfig() Config {
	return Config{
		MinSize:             2,
		MaxSize:             10,
		ProbeTimeout:        5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ShutdownGrace:       30 * time.Second,
	}
}

// Pool owns a bounded set of browser handles shared by many short-lived
// scans. It bounds concurrent usage at MaxSize, queues excess demand FIFO,
// replaces unhealthy handles, and replenishes toward MinSize after
// destructions.
type Pool struct {
	factory Factory
	config  Config
	logger  *logging.Logger

	mu        sync.Mutex
	idle      []*Handle
	active    map[string]*Handle
	returning map[string]struct{}
	creating  int
	waiters   *waiterQueue
	closed    bool

	created            uint64
	destroyed          uint64
	acquired           uint64
	released           uint64
	acquireErrors      uint64
	queueHighWaterMark int

	stopCh   chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
}

// Stats is a read-only snapshot of pool state
type Stats struct {
	Idle               int    `json:"idle"`
	Active             int    `json:"active"`
	Waiting            int    `json:"waiting"`
	MinSize            int    `json:"min_size"`
	MaxSize            int    `json:"max_size"`
	Created            uint64 `json:"created"`
	Destroyed          uint64 `json:"destroyed"`
	Acquired           uint64 `json:"acquired"`
	Released           uint64 `json:"released"`
	AcquireErrors      uint64 `json:"acquire_errors"`
	QueueHighWaterMark int    `json:"queue_high_water_mark"`
}

// NewPool creates a new pool. Call Initialize before first use.
func NewPool(factory Factory, config Config, logger *logging.Logger) *Pool {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if config.MaxSize < 1 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.MinSize > config.MaxSize {
		config.MinSize = config.MaxSize
	}

	return &Pool{
		factory:   factory,
		config:    config,
		logger:    logger,
		active:    make(map[string]*Handle),
		returning: make(map[string]struct{}),
		waiters:   newWaiterQueue(),
		stopCh:    make(chan struct{}),
	}
}

// Initialize creates MinSize handles concurrently. Any creation failure
// propagates to the caller.
func (p *Pool) Initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.config.MinSize; i++ {
		g.Go(func() error {
			h, err := p.createHandle(gctx)
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.idle = append(p.idle, h)
			p.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return errors.NewInternalError("pool initialization failed").WithCause(err)
	}

	p.logger.Info("Browser pool initialized",
		"min_size", p.config.MinSize,
		"max_size", p.config.MaxSize,
	)
	return nil
}

// Start launches the periodic health check loop
func (p *Pool) Start(ctx context.Context) {
	if p.config.HealthCheckInterval <= 0 {
		return
	}
	p.loopWg.Add(1)
	go func() {
		defer p.loopWg.Done()
		ticker := time.NewTicker(p.config.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.HealthCheck(ctx)
			}
		}
	}()
}

// Acquire returns a handle, lending it exclusively to the caller until
// Release or Discard. When no idle handle exists and the pool is at
// capacity, the caller waits FIFO up to the given timeout.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.NewShutdownError("acquire")
		}

		// Prefer an idle handle
		if n := len(p.idle); n > 0 {
			h := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.active[h.id] = h
			p.mu.Unlock()

			if err := h.probe(ctx, p.config.ProbeTimeout); err != nil {
				p.logger.LogPoolEvent("idle_handle_dead", h.id, nil)
				p.destroyActive(ctx, h)
				continue
			}

			p.lend(h)
			return h, nil
		}

		// Room to grow: create synchronously
		if len(p.active)+len(p.idle)+p.creating < p.config.MaxSize {
			p.creating++
			p.mu.Unlock()

			h, err := p.createHandle(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.acquireErrors++
				p.mu.Unlock()
				return nil, errors.NewInternalError("failed to create browser handle").WithCause(err)
			}
			p.active[h.id] = h
			p.mu.Unlock()

			p.lend(h)
			return h, nil
		}

		// At capacity: queue up
		w := newWaiter()
		p.waiters.push(w)
		if qlen := p.waiters.len(); qlen > p.queueHighWaterMark {
			p.queueHighWaterMark = qlen
		}
		p.mu.Unlock()

		return p.await(ctx, w, timeout)
	}
}

// await blocks on a queued waiter until handoff, deadline, or cancellation
func (p *Pool) await(ctx context.Context, w *waiter, timeout time.Duration) (*Handle, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.handle, nil

	case <-timer.C:
		if h, served := p.settleWaiter(w); served {
			// Handoff won the race against the deadline; serve it
			return h, nil
		}
		p.mu.Lock()
		p.acquireErrors++
		p.mu.Unlock()
		return nil, errors.NewPoolExhaustedError(timeout)

	case <-ctx.Done():
		if h, served := p.settleWaiter(w); served {
			return h, nil
		}
		return nil, errors.NewTimeoutError("acquire").WithCause(ctx.Err())
	}
}

// settleWaiter deregisters a waiter on timeout or cancellation. If the
// waiter was already served, the delivered handle is returned so it is
// never leaked.
func (p *Pool) settleWaiter(w *waiter) (*Handle, bool) {
	p.mu.Lock()
	removed := p.waiters.remove(w.id)
	p.mu.Unlock()

	if removed {
		return nil, false
	}

	// Delivery happens under the pool lock before the waiter leaves the
	// queue, so a served waiter always finds its result buffered.
	select {
	case res := <-w.ch:
		if res.err == nil && res.handle != nil {
			return res.handle, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// Release returns a lent handle to the pool. Unhealthy handles are
// destroyed and replaced; healthy handles go to the oldest waiter (after a
// liveness re-check) or back to the idle set.
func (p *Pool) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if !p.claimReturn(h) {
		p.mu.Unlock()
		p.logger.Warn("Release of handle not lent out", "handle_id", h.id)
		return
	}
	p.released++
	closed := p.closed
	p.mu.Unlock()

	if closed || !h.Healthy() {
		p.destroyActive(ctx, h)
		return
	}

	p.deliver(ctx, h)
}

// Discard destroys a lent handle instead of returning it, used after a
// failed scan attempt when the handle may be poisoned
func (p *Pool) Discard(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if !p.claimReturn(h) {
		p.mu.Unlock()
		return
	}
	p.released++
	p.mu.Unlock()

	h.MarkUnhealthy()
	p.destroyActive(ctx, h)
}

// claimReturn atomically claims a lent handle for return processing. The
// claim holds until the handle is parked, handed off, or destroyed, so a
// concurrent second release can never pass the guard. Caller must hold the
// pool mutex.
func (p *Pool) claimReturn(h *Handle) bool {
	if _, lent := p.active[h.id]; !lent {
		return false
	}
	if _, dup := p.returning[h.id]; dup {
		return false
	}
	p.returning[h.id] = struct{}{}
	return true
}

// deliver hands a lent, healthy handle to the oldest waiter or parks it in
// the idle set. Liveness is re-verified immediately before any handoff so a
// disconnected handle is never served to a waiter.
func (p *Pool) deliver(ctx context.Context, h *Handle) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.destroyActive(ctx, h)
			return
		}

		if p.waiters.len() == 0 {
			// Park in the idle set, or destroy the surplus handle
			delete(p.active, h.id)
			delete(p.returning, h.id)
			if len(p.active)+len(p.idle) < p.config.MaxSize {
				h.resetTransient()
				p.idle = append(p.idle, h)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			p.destroyHandle(ctx, h)
			p.replenish(ctx)
			return
		}
		p.mu.Unlock()

		// Re-check liveness outside the lock before handing off
		if err := h.probe(ctx, p.config.ProbeTimeout); err != nil {
			p.logger.LogPoolEvent("handoff_probe_failed", h.id, nil)
			p.destroyActive(ctx, h)
			return
		}

		p.mu.Lock()
		w := p.waiters.popFront()
		if w == nil {
			// Waiter timed out between probe and handoff; loop to park
			p.mu.Unlock()
			continue
		}
		h.markAcquired()
		p.acquired++
		delete(p.returning, h.id)
		w.ch <- waitResult{handle: h}
		p.mu.Unlock()
		return
	}
}

// lend finalizes a successful direct acquire
func (p *Pool) lend(h *Handle) {
	h.markAcquired()
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
}

// HealthCheck probes idle handles only, destroying failures and
// replenishing toward MinSize. Active handles are never touched.
func (p *Pool) HealthCheck(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	handles := p.idle
	p.idle = nil
	// Hold probed handles in the active set so concurrent acquires cannot
	// grow the pool past MaxSize while probes are in flight
	for _, h := range handles {
		p.active[h.id] = h
	}
	p.mu.Unlock()

	for _, h := range handles {
		if err := h.probe(ctx, p.config.ProbeTimeout); err != nil {
			p.logger.LogPoolEvent("health_check_failed", h.id, nil)
			p.destroyActive(ctx, h)
			continue
		}

		// Survivors go back through delivery so queued waiters are served
		p.deliver(ctx, h)
	}

	p.replenish(ctx)
}

// replenish asynchronously creates handles until the pool is back at its
// target size. Fire-and-forget; failures are logged and retried by the next
// health check.
func (p *Pool) replenish(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	// Queued waiters raise the target above MinSize so a destroyed handle is
	// replaced while its capacity is still in demand, capped at MaxSize
	total := len(p.active) + len(p.idle) + p.creating
	target := p.config.MinSize
	if demand := total + p.waiters.len(); demand > target {
		target = demand
	}
	if target > p.config.MaxSize {
		target = p.config.MaxSize
	}

	missing := target - total
	if missing <= 0 {
		p.mu.Unlock()
		return
	}
	p.creating += missing
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		go func() {
			h, err := p.createHandle(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.mu.Unlock()
				p.logger.WithError(err).Warn("Replacement handle creation failed")
				return
			}
			if p.closed {
				p.mu.Unlock()
				p.destroyHandle(ctx, h)
				return
			}
			p.active[h.id] = h
			p.mu.Unlock()

			p.deliver(ctx, h)
		}()
	}
}

// Shutdown rejects queued waiters, destroys idle handles, waits a bounded
// grace period for lent handles to come back, then force-destroys the rest
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for {
		w := p.waiters.popFront()
		if w == nil {
			break
		}
		w.ch <- waitResult{err: errors.NewShutdownError("acquire")}
	}

	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.loopWg.Wait()

	for _, h := range idle {
		p.destroyHandle(ctx, h)
	}

	// Bounded grace period for in-flight handles
	deadline := time.NewTimer(p.config.ShutdownGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		remaining := len(p.active)
		p.mu.Unlock()
		if remaining == 0 {
			p.logger.Info("Browser pool shut down cleanly")
			return nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return p.forceDestroyActive(ctx)
		case <-ctx.Done():
			return p.forceDestroyActive(ctx)
		}
	}
}

// forceDestroyActive tears down handles still lent out after the grace period
func (p *Pool) forceDestroyActive(ctx context.Context) error {
	p.mu.Lock()
	stranded := make([]*Handle, 0, len(p.active))
	for _, h := range p.active {
		stranded = append(stranded, h)
	}
	p.active = make(map[string]*Handle)
	p.returning = make(map[string]struct{})
	p.mu.Unlock()

	for _, h := range stranded {
		p.logger.LogPoolEvent("force_destroyed", h.id, nil)
		p.destroyHandle(ctx, h)
	}

	p.logger.Warn("Browser pool shutdown forced", "stranded_handles", len(stranded))
	return nil
}

// Stats returns a read-only snapshot of pool state. It never exposes
// mutable internal references.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Idle:               len(p.idle),
		Active:             len(p.active),
		Waiting:            p.waiters.len(),
		MinSize:            p.config.MinSize,
		MaxSize:            p.config.MaxSize,
		Created:            p.created,
		Destroyed:          p.destroyed,
		Acquired:           p.acquired,
		Released:           p.released,
		AcquireErrors:      p.acquireErrors,
		QueueHighWaterMark: p.queueHighWaterMark,
	}
}

// createHandle invokes the factory and records the creation
func (p *Pool) createHandle(ctx context.Context) (*Handle, error) {
	resource, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}

	h := newHandle(resource)
	p.mu.Lock()
	p.created++
	p.mu.Unlock()

	p.logger.LogPoolEvent("handle_created", h.id, nil)
	return h, nil
}

// destroyActive removes a lent handle from the active set and destroys it,
// then replenishes toward MinSize
func (p *Pool) destroyActive(ctx context.Context, h *Handle) {
	p.mu.Lock()
	delete(p.active, h.id)
	delete(p.returning, h.id)
	p.mu.Unlock()

	p.destroyHandle(ctx, h)
	p.replenish(ctx)
}

// destroyHandle closes the underlying resource and records the destruction
func (p *Pool) destroyHandle(ctx context.Context, h *Handle) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := h.resource.Close(closeCtx); err != nil {
		p.logger.WithError(err).Warn("Browser handle close failed", "handle_id", h.id)
	}

	p.mu.Lock()
	p.destroyed++
	p.mu.Unlock()

	p.logger.LogPoolEvent("handle_destroyed", h.id, nil)
}
