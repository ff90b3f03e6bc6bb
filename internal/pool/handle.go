package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Resource is one live browser instance owned by the pool. Implementations
// wrap whatever process or connection actually renders pages; the pool only
// needs liveness and teardown.
type Resource interface {
	// Ping probes the resource for liveness
	Ping(ctx context.Context) error
	// Close tears the resource down and releases everything it holds
	Close(ctx context.Context) error
}

// Factory creates a new resource instance
type Factory func(ctx context.Context) (Resource, error)

// Handle wraps one live resource with its bookkeeping metadata. A handle is
// exclusively owned by the pool at rest and lent to exactly one caller at a
// time; it is never shared concurrently.
type Handle struct {
	id       string
	resource Resource

	mu             sync.Mutex
	createdAt      time.Time
	lastAcquiredAt time.Time
	useCount       int64
	healthy        bool
}

func newHandle(resource Resource) *Handle {
	return &Handle{
		id:        uuid.New().String(),
		resource:  resource,
		createdAt: time.Now(),
		healthy:   true,
	}
}

// ID returns the handle identifier
func (h *Handle) ID() string {
	return h.id
}

// Resource returns the underlying resource for the duration of the lease.
// Callers must not touch the resource after releasing the handle.
func (h *Handle) Resource() Resource {
	return h.resource
}

// CreatedAt returns when the handle was created
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// UseCount returns how many times the handle has been lent out
func (h *Handle) UseCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.useCount
}

// LastAcquiredAt returns when the handle was last lent out
func (h *Handle) LastAcquiredAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAcquiredAt
}

// Healthy reports whether the handle is considered usable
func (h *Handle) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// MarkUnhealthy flags the handle so the pool destroys it on release instead
// of returning it to the idle set
func (h *Handle) MarkUnhealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = false
}

// markAcquired records a new lease
func (h *Handle) markAcquired() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastAcquiredAt = time.Now()
	h.useCount++
}

// resetTransient clears per-use state before the handle goes back to idle
func (h *Handle) resetTransient() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = true
}

// probe checks the underlying resource for liveness within the given bound
func (h *Handle) probe(ctx context.Context, timeout time.Duration) error {
	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := h.resource.Ping(probeCtx); err != nil {
		h.MarkUnhealthy()
		return err
	}
	return nil
}
