package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wcagai/scanner-go/pkg/errors"
	"github.com/wcagai/scanner-go/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - circuit is closed, calls are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, calls are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, trial calls are allowed
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Settings holds configuration for a circuit breaker
type Settings struct {
	// Name of the circuit breaker, one per logical dependency
	Name string
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the breaker open
	FailureThreshold int
	// SuccessThreshold is the number of consecutive trial successes in the
	// half-open state that closes the breaker again
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before the next call
	// is let through as a trial
	ResetTimeout time.Duration
	// CallTimeout bounds each wrapped call; zero disables the bound.
	// A timed-out call counts as a failure.
	CallTimeout time.Duration
}

// DefaultSettings returns default circuit breaker settings
func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// Action is a call wrapped by the circuit breaker
type Action func(ctx context.Context) (interface{}, error)

// Fallback is invoked instead of the action when the breaker rejects a call
// while open. Its own error propagates to the caller.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// CircuitBreaker isolates calls to one unreliable dependency so its failures
// do not cascade into the rest of the system
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	callTimeout      time.Duration

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastStateChange time.Time

	totalCalls      uint64
	totalSuccesses  uint64
	totalFailures   uint64
	totalRejections uint64

	observers []Observer
	logger    *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given settings
func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 2
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:             settings.Name,
		failureThreshold: settings.FailureThreshold,
		successThreshold: settings.SuccessThreshold,
		resetTimeout:     settings.ResetTimeout,
		callTimeout:      settings.CallTimeout,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		logger:           logging.GetLogger(),
	}
}

// Subscribe registers an observer for breaker events
func (cb *CircuitBreaker) Subscribe(observer Observer) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.observers = append(cb.observers, observer)
}

// Execute runs the action if the breaker accepts the call
func (cb *CircuitBreaker) Execute(ctx context.Context, action Action) (interface{}, error) {
	return cb.ExecuteWithFallback(ctx, action, nil)
}

// ExecuteWithFallback runs the action if the breaker accepts the call.
// When the breaker rejects the call while open, the fallback (if any) is
// invoked instead and its result propagates to the caller.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, action Action, fallback Fallback) (interface{}, error) {
	if err := cb.allow(); err != nil {
		if fallback != nil {
			return fallback(ctx, err)
		}
		return nil, err
	}

	result, err := cb.run(ctx, action)
	cb.afterCall(err)
	return result, err
}

// State returns the current state of the circuit breaker. An open breaker
// that has aged past its reset timeout still reports OPEN until the next
// call transitions it; the transition happens on the call path only.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status is an immutable snapshot of breaker state for observability
type Status struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Metrics is an immutable snapshot of cumulative breaker counters
type Metrics struct {
	Name            string  `json:"name"`
	State           string  `json:"state"`
	TotalCalls      uint64  `json:"total_calls"`
	TotalSuccesses  uint64  `json:"total_successes"`
	TotalFailures   uint64  `json:"total_failures"`
	TotalRejections uint64  `json:"total_rejections"`
	FailureRate     float64 `json:"failure_rate"`
}

// Status returns an immutable snapshot of the breaker state
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastStateChange: cb.lastStateChange,
	}
}

// Metrics returns an immutable snapshot of cumulative counters
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	rate := float64(0)
	if cb.totalCalls > 0 {
		rate = float64(cb.totalFailures) / float64(cb.totalCalls)
	}

	return Metrics{
		Name:            cb.name,
		State:           cb.state.String(),
		TotalCalls:      cb.totalCalls,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
		FailureRate:     rate,
	}
}

// allow decides whether the next call may proceed, aging an open breaker
// into half-open when the reset timeout has elapsed
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()

	now := time.Now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastStateChange) < cb.resetTimeout {
			cb.totalRejections++
			cb.mu.Unlock()
			cb.emit([]Event{{
				Kind:      EventCallRejected,
				Breaker:   cb.name,
				From:      StateOpen,
				To:        StateOpen,
				Timestamp: now,
			}})
			return errors.NewCircuitOpenError(cb.name)
		}
		// Aged out, this call becomes the trial
		events := cb.setState(StateHalfOpen, now)
		cb.totalCalls++
		cb.mu.Unlock()
		cb.emit(events)
		return nil
	default:
		cb.totalCalls++
		cb.mu.Unlock()
		return nil
	}
}

// run executes the action under the call timeout race
func (cb *CircuitBreaker) run(ctx context.Context, action Action) (result interface{}, err error) {
	callCtx := ctx
	if cb.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cb.callTimeout)
		defer cancel()
	}

	type outcome struct {
		result interface{}
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, errors.NewInternalError(fmt.Sprintf("panic in circuit breaker action: %v", r))}
			}
		}()
		res, actionErr := action(callCtx)
		done <- outcome{res, actionErr}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-callCtx.Done():
		return nil, errors.NewTimeoutError(fmt.Sprintf("call through breaker %q", cb.name)).WithCause(callCtx.Err())
	}
}

func (cb *CircuitBreaker) afterCall(callErr error) {
	cb.mu.Lock()

	now := time.Now()
	var events []Event

	if callErr == nil {
		cb.totalSuccesses++
		events = append(events, Event{
			Kind:      EventSuccessRecorded,
			Breaker:   cb.name,
			From:      cb.state,
			To:        cb.state,
			Timestamp: now,
		})

		switch cb.state {
		case StateClosed:
			cb.failureCount = 0
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				events = append(events, cb.setState(StateClosed, now)...)
			}
		}
	} else {
		cb.totalFailures++
		events = append(events, Event{
			Kind:      EventFailureRecorded,
			Breaker:   cb.name,
			From:      cb.state,
			To:        cb.state,
			Err:       callErr,
			Timestamp: now,
		})

		switch cb.state {
		case StateClosed:
			cb.failureCount++
			if cb.failureCount >= cb.failureThreshold {
				events = append(events, cb.setState(StateOpen, now)...)
			}
		case StateHalfOpen:
			events = append(events, cb.setState(StateOpen, now)...)
		}
	}

	cb.mu.Unlock()
	cb.emit(events)
}

// setState transitions the breaker and resets per-state counters.
// Caller must hold the mutex.
func (cb *CircuitBreaker) setState(state State, now time.Time) []Event {
	if cb.state == state {
		return nil
	}

	prev := cb.state
	cb.state = state
	cb.lastStateChange = now
	cb.failureCount = 0
	cb.successCount = 0

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
	)

	return []Event{{
		Kind:      EventStateChanged,
		Breaker:   cb.name,
		From:      prev,
		To:        state,
		Timestamp: now,
	}}
}

// emit delivers events to observers outside the breaker lock
func (cb *CircuitBreaker) emit(events []Event) {
	if len(events) == 0 {
		return
	}

	cb.mu.Lock()
	observers := make([]Observer, len(cb.observers))
	copy(observers, cb.observers)
	cb.mu.Unlock()

	for _, event := range events {
		for _, observer := range observers {
			observer.OnBreakerEvent(event)
		}
	}
}
