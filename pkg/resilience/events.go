package resilience

import "time"

// EventKind identifies a circuit breaker event variant
type EventKind int

const (
	// EventStateChanged is emitted on every state transition
	EventStateChanged EventKind = iota
	// EventFailureRecorded is emitted when a call failure is counted
	EventFailureRecorded
	// EventSuccessRecorded is emitted when a call success is counted
	EventSuccessRecorded
	// EventCallRejected is emitted when an open breaker rejects a call
	EventCallRejected
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventFailureRecorded:
		return "failure_recorded"
	case EventSuccessRecorded:
		return "success_recorded"
	case EventCallRejected:
		return "call_rejected"
	default:
		return "unknown"
	}
}

// Event is a discrete circuit breaker event delivered to observers
type Event struct {
	Kind      EventKind
	Breaker   string
	From      State
	To        State
	Err       error
	Timestamp time.Time
}

// Observer receives circuit breaker events. Implementations must not block;
// events are delivered synchronously after the breaker releases its lock.
type Observer interface {
	OnBreakerEvent(event Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(event Event)

// OnBreakerEvent implements Observer
func (f ObserverFunc) OnBreakerEvent(event Event) {
	f(event)
}
