package messaging

import (
	"github.com/meshwire/meshwire-go/engine"
)

// EventKind identifies an asynchronous status event on a subscriber or
// publisher endpoint.
type EventKind int

const (
	// EventLivelinessChanged fires when a subscriber's set of alive
	// matched writers changes.
	EventLivelinessChanged EventKind = iota
	// EventRequestedDeadlineMissed fires when a subscriber misses a
	// requested deadline.
	EventRequestedDeadlineMissed
	// EventRequestedQoSIncompatible fires when a subscriber discovers a
	// writer with incompatible QoS.
	EventRequestedQoSIncompatible
	// EventSampleLost fires when a subscriber loses a sample.
	EventSampleLost
	// EventLivelinessLost fires when a publisher fails to assert its
	// liveliness.
	EventLivelinessLost
	// EventOfferedDeadlineMissed fires when a publisher misses an offered
	// deadline.
	EventOfferedDeadlineMissed
	// EventOfferedQoSIncompatible fires when a publisher discovers a
	// reader with incompatible QoS.
	EventOfferedQoSIncompatible
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventLivelinessChanged:
		return "LIVELINESS_CHANGED"
	case EventRequestedDeadlineMissed:
		return "REQUESTED_DEADLINE_MISSED"
	case EventRequestedQoSIncompatible:
		return "REQUESTED_QOS_INCOMPATIBLE"
	case EventSampleLost:
		return "SAMPLE_LOST"
	case EventLivelinessLost:
		return "LIVELINESS_LOST"
	case EventOfferedDeadlineMissed:
		return "OFFERED_DEADLINE_MISSED"
	case EventOfferedQoSIncompatible:
		return "OFFERED_QOS_INCOMPATIBLE"
	default:
		return "UNSUPPORTED"
	}
}

// forReader reports whether the event kind belongs to the subscriber side.
func (k EventKind) forReader() bool {
	switch k {
	case EventLivelinessChanged, EventRequestedDeadlineMissed,
		EventRequestedQoSIncompatible, EventSampleLost:
		return true
	default:
		return false
	}
}

// statusKind maps the event kind to the engine status it observes.
func (k EventKind) statusKind() engine.StatusKind {
	switch k {
	case EventLivelinessChanged:
		return engine.StatusLivelinessChanged
	case EventRequestedDeadlineMissed:
		return engine.StatusRequestedDeadlineMissed
	case EventRequestedQoSIncompatible:
		return engine.StatusRequestedIncompatibleQoS
	case EventSampleLost:
		return engine.StatusSampleLost
	case EventLivelinessLost:
		return engine.StatusLivelinessLost
	case EventOfferedDeadlineMissed:
		return engine.StatusOfferedDeadlineMissed
	case EventOfferedQoSIncompatible:
		return engine.StatusOfferedIncompatibleQoS
	default:
		return engine.StatusNone
	}
}

// Event binds an event kind to the endpoint it observes: exactly one of
// Subscriber or Publisher is set, matching the side the kind belongs to.
// The wait coordinator snapshots Events at attach time so a caller may
// destroy the original while a wait is still unwinding.
type Event struct {
	Kind       EventKind
	Subscriber *Subscriber
	Publisher  *Publisher
}

// condition resolves the status condition of the observed endpoint, or nil
// when the event's kind and endpoint sides disagree.
func (e *Event) condition() *StatusCondition {
	if e.Kind.forReader() {
		if e.Subscriber == nil {
			return nil
		}
		return &e.Subscriber.cond.StatusCondition
	}
	if e.Publisher == nil {
		return nil
	}
	return &e.Publisher.cond.StatusCondition
}

// active re-checks whether the observed status is currently asserted on
// the endpoint.
func (e *Event) active() bool {
	if e.Kind.forReader() {
		if e.Subscriber == nil {
			return false
		}
		return e.Subscriber.cond.ActiveStatuses()&e.Kind.statusKind() != engine.StatusNone
	}
	if e.Publisher == nil {
		return false
	}
	return e.Publisher.cond.ActiveStatuses()&e.Kind.statusKind() != engine.StatusNone
}
