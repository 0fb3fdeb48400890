package engine

import (
	"time"

	"github.com/meshwire/meshwire-go/contracts"
)

// Condition is a handle to one of the engine's waitable conditions.
// Handles are compared by identity when demultiplexing the result of a
// wait.
type Condition interface {
	// Active reports whether the condition is currently triggered.
	Active() bool
}

// GuardCondition is a condition triggered directly by the application, with
// no underlying I/O.
type GuardCondition interface {
	Condition

	// SetTrigger sets or clears the trigger flag, waking any waitset the
	// condition is attached to when set.
	SetTrigger(triggered bool) error
}

// StatusCondition is the condition attached to a reader or writer. It
// becomes active when any status in its enabled mask is active on the
// owning endpoint.
type StatusCondition interface {
	Condition

	// SetEnabledStatuses replaces the set of statuses that make the
	// condition active.
	SetEnabledStatuses(mask StatusKind) error
}

// WaitSet is the engine's native multi-condition wait primitive.
type WaitSet interface {
	// Attach adds a condition to the set.
	Attach(c Condition) error

	// Detach removes a condition from the set.
	Detach(c Condition) error

	// Wait blocks until at least one attached condition is active or the
	// timeout elapses, returning the active subset. A negative timeout
	// waits indefinitely. Expiry is reported as contracts.ErrTimeout.
	Wait(timeout time.Duration) ([]Condition, error)

	// Close releases the native wait resources.
	Close() error
}

// ContentFilter restricts delivery on a reader to envelopes whose header
// field equals the given value. Engines without filtering support report
// contracts.ErrUnsupported from CreateReader.
type ContentFilter struct {
	// Name identifies the filtered subscription; it must be unique within
	// the engine.
	Name string

	// Field is the envelope header field tested by the filter, e.g.
	// contracts.FieldOrigin.
	Field string

	// Value is the literal the field is compared against, e.g. the hex
	// form of an endpoint identity.
	Value string
}

// Reader is an engine subscription endpoint.
type Reader interface {
	// StatusCondition returns the reader's status condition handle.
	StatusCondition() StatusCondition

	// HasData reports whether the reader holds buffered or loanable data.
	HasData() bool

	// Take removes and returns the oldest buffered envelope. The second
	// return is false when no data was available.
	Take() (*contracts.Envelope, bool, error)

	// MatchedPublications returns the number of discovered writers
	// currently matched with this reader.
	MatchedPublications() (int, error)

	// ActiveStatuses returns the statuses currently active on the reader.
	ActiveStatuses() StatusKind

	// Status snapshots. Reading a snapshot resets its change counters.
	LivelinessChanged() (LivelinessChangedStatus, error)
	RequestedDeadlineMissed() (DeadlineMissedStatus, error)
	RequestedIncompatibleQoS() (IncompatibleQoSStatus, error)
	SampleLost() (SampleLostStatus, error)

	// Close destroys the reader.
	Close() error
}

// Writer is an engine publication endpoint.
type Writer interface {
	// GUID returns the writer's globally unique identity.
	GUID() contracts.GUID

	// StatusCondition returns the writer's status condition handle.
	StatusCondition() StatusCondition

	// Write publishes one envelope.
	Write(env *contracts.Envelope) error

	// MatchedSubscriptions returns the number of discovered readers
	// currently matched with this writer.
	MatchedSubscriptions() (int, error)

	// ActiveStatuses returns the statuses currently active on the writer.
	ActiveStatuses() StatusKind

	// Status snapshots. Reading a snapshot resets its change counters.
	LivelinessLost() (LivelinessLostStatus, error)
	OfferedDeadlineMissed() (DeadlineMissedStatus, error)
	OfferedIncompatibleQoS() (IncompatibleQoSStatus, error)

	// Close destroys the writer.
	Close() error
}

// Engine is the pub/sub engine meshwire adapts onto. All entity creation,
// status bookkeeping, and the blocking wait primitive live behind this
// interface.
type Engine interface {
	// CreateReader creates a subscription on the named topic. A non-nil
	// filter restricts delivery; engines without filter support return
	// contracts.ErrUnsupported.
	CreateReader(topic string, filter *ContentFilter) (Reader, error)

	// CreateWriter creates a publication on the named topic.
	CreateWriter(topic string) (Writer, error)

	// CreateGuard allocates a guard condition.
	CreateGuard() (GuardCondition, error)

	// ReleaseGuard destroys a guard condition.
	ReleaseGuard(g GuardCondition) error

	// CreateWaitSet allocates a native waitset.
	CreateWaitSet() (WaitSet, error)

	// Close destroys the engine and every entity created from it.
	Close() error
}
