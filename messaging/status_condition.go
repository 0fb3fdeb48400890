package messaging

import (
	"fmt"

	"github.com/meshwire/meshwire-go/engine"
)

// StatusCondition binds a condition to a pub/sub endpoint. The enabled
// status mask selects which asynchronous status changes wake a waiter;
// readiness itself is derived on demand from the engine rather than
// cached.
type StatusCondition struct {
	Condition
	status  engine.StatusCondition
	enabled engine.StatusKind
}

func (c *StatusCondition) init(status engine.StatusCondition) {
	c.status = status
	c.handle = status
}

// enableStatusesLocked adds statuses to the enabled mask and pushes the
// union down to the engine. Caller holds c.mu: reconfiguring concurrently
// with an in-flight status callback from the engine would race otherwise.
func (c *StatusCondition) enableStatusesLocked(mask engine.StatusKind) error {
	c.enabled |= mask
	if err := c.status.SetEnabledStatuses(c.enabled); err != nil {
		return fmt.Errorf("failed to enable statuses: %w", err)
	}
	return nil
}

// resetStatusesLocked clears the enabled mask. Caller holds c.mu.
func (c *StatusCondition) resetStatusesLocked() error {
	c.enabled = engine.StatusNone
	if err := c.status.SetEnabledStatuses(engine.StatusNone); err != nil {
		return fmt.Errorf("failed to reset statuses: %w", err)
	}
	return nil
}

// EnableStatuses adds statuses to the enabled mask.
func (c *StatusCondition) EnableStatuses(mask engine.StatusKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enableStatusesLocked(mask)
}

// ResetStatuses disables all statuses.
func (c *StatusCondition) ResetStatuses() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetStatusesLocked()
}

// SubscriberStatusCondition is the reader-side status condition. It exposes
// the reader's status snapshots for event demultiplexing.
type SubscriberStatusCondition struct {
	StatusCondition
	reader engine.Reader
}

func newSubscriberStatusCondition(reader engine.Reader) *SubscriberStatusCondition {
	c := &SubscriberStatusCondition{reader: reader}
	c.init(reader.StatusCondition())
	return c
}

// ActiveStatuses returns the statuses currently active on the reader.
func (c *SubscriberStatusCondition) ActiveStatuses() engine.StatusKind {
	return c.reader.ActiveStatuses()
}

// LivelinessChanged returns the liveliness-changed snapshot.
func (c *SubscriberStatusCondition) LivelinessChanged() (engine.LivelinessChangedStatus, error) {
	return c.reader.LivelinessChanged()
}

// RequestedDeadlineMissed returns the requested-deadline-missed snapshot.
func (c *SubscriberStatusCondition) RequestedDeadlineMissed() (engine.DeadlineMissedStatus, error) {
	return c.reader.RequestedDeadlineMissed()
}

// RequestedIncompatibleQoS returns the requested-incompatible-QoS snapshot.
func (c *SubscriberStatusCondition) RequestedIncompatibleQoS() (engine.IncompatibleQoSStatus, error) {
	return c.reader.RequestedIncompatibleQoS()
}

// SampleLost returns the sample-lost snapshot.
func (c *SubscriberStatusCondition) SampleLost() (engine.SampleLostStatus, error) {
	return c.reader.SampleLost()
}

// PublisherStatusCondition is the writer-side status condition.
type PublisherStatusCondition struct {
	StatusCondition
	writer engine.Writer
}

func newPublisherStatusCondition(writer engine.Writer) *PublisherStatusCondition {
	c := &PublisherStatusCondition{writer: writer}
	c.init(writer.StatusCondition())
	return c
}

// ActiveStatuses returns the statuses currently active on the writer.
func (c *PublisherStatusCondition) ActiveStatuses() engine.StatusKind {
	return c.writer.ActiveStatuses()
}

// LivelinessLost returns the liveliness-lost snapshot.
func (c *PublisherStatusCondition) LivelinessLost() (engine.LivelinessLostStatus, error) {
	return c.writer.LivelinessLost()
}

// OfferedDeadlineMissed returns the offered-deadline-missed snapshot.
func (c *PublisherStatusCondition) OfferedDeadlineMissed() (engine.DeadlineMissedStatus, error) {
	return c.writer.OfferedDeadlineMissed()
}

// OfferedIncompatibleQoS returns the offered-incompatible-QoS snapshot.
func (c *PublisherStatusCondition) OfferedIncompatibleQoS() (engine.IncompatibleQoSStatus, error) {
	return c.writer.OfferedIncompatibleQoS()
}
