package memengine

import (
	"sync"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/notify"
)

// writer implements engine.Writer.
type writer struct {
	top  *topic
	guid contracts.GUID

	mu     sync.Mutex
	closed bool
	active engine.StatusKind

	liveliness   engine.LivelinessLostStatus
	deadline     engine.DeadlineMissedStatus
	incompatible engine.IncompatibleQoSStatus

	cond *notify.StatusCondition
}

func newWriter(t *topic) *writer {
	w := &writer{
		top:  t,
		guid: contracts.NewGUID(),
	}
	w.cond = notify.NewStatusCondition(w)
	return w
}

// GUID implements engine.Writer.
func (w *writer) GUID() contracts.GUID {
	return w.guid
}

// StatusCondition implements engine.Writer.
func (w *writer) StatusCondition() engine.StatusCondition {
	return w.cond
}

// ActiveStatuses implements engine.Writer.
func (w *writer) ActiveStatuses() engine.StatusKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Write implements engine.Writer. Each matched reader receives its own copy
// of the envelope so that takers never alias the writer's buffer.
func (w *writer) Write(env *contracts.Envelope) error {
	if env == nil {
		return contracts.ErrInvalidArgument
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return contracts.ErrClosed
	}
	w.mu.Unlock()

	w.top.mu.Lock()
	readers := snapshotReaders(w.top)
	w.top.mu.Unlock()

	for _, r := range readers {
		delivered := *env
		r.deliver(&delivered)
	}
	return nil
}

// MatchedSubscriptions implements engine.Writer.
func (w *writer) MatchedSubscriptions() (int, error) {
	w.top.mu.Lock()
	defer w.top.mu.Unlock()
	return len(w.top.readers), nil
}

// LivelinessLost implements engine.Writer.
func (w *writer) LivelinessLost() (engine.LivelinessLostStatus, error) {
	w.mu.Lock()
	status := w.liveliness
	w.liveliness.TotalCountChange = 0
	w.active &^= engine.StatusLivelinessLost
	w.mu.Unlock()
	w.cond.Refresh()
	return status, nil
}

// OfferedDeadlineMissed implements engine.Writer.
func (w *writer) OfferedDeadlineMissed() (engine.DeadlineMissedStatus, error) {
	w.mu.Lock()
	status := w.deadline
	w.deadline.TotalCountChange = 0
	w.active &^= engine.StatusOfferedDeadlineMissed
	w.mu.Unlock()
	w.cond.Refresh()
	return status, nil
}

// OfferedIncompatibleQoS implements engine.Writer.
func (w *writer) OfferedIncompatibleQoS() (engine.IncompatibleQoSStatus, error) {
	w.mu.Lock()
	status := w.incompatible
	w.incompatible.TotalCountChange = 0
	w.active &^= engine.StatusOfferedIncompatibleQoS
	w.mu.Unlock()
	w.cond.Refresh()
	return status, nil
}

// Close implements engine.Writer. Matched readers observe the loss through
// their liveliness-changed status.
func (w *writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.active = engine.StatusNone
	w.mu.Unlock()
	w.cond.Refresh()

	w.top.mu.Lock()
	_, attached := w.top.writers[w]
	delete(w.top.writers, w)
	readers := snapshotReaders(w.top)
	w.top.mu.Unlock()

	if attached {
		for _, r := range readers {
			r.writerLost()
		}
	}
	return nil
}
