package memengine

import (
	"strings"
	"sync"

	"github.com/eapache/queue"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/notify"
)

// reader implements engine.Reader. Deliveries are buffered in an unbounded
// FIFO; the data-available status follows the buffer occupancy and every
// other status is recorded by discovery callbacks from the topic.
type reader struct {
	top    *topic
	filter *engine.ContentFilter

	mu      sync.Mutex
	samples *queue.Queue
	closed  bool
	active  engine.StatusKind

	liveliness   engine.LivelinessChangedStatus
	deadline     engine.DeadlineMissedStatus
	incompatible engine.IncompatibleQoSStatus
	lost         engine.SampleLostStatus

	cond *notify.StatusCondition
}

func newReader(t *topic, filter *engine.ContentFilter) *reader {
	r := &reader{
		top:     t,
		filter:  filter,
		samples: queue.New(),
	}
	r.cond = notify.NewStatusCondition(r)
	return r
}

// StatusCondition implements engine.Reader.
func (r *reader) StatusCondition() engine.StatusCondition {
	return r.cond
}

// ActiveStatuses implements engine.Reader.
func (r *reader) ActiveStatuses() engine.StatusKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// deliver buffers one envelope, applying the content filter first.
func (r *reader) deliver(env *contracts.Envelope) {
	if !r.accepts(env) {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.samples.Add(env)
	r.active |= engine.StatusDataAvailable
	r.mu.Unlock()
	r.cond.Refresh()
}

func (r *reader) accepts(env *contracts.Envelope) bool {
	if r.filter == nil {
		return true
	}
	// CreateReader only admits filters on the origin field.
	return strings.EqualFold(r.filter.Value, env.Origin.Hex())
}

// HasData implements engine.Reader.
func (r *reader) HasData() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples.Length() > 0
}

// Take implements engine.Reader.
func (r *reader) Take() (*contracts.Envelope, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, contracts.ErrClosed
	}
	if r.samples.Length() == 0 {
		r.mu.Unlock()
		return nil, false, nil
	}
	env := r.samples.Remove().(*contracts.Envelope)
	if r.samples.Length() == 0 {
		r.active &^= engine.StatusDataAvailable
	}
	r.mu.Unlock()
	r.cond.Refresh()
	return env, true, nil
}

// MatchedPublications implements engine.Reader.
func (r *reader) MatchedPublications() (int, error) {
	r.top.mu.Lock()
	defer r.top.mu.Unlock()
	return len(r.top.writers), nil
}

// writersJoined records newly matched writers.
func (r *reader) writersJoined(count int) {
	r.mu.Lock()
	r.liveliness.AliveCount += int32(count)
	r.liveliness.AliveCountChange += int32(count)
	r.active |= engine.StatusLivelinessChanged
	r.mu.Unlock()
	r.cond.Refresh()
}

// writerLost records the loss of a matched writer.
func (r *reader) writerLost() {
	r.mu.Lock()
	r.liveliness.AliveCount--
	r.liveliness.AliveCountChange--
	r.liveliness.NotAliveCount++
	r.liveliness.NotAliveCountChange++
	r.active |= engine.StatusLivelinessChanged
	r.mu.Unlock()
	r.cond.Refresh()
}

// LivelinessChanged implements engine.Reader.
func (r *reader) LivelinessChanged() (engine.LivelinessChangedStatus, error) {
	r.mu.Lock()
	status := r.liveliness
	r.liveliness.AliveCountChange = 0
	r.liveliness.NotAliveCountChange = 0
	r.active &^= engine.StatusLivelinessChanged
	r.mu.Unlock()
	r.cond.Refresh()
	return status, nil
}

// RequestedDeadlineMissed implements engine.Reader.
func (r *reader) RequestedDeadlineMissed() (engine.DeadlineMissedStatus, error) {
	r.mu.Lock()
	status := r.deadline
	r.deadline.TotalCountChange = 0
	r.active &^= engine.StatusRequestedDeadlineMissed
	r.mu.Unlock()
	r.cond.Refresh()
	return status, nil
}

// RequestedIncompatibleQoS implements engine.Reader.
func (r *reader) RequestedIncompatibleQoS() (engine.IncompatibleQoSStatus, error) {
	r.mu.Lock()
	status := r.incompatible
	r.incompatible.TotalCountChange = 0
	r.active &^= engine.StatusRequestedIncompatibleQoS
	r.mu.Unlock()
	r.cond.Refresh()
	return status, nil
}

// SampleLost implements engine.Reader.
func (r *reader) SampleLost() (engine.SampleLostStatus, error) {
	r.mu.Lock()
	status := r.lost
	r.lost.TotalCountChange = 0
	r.active &^= engine.StatusSampleLost
	r.mu.Unlock()
	r.cond.Refresh()
	return status, nil
}

// Close implements engine.Reader.
func (r *reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.active = engine.StatusNone
	r.mu.Unlock()
	r.cond.Refresh()

	r.top.mu.Lock()
	delete(r.top.readers, r)
	r.top.mu.Unlock()
	return nil
}
