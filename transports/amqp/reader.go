package amqp

import (
	"encoding/json"
	"sync"

	"github.com/eapache/queue"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/notify"
)

// reader implements engine.Reader on a dedicated consumer channel.
// Deliveries are decoded off the consume loop and buffered in an
// unbounded FIFO; undecodable bodies count as lost samples.
type reader struct {
	eng   *Engine
	topic string
	ch    *amqp.Channel

	mu      sync.Mutex
	samples *queue.Queue
	closed  bool
	active  engine.StatusKind
	lost    engine.SampleLostStatus

	cond *notify.StatusCondition
}

func newReader(e *Engine, topic string, ch *amqp.Channel) *reader {
	r := &reader{
		eng:     e,
		topic:   topic,
		ch:      ch,
		samples: queue.New(),
	}
	r.cond = notify.NewStatusCondition(r)
	return r
}

// run consumes until the channel closes, either through Close or a
// broker-side cancellation.
func (r *reader) run(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		env := new(contracts.Envelope)
		if err := json.Unmarshal(d.Body, env); err != nil {
			r.eng.logger.Warn("discarding undecodable delivery",
				"topic", r.topic, "error", err)
			r.sampleLost()
			continue
		}
		r.deliver(env)
	}
	r.mu.Lock()
	r.closed = true
	r.active = engine.StatusNone
	r.mu.Unlock()
	r.cond.Refresh()
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

func (r *reader) deliver(env *contracts.Envelope) {
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

func (r *reader) sampleLost() {
	r.mu.Lock()
	r.lost.TotalCount++
	r.lost.TotalCountChange++
	r.active |= engine.StatusSampleLost
	r.mu.Unlock()
	r.cond.Refresh()
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
	if r.closed && r.samples.Length() == 0 {
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

// MatchedPublications implements engine.Reader. The broker exposes no
// peer discovery, so the count is always zero.
func (r *reader) MatchedPublications() (int, error) {
	return 0, nil
}

// LivelinessChanged implements engine.Reader.
func (r *reader) LivelinessChanged() (engine.LivelinessChangedStatus, error) {
	return engine.LivelinessChangedStatus{}, nil
}

// RequestedDeadlineMissed implements engine.Reader.
func (r *reader) RequestedDeadlineMissed() (engine.DeadlineMissedStatus, error) {
	return engine.DeadlineMissedStatus{}, nil
}

// RequestedIncompatibleQoS implements engine.Reader.
func (r *reader) RequestedIncompatibleQoS() (engine.IncompatibleQoSStatus, error) {
	return engine.IncompatibleQoSStatus{}, nil
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

// Close implements engine.Reader. Closing the channel cancels the
// consumer; run observes the closed delivery stream and finishes the
// shutdown.
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

	r.eng.dropReader(r)
	return r.ch.Close()
}
