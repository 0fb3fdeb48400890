package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/notify"
	"github.com/meshwire/meshwire-go/internal/reliability"
)

// writer implements engine.Writer. Publishes go through the engine's
// shared channel under the engine's retry policy; the routing key is
// the envelope origin so filtered readers match at the broker.
type writer struct {
	eng   *Engine
	topic string
	guid  contracts.GUID

	mu     sync.Mutex
	closed bool

	cond *notify.StatusCondition
}

func newWriter(e *Engine, topic string) *writer {
	w := &writer{
		eng:   e,
		topic: topic,
		guid:  contracts.NewGUID(),
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

// ActiveStatuses implements engine.Writer. The broker reports no
// writer-side status changes.
func (w *writer) ActiveStatuses() engine.StatusKind {
	return engine.StatusNone
}

// Write implements engine.Writer.
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

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	exchange := exchangeName(w.topic)
	key := env.Origin.Hex()
	return reliability.Retry(context.Background(), w.eng.retry, func() error {
		return w.eng.publish(exchange, key, body)
	})
}

// MatchedSubscriptions implements engine.Writer. The broker exposes no
// peer discovery, so the count is always zero.
func (w *writer) MatchedSubscriptions() (int, error) {
	return 0, nil
}

// LivelinessLost implements engine.Writer.
func (w *writer) LivelinessLost() (engine.LivelinessLostStatus, error) {
	return engine.LivelinessLostStatus{}, nil
}

// OfferedDeadlineMissed implements engine.Writer.
func (w *writer) OfferedDeadlineMissed() (engine.DeadlineMissedStatus, error) {
	return engine.DeadlineMissedStatus{}, nil
}

// OfferedIncompatibleQoS implements engine.Writer.
func (w *writer) OfferedIncompatibleQoS() (engine.IncompatibleQoSStatus, error) {
	return engine.IncompatibleQoSStatus{}, nil
}

// Close implements engine.Writer.
func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
