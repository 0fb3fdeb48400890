package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// watchable is the attachment contract between conditions and waitsets.
// Guard and StatusCondition satisfy it through their embedded Trigger.
type watchable interface {
	engine.Condition
	Watch(ch chan<- struct{})
	Unwatch(ch chan<- struct{})
}

// WaitSet implements engine.WaitSet for conditions built on Trigger.
// Attached conditions post to the wake channel when they trigger; Wait
// re-scans the attached set after every wake so spurious or stale
// notifications are harmless.
type WaitSet struct {
	mu       sync.Mutex
	attached map[watchable]struct{}
	wake     chan struct{}
	done     chan struct{}
	closed   bool
}

// NewWaitSet allocates an empty waitset.
func NewWaitSet() *WaitSet {
	return &WaitSet{
		attached: make(map[watchable]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Attach implements engine.WaitSet.
func (ws *WaitSet) Attach(c engine.Condition) error {
	w, ok := c.(watchable)
	if !ok {
		return fmt.Errorf("foreign condition %T: %w", c, contracts.ErrInvalidArgument)
	}
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return contracts.ErrClosed
	}
	ws.attached[w] = struct{}{}
	ws.mu.Unlock()
	w.Watch(ws.wake)
	return nil
}

// Detach implements engine.WaitSet.
func (ws *WaitSet) Detach(c engine.Condition) error {
	w, ok := c.(watchable)
	if !ok {
		return fmt.Errorf("foreign condition %T: %w", c, contracts.ErrInvalidArgument)
	}
	ws.mu.Lock()
	delete(ws.attached, w)
	ws.mu.Unlock()
	w.Unwatch(ws.wake)
	return nil
}

// Wait implements engine.WaitSet.
func (ws *WaitSet) Wait(timeout time.Duration) ([]engine.Condition, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if active := ws.collectActive(); len(active) > 0 {
			return active, nil
		}
		select {
		case <-ws.wake:
		case <-expired:
			// One last scan: a condition may have triggered between the
			// scan above and the timer firing.
			if active := ws.collectActive(); len(active) > 0 {
				return active, nil
			}
			return nil, contracts.ErrTimeout
		case <-ws.done:
			return nil, contracts.ErrClosed
		}
	}
}

func (ws *WaitSet) collectActive() []engine.Condition {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var active []engine.Condition
	for c := range ws.attached {
		if c.Active() {
			active = append(active, c)
		}
	}
	return active
}

// Close implements engine.WaitSet.
func (ws *WaitSet) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	attached := make([]watchable, 0, len(ws.attached))
	for c := range ws.attached {
		attached = append(attached, c)
	}
	ws.attached = make(map[watchable]struct{})
	ws.mu.Unlock()

	for _, c := range attached {
		c.Unwatch(ws.wake)
	}
	close(ws.done)
	return nil
}
