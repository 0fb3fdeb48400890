package notify

import (
	"sync"
)

// Trigger is the notification core of every condition handle. Waitsets
// register a wake channel; setting the trigger posts a non-blocking wake
// to every registered channel on the rising edge.
type Trigger struct {
	mu       sync.Mutex
	active   bool
	watchers map[chan<- struct{}]struct{}
}

// NewTrigger creates an untriggered Trigger.
func NewTrigger() *Trigger {
	return &Trigger{watchers: make(map[chan<- struct{}]struct{})}
}

// Active implements engine.Condition.
func (t *Trigger) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Set updates the trigger, waking watchers when it transitions to active.
func (t *Trigger) Set(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wake := active && !t.active
	t.active = active
	if !wake {
		return
	}
	for ch := range t.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch registers a wake channel. An already-active trigger wakes the
// channel immediately so no edge is lost between attach and wait.
func (t *Trigger) Watch(ch chan<- struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchers[ch] = struct{}{}
	if t.active {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Unwatch removes a wake channel.
func (t *Trigger) Unwatch(ch chan<- struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.watchers, ch)
}
