package messaging

import (
	"fmt"
	"sync"

	"github.com/meshwire/meshwire-go/engine"
)

// Condition is the atomic unit of waitability. It wraps one engine
// condition handle and tracks whether it is attached to a WaitSet and
// whether its owning entity has started destruction.
//
// A condition is attached to at most one waitset at a time; the
// back-reference here and the waitset's forward lists always agree. The
// waitset is a non-owning reference: the entity that created the condition
// stays authoritative for its destruction and must clear the reference
// through invalidate before destruction completes.
type Condition struct {
	mu      sync.Mutex
	handle  engine.Condition
	deleted bool
	ws      *WaitSet
}

// owns reports whether the given engine handle belongs to this condition.
// Used when scanning the active handles returned by the engine's wait.
func (c *Condition) owns(h engine.Condition) bool {
	return c.handle == h
}

// attachedWaitSet returns the current back-reference.
func (c *Condition) attachedWaitSet() *WaitSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// isDeleted reports whether the owning entity started destruction.
func (c *Condition) isDeleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted
}

// attachLocked binds the condition to ws. Attaching to the waitset it is
// already bound to is a no-op; attaching to a different one is an error.
// Caller holds c.mu.
func (c *Condition) attachLocked(ws *WaitSet) error {
	if c.ws == ws {
		return nil
	}
	if c.ws != nil {
		return fmt.Errorf("condition already attached to another waitset")
	}
	if err := ws.native.Attach(c.handle); err != nil {
		return fmt.Errorf("failed to attach condition to engine waitset: %w", err)
	}
	c.ws = ws
	return nil
}

// detachLocked unbinds the condition from its waitset and clears the
// back-reference. Caller holds c.mu.
func (c *Condition) detachLocked() error {
	if c.ws == nil {
		return nil
	}
	if err := c.ws.native.Detach(c.handle); err != nil {
		return fmt.Errorf("failed to detach condition from engine waitset: %w", err)
	}
	c.ws = nil
	return nil
}

// invalidate is the entity-destruction path. It marks the condition
// deleted and forces detachment from whatever waitset currently holds it,
// even if that waitset is mid-wait. The returned error reports an attempt
// to delete a condition that a thread is actively blocked on.
func (c *Condition) invalidate() error {
	c.mu.Lock()
	c.deleted = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	return ws.invalidate(c)
}
