package notify

import (
	"sync"

	"github.com/meshwire/meshwire-go/engine"
)

// Guard implements engine.GuardCondition.
type Guard struct {
	*Trigger
}

// NewGuard allocates an untriggered guard condition.
func NewGuard() *Guard {
	return &Guard{Trigger: NewTrigger()}
}

// SetTrigger implements engine.GuardCondition.
func (g *Guard) SetTrigger(triggered bool) error {
	g.Set(triggered)
	return nil
}

// StatusOwner is the endpoint a status condition reports on.
type StatusOwner interface {
	ActiveStatuses() engine.StatusKind
}

// StatusCondition implements engine.StatusCondition. The condition is
// active while the owner asserts any status in the enabled mask.
type StatusCondition struct {
	*Trigger
	mu      sync.Mutex
	enabled engine.StatusKind
	owner   StatusOwner
}

// NewStatusCondition creates a status condition for the given owner with
// no statuses enabled.
func NewStatusCondition(owner StatusOwner) *StatusCondition {
	return &StatusCondition{Trigger: NewTrigger(), owner: owner}
}

// SetEnabledStatuses implements engine.StatusCondition.
func (s *StatusCondition) SetEnabledStatuses(mask engine.StatusKind) error {
	s.mu.Lock()
	s.enabled = mask
	s.mu.Unlock()
	s.Refresh()
	return nil
}

// Refresh recomputes the trigger from the owner's currently active
// statuses. Owners call it whenever their status set changes.
func (s *StatusCondition) Refresh() {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	s.Set(s.owner.ActiveStatuses()&enabled != engine.StatusNone)
}
