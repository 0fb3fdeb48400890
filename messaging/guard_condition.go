package messaging

import (
	"fmt"
	"log/slog"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// GuardCondition is a user-triggerable condition with no underlying I/O.
// Triggering it wakes any waitset it is attached to; the coordinator
// resets the trigger while demultiplexing a wait result.
type GuardCondition struct {
	Condition
	eng    engine.Engine
	guard  engine.GuardCondition
	logger *slog.Logger
}

// GuardConditionOption configures a GuardCondition.
type GuardConditionOption func(*GuardCondition)

// WithGuardLogger sets the logger.
func WithGuardLogger(logger *slog.Logger) GuardConditionOption {
	return func(g *GuardCondition) {
		g.logger = logger
	}
}

// NewGuardCondition allocates a guard condition on the engine.
func NewGuardCondition(eng engine.Engine, options ...GuardConditionOption) (*GuardCondition, error) {
	guard, err := eng.CreateGuard()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard condition: %w", err)
	}
	g := &GuardCondition{
		eng:    eng,
		guard:  guard,
		logger: slog.Default(),
	}
	g.handle = guard
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Trigger marks the guard condition ready, waking any attached waitset.
// Idempotent while the trigger has not been reset by a wait.
func (g *GuardCondition) Trigger() error {
	if g.isDeleted() {
		return fmt.Errorf("trigger on deleted guard condition: %w", contracts.ErrClosed)
	}
	return g.guard.SetTrigger(true)
}

// resetTrigger clears the trigger during demultiplexing. Resetting may
// overwrite a concurrent Trigger from the application; that weak guarantee
// is accepted, matching the engine's expectation that guard conditions are
// application-managed.
func (g *GuardCondition) resetTrigger() error {
	return g.guard.SetTrigger(false)
}

// Close destroys the guard condition, forcing detachment from any waitset
// first. Deleting a guard a thread is currently blocked on is reported as
// an error; the trigger is still raised so the blocked wait observes the
// deletion and unwinds instead of sleeping on a stale handle.
func (g *GuardCondition) Close() error {
	err := g.invalidate()
	if err != nil {
		if terr := g.guard.SetTrigger(true); terr != nil {
			g.logger.Error("failed to wake waitset for deleted guard", "error", terr)
		}
		return err
	}
	if rerr := g.eng.ReleaseGuard(g.guard); rerr != nil {
		return fmt.Errorf("failed to release guard condition: %w", rerr)
	}
	return nil
}
