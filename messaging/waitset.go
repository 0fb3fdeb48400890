package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// waitSetState tracks where a WaitSet is within the lifecycle of one
// wait() call.
type waitSetState int

const (
	// stateFree: no wait in progress, no invalidation in progress.
	stateFree waitSetState = iota
	// stateAcquiring: a waiter is attaching the requested sources.
	stateAcquiring
	// stateBlocked: the waiter is parked in the engine's wait call.
	stateBlocked
	// stateReleasing: the waiter is demultiplexing the wait result.
	stateReleasing
	// stateInvalidating: a destructor-driven detach is running while no
	// wait is in progress.
	stateInvalidating
)

// WaitSources is the set of heterogeneous sources one wait call blocks on.
// Wait nulls out, in place, every entry that was not ready when it
// returned; entry order is never permuted.
type WaitSources struct {
	Subscriptions   []*Subscriber
	GuardConditions []*GuardCondition
	Services        []*Service
	Clients         []*Client
	Events          []*Event
}

// WaitSet aggregates conditions from five source kinds and performs one
// blocking wait on the engine, then demultiplexes the result back into
// per-kind readiness. At most one thread may be waiting on a given WaitSet
// at any time. The WaitSet owns its native engine waitset but holds only
// non-owning references to attached sources.
type WaitSet struct {
	mu    sync.Mutex
	sig   *sync.Cond
	state waitSetState

	native engine.WaitSet

	attachedSubs     []*Subscriber
	attachedGuards   []*GuardCondition
	attachedClients  []*Client
	attachedServices []*Service
	attachedEvents   []*Event

	// eventCache keeps a shallow copy of each attached event so that
	// detach and demultiplexing stay safe even if the caller destroys the
	// original event before the wait finishes.
	eventCache map[*Event]Event

	logger *slog.Logger
}

// WaitSetOption configures a WaitSet.
type WaitSetOption func(*WaitSet)

// WithWaitSetLogger sets the logger.
func WithWaitSetLogger(logger *slog.Logger) WaitSetOption {
	return func(ws *WaitSet) {
		ws.logger = logger
	}
}

// NewWaitSet allocates a wait coordinator backed by one engine waitset.
func NewWaitSet(eng engine.Engine, options ...WaitSetOption) (*WaitSet, error) {
	native, err := eng.CreateWaitSet()
	if err != nil {
		return nil, fmt.Errorf("failed to create engine waitset: %w", err)
	}
	ws := &WaitSet{
		native:     native,
		eventCache: make(map[*Event]Event),
		logger:     slog.Default(),
	}
	ws.sig = sync.NewCond(&ws.mu)
	for _, opt := range options {
		opt(ws)
	}
	return ws, nil
}

// Wait blocks until at least one source is ready or the timeout elapses.
// A negative timeout waits indefinitely. Entries of the source slices that
// were not ready are nulled out in place. Expiry with no ready source is
// reported as contracts.ErrTimeout; a second thread calling Wait
// concurrently fails immediately.
func (ws *WaitSet) Wait(sources *WaitSources, timeout time.Duration) error {
	if sources == nil {
		return fmt.Errorf("nil wait sources: %w", contracts.ErrInvalidArgument)
	}

	ws.mu.Lock()
	alreadyTaken := false
	switch ws.state {
	case stateFree:
		// waitset is available
	case stateInvalidating:
		// An invalidation is running; wait for it to complete, then treat
		// anything but FREE as another thread owning the waitset.
		ws.sig.Wait()
		alreadyTaken = ws.state != stateFree
	default:
		alreadyTaken = true
	}
	if alreadyTaken {
		ws.mu.Unlock()
		return errors.New("multiple concurrent waits not supported")
	}
	ws.state = stateAcquiring
	ws.mu.Unlock()
	ws.sig.Broadcast()

	// Whatever happens below, leave the waitset in FREE state; on error
	// paths also drop every attached condition so no stale reference
	// survives this call.
	detachOnExit := true
	defer func() {
		if detachOnExit {
			if err := ws.detachAll(); err != nil {
				ws.logger.Error("failed to detach conditions from waitset", "error", err)
			}
		}
		ws.setState(stateFree)
	}()

	if err := ws.attach(sources); err != nil {
		return err
	}

	ws.setState(stateBlocked)

	active, waitErr := ws.native.Wait(timeout)
	timedOut := errors.Is(waitErr, contracts.ErrTimeout)
	if waitErr != nil && !timedOut {
		return fmt.Errorf("engine wait failed: %w", waitErr)
	}

	ws.setState(stateReleasing)

	activeCount, err := ws.processWait(sources, active)
	if err != nil {
		return err
	}

	detachOnExit = false

	// No timeout and nothing deleted means the engine reported at least
	// one active condition; anything else is an internal inconsistency.
	if !timedOut && activeCount == 0 {
		return errors.New("wait returned without timeout but no source is active")
	}

	if timedOut {
		return contracts.ErrTimeout
	}
	return nil
}

func (ws *WaitSet) setState(s waitSetState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()
	ws.sig.Broadcast()
}

// invalidate is called by a condition about to be destroyed. If the
// waitset is idle the whole attached set is dropped under the
// INVALIDATING side state. If a waiter is still acquiring, invalidation
// waits for the next transition and verifies the condition was detached.
// Deleting a condition a thread is actively blocked on is an error.
func (ws *WaitSet) invalidate(c *Condition) error {
	ws.mu.Lock()

	// Nothing to do when the condition is not attached: the waitset holds
	// no reference that could go stale.
	if !ws.isAttachedLocked(c) {
		ws.mu.Unlock()
		return nil
	}

	if ws.state == stateFree {
		ws.state = stateInvalidating
		ws.mu.Unlock()

		err := ws.detachAll()
		if err != nil {
			ws.logger.Error("failed to detach conditions on invalidate", "error", err)
		}

		ws.mu.Lock()
		ws.state = stateFree
		ws.mu.Unlock()
		ws.sig.Broadcast()
		return err
	}

	if ws.state != stateAcquiring {
		ws.mu.Unlock()
		return errors.New("cannot delete and wait on the same object")
	}

	// Block until the next state transition, by which point the acquiring
	// thread must have detached the condition (its detach/re-attach cycle
	// runs before BLOCKED is entered).
	ws.sig.Wait()
	attached := ws.isAttachedLocked(c)
	ws.mu.Unlock()

	if attached {
		return errors.New("deleted condition not detached")
	}
	return nil
}

// isAttachedLocked scans the five attached lists for the condition.
// Caller holds ws.mu.
func (ws *WaitSet) isAttachedLocked(c *Condition) bool {
	for _, sub := range ws.attachedSubs {
		if &sub.cond.Condition == c {
			return true
		}
	}
	for _, gc := range ws.attachedGuards {
		if &gc.Condition == c {
			return true
		}
	}
	for _, client := range ws.attachedClients {
		if &client.replySub.cond.Condition == c {
			return true
		}
	}
	for _, svc := range ws.attachedServices {
		if &svc.requestSub.cond.Condition == c {
			return true
		}
	}
	for _, ev := range ws.attachedEvents {
		cached := ws.eventCache[ev]
		if cond := cached.condition(); cond != nil && &cond.Condition == c {
			return true
		}
	}
	return false
}

// requireAttach reports whether the requested source list differs from the
// attached one. Equality is positional pointer equality, so an unchanged
// request skips the whole detach/re-attach cycle.
func requireAttach[T comparable](attached, requested []T) bool {
	if len(requested) == 0 {
		return len(attached) > 0
	}
	if len(requested) != len(attached) {
		return true
	}
	for i := range requested {
		if requested[i] != attached[i] {
			return true
		}
	}
	return false
}

// attach binds the requested sources to the waitset, skipping the cycle
// entirely when the request matches what is already attached.
func (ws *WaitSet) attach(sources *WaitSources) error {
	refresh := requireAttach(ws.attachedSubs, sources.Subscriptions) ||
		requireAttach(ws.attachedGuards, sources.GuardConditions) ||
		requireAttach(ws.attachedEvents, sources.Events) ||
		requireAttach(ws.attachedServices, sources.Services) ||
		requireAttach(ws.attachedClients, sources.Clients)
	if !refresh {
		return nil
	}

	if err := ws.detachAll(); err != nil {
		return fmt.Errorf("failed to detach conditions from waitset: %w", err)
	}

	// Reset the enabled statuses of every event's condition first, so
	// that endpoints passed both as data sources and as events end up
	// with exactly the statuses requested below.
	for _, ev := range sources.Events {
		cond := ev.condition()
		if cond == nil {
			return fmt.Errorf("event %v has no endpoint of the matching side: %w",
				ev.Kind, contracts.ErrInvalidArgument)
		}
		if err := ws.stealCondition(&cond.Condition); err != nil {
			return err
		}
		cond.mu.Lock()
		if cond.deleted {
			cond.mu.Unlock()
			return errors.New("event condition deleted during attach")
		}
		if err := cond.resetStatusesLocked(); err != nil {
			cond.mu.Unlock()
			return err
		}
		cond.mu.Unlock()
	}

	for _, sub := range sources.Subscriptions {
		if err := ws.attachDataCondition(&sub.cond.StatusCondition); err != nil {
			return fmt.Errorf("failed to attach subscriber condition: %w", err)
		}
		// Record under ws.mu: an invalidating thread scans the attached
		// lists under the same lock while this waiter is still acquiring.
		ws.mu.Lock()
		ws.attachedSubs = append(ws.attachedSubs, sub)
		ws.mu.Unlock()
	}

	for _, client := range sources.Clients {
		if err := ws.attachDataCondition(&client.replySub.cond.StatusCondition); err != nil {
			return fmt.Errorf("failed to attach client condition: %w", err)
		}
		ws.mu.Lock()
		ws.attachedClients = append(ws.attachedClients, client)
		ws.mu.Unlock()
	}

	for _, svc := range sources.Services {
		if err := ws.attachDataCondition(&svc.requestSub.cond.StatusCondition); err != nil {
			return fmt.Errorf("failed to attach service condition: %w", err)
		}
		ws.mu.Lock()
		ws.attachedServices = append(ws.attachedServices, svc)
		ws.mu.Unlock()
	}

	for _, ev := range sources.Events {
		cond := ev.condition()
		cond.mu.Lock()
		if cond.deleted {
			cond.mu.Unlock()
			return errors.New("event condition deleted during attach")
		}
		if err := cond.enableStatusesLocked(ev.Kind.statusKind()); err != nil {
			cond.mu.Unlock()
			return fmt.Errorf("failed to enable event condition: %w", err)
		}
		if err := cond.attachLocked(ws); err != nil {
			cond.mu.Unlock()
			return fmt.Errorf("failed to attach event condition: %w", err)
		}
		cond.mu.Unlock()
		// Shallow copy so the event survives concurrent destruction of
		// the caller's original until this waitset detaches it.
		ws.mu.Lock()
		ws.attachedEvents = append(ws.attachedEvents, ev)
		ws.eventCache[ev] = *ev
		ws.mu.Unlock()
	}

	for _, gc := range sources.GuardConditions {
		if err := ws.stealCondition(&gc.Condition); err != nil {
			return err
		}
		gc.mu.Lock()
		if gc.deleted {
			gc.mu.Unlock()
			return errors.New("guard condition deleted during attach")
		}
		if err := gc.attachLocked(ws); err != nil {
			gc.mu.Unlock()
			return fmt.Errorf("failed to attach guard condition: %w", err)
		}
		gc.mu.Unlock()
		ws.mu.Lock()
		ws.attachedGuards = append(ws.attachedGuards, gc)
		ws.mu.Unlock()
	}

	return nil
}

// stealCondition forces a condition attached to a different waitset to be
// detached from it before this waitset takes it over.
func (ws *WaitSet) stealCondition(cond *Condition) error {
	if other := cond.attachedWaitSet(); other != nil && other != ws {
		if err := other.invalidate(cond); err != nil {
			return fmt.Errorf("failed to detach condition from previous waitset: %w", err)
		}
	}
	return nil
}

// attachDataCondition configures and attaches the status condition of a
// data source (subscription, client, or service): only the data-available
// status wakes the waiter.
func (ws *WaitSet) attachDataCondition(cond *StatusCondition) error {
	if err := ws.stealCondition(&cond.Condition); err != nil {
		return err
	}
	cond.mu.Lock()
	defer cond.mu.Unlock()
	if cond.deleted {
		return errors.New("condition deleted during attach")
	}
	if err := cond.resetStatusesLocked(); err != nil {
		return err
	}
	if err := cond.enableStatusesLocked(engine.StatusDataAvailable); err != nil {
		return err
	}
	return cond.attachLocked(ws)
}

// detachAll detaches every attached condition, accumulating failures so
// that as many sources as possible are released before reporting. The
// attached record is snapshotted and cleared under ws.mu; the engine
// detaches run outside it so condition locks never nest inside ws.mu.
func (ws *WaitSet) detachAll() error {
	ws.mu.Lock()
	subs := ws.attachedSubs
	guards := ws.attachedGuards
	clients := ws.attachedClients
	services := ws.attachedServices
	events := ws.attachedEvents
	cache := ws.eventCache
	ws.attachedSubs = nil
	ws.attachedGuards = nil
	ws.attachedClients = nil
	ws.attachedServices = nil
	ws.attachedEvents = nil
	ws.eventCache = make(map[*Event]Event)
	ws.mu.Unlock()

	var errs []error

	detach := func(c *Condition) {
		c.mu.Lock()
		if err := c.detachLocked(); err != nil {
			errs = append(errs, err)
		}
		c.mu.Unlock()
	}

	for _, sub := range subs {
		detach(&sub.cond.Condition)
	}
	for _, gc := range guards {
		detach(&gc.Condition)
	}
	for _, client := range clients {
		detach(&client.replySub.cond.Condition)
	}
	for _, svc := range services {
		detach(&svc.requestSub.cond.Condition)
	}
	for _, ev := range events {
		cached := cache[ev]
		if cond := cached.condition(); cond != nil {
			detach(&cond.Condition)
		}
	}

	return errors.Join(errs...)
}

// activeCondition scans the engine's active handles for one owned by the
// given condition.
func (ws *WaitSet) activeCondition(active []engine.Condition, c *Condition) bool {
	for _, h := range active {
		if c.owns(h) {
			return true
		}
	}
	return false
}

// processWait demultiplexes the engine's wait result. Readiness is
// re-derived per source kind rather than trusting the raw active list:
// data sources are probed for buffered data, guard conditions are matched
// against the active handles and reset, events re-check their status
// against the cached entity. Sources found not ready are nulled out in the
// caller's slices in place. Failures are accumulated, never
// short-circuited, so every source is still inspected and the waitset
// fully detached by the caller on error.
func (ws *WaitSet) processWait(sources *WaitSources, active []engine.Condition) (int, error) {
	activeCount := 0
	var errs []error
	valid := true

	for i, sub := range ws.attachedSubs {
		if !sub.HasData() {
			sources.Subscriptions[i] = nil
		} else {
			activeCount++
		}
		valid = valid && !sub.cond.isDeleted()
	}

	for i, gc := range ws.attachedGuards {
		if !ws.activeCondition(active, &gc.Condition) {
			sources.GuardConditions[i] = nil
		} else {
			// Resetting the trigger may overwrite a concurrent Trigger
			// from the application. The engine expects guard conditions
			// to be application-managed exactly because this race has no
			// general solution, so the weak guarantee stands.
			if err := gc.resetTrigger(); err != nil {
				errs = append(errs, fmt.Errorf("failed to reset guard trigger: %w", err))
			}
			activeCount++
		}
		valid = valid && !gc.isDeleted()
	}

	for i, client := range ws.attachedClients {
		if !client.replySub.HasData() {
			sources.Clients[i] = nil
		} else {
			activeCount++
		}
		valid = valid && !client.replySub.cond.isDeleted()
	}

	for i, svc := range ws.attachedServices {
		if !svc.requestSub.HasData() {
			sources.Services[i] = nil
		} else {
			activeCount++
		}
		valid = valid && !svc.requestSub.cond.isDeleted()
	}

	for i, ev := range ws.attachedEvents {
		cached := ws.eventCache[ev]
		if !cached.active() {
			sources.Events[i] = nil
		} else {
			activeCount++
		}
		if cond := cached.condition(); cond != nil {
			valid = valid && !cond.isDeleted()
		}
	}

	if !valid {
		errs = append(errs, errors.New("condition deleted while wait in progress"))
	}
	return activeCount, errors.Join(errs...)
}

// Close destroys the waitset. Attached conditions are detached first; a
// wait in progress makes Close fail.
func (ws *WaitSet) Close() error {
	ws.mu.Lock()
	if ws.state != stateFree {
		ws.mu.Unlock()
		return errors.New("cannot close waitset with wait in progress")
	}
	ws.state = stateInvalidating
	ws.mu.Unlock()

	err := ws.detachAll()

	ws.mu.Lock()
	ws.state = stateFree
	ws.mu.Unlock()
	ws.sig.Broadcast()

	if err != nil {
		return fmt.Errorf("failed to detach conditions on close: %w", err)
	}
	return ws.native.Close()
}
