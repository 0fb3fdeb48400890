package messaging

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/memengine"
	"github.com/meshwire/meshwire-go/internal/notify"
)

func newTestWaitSet(t *testing.T) (*memengine.Engine, *WaitSet) {
	t.Helper()
	eng := memengine.New()
	t.Cleanup(func() { eng.Close() })
	ws, err := NewWaitSet(eng)
	require.NoError(t, err)
	return eng, ws
}

func TestWaitSetWait(t *testing.T) {
	t.Run("nil sources are rejected", func(t *testing.T) {
		_, ws := newTestWaitSet(t)
		assert.ErrorIs(t, ws.Wait(nil, time.Second), contracts.ErrInvalidArgument)
	})

	t.Run("empty sources time out", func(t *testing.T) {
		_, ws := newTestWaitSet(t)
		assert.ErrorIs(t, ws.Wait(&WaitSources{}, 20*time.Millisecond), contracts.ErrTimeout)
	})

	t.Run("subscription with buffered data returns immediately", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		pub, err := NewPublisher(eng, "chatter")
		require.NoError(t, err)
		require.NoError(t, pub.Write(&contracts.Envelope{Origin: pub.GUID(), Sequence: 1}))

		sources := &WaitSources{Subscriptions: []*Subscriber{sub}}
		require.NoError(t, ws.Wait(sources, time.Second))
		assert.Same(t, sub, sources.Subscriptions[0])
	})

	t.Run("wait wakes on delivery from another goroutine", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		pub, err := NewPublisher(eng, "chatter")
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			pub.Write(&contracts.Envelope{Origin: pub.GUID(), Sequence: 1})
		}()

		sources := &WaitSources{Subscriptions: []*Subscriber{sub}}
		require.NoError(t, ws.Wait(sources, 5*time.Second))
		assert.NotNil(t, sources.Subscriptions[0])
	})

	t.Run("timeout nulls every entry", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)

		sources := &WaitSources{
			Subscriptions:   []*Subscriber{sub},
			GuardConditions: []*GuardCondition{gc},
		}
		assert.ErrorIs(t, ws.Wait(sources, 20*time.Millisecond), contracts.ErrTimeout)
		assert.Nil(t, sources.Subscriptions[0])
		assert.Nil(t, sources.GuardConditions[0])
	})

	t.Run("not-ready sources are nulled, ready ones kept", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)
		require.NoError(t, gc.Trigger())

		sources := &WaitSources{
			Subscriptions:   []*Subscriber{sub},
			GuardConditions: []*GuardCondition{gc},
		}
		require.NoError(t, ws.Wait(sources, time.Second))
		assert.Nil(t, sources.Subscriptions[0])
		assert.Same(t, gc, sources.GuardConditions[0])
	})

	t.Run("returned guard trigger is reset", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)
		require.NoError(t, gc.Trigger())

		sources := &WaitSources{GuardConditions: []*GuardCondition{gc}}
		require.NoError(t, ws.Wait(sources, time.Second))
		require.Same(t, gc, sources.GuardConditions[0])

		sources = &WaitSources{GuardConditions: []*GuardCondition{gc}}
		assert.ErrorIs(t, ws.Wait(sources, 20*time.Millisecond), contracts.ErrTimeout)
	})

	t.Run("data arriving during a wait is not consumed by it", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		pub, err := NewPublisher(eng, "chatter")
		require.NoError(t, err)
		require.NoError(t, pub.Write(&contracts.Envelope{Origin: pub.GUID(), Sequence: 1}))

		sources := &WaitSources{Subscriptions: []*Subscriber{sub}}
		require.NoError(t, ws.Wait(sources, time.Second))

		env, taken, err := sub.TakeMessage()
		require.NoError(t, err)
		require.True(t, taken)
		assert.Equal(t, int64(1), env.Sequence)
	})
}

func TestWaitSetConcurrency(t *testing.T) {
	t.Run("second concurrent wait fails immediately", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)

		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			close(started)
			done <- ws.Wait(&WaitSources{GuardConditions: []*GuardCondition{gc}}, 5*time.Second)
		}()
		<-started
		require.Eventually(t, func() bool {
			ws.mu.Lock()
			defer ws.mu.Unlock()
			return ws.state == stateBlocked
		}, time.Second, time.Millisecond)

		err = ws.Wait(&WaitSources{GuardConditions: []*GuardCondition{gc}}, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "multiple concurrent waits")

		require.NoError(t, gc.Trigger())
		require.NoError(t, <-done)
	})

	t.Run("close fails while a wait is in progress", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			done <- ws.Wait(&WaitSources{GuardConditions: []*GuardCondition{gc}}, 5*time.Second)
		}()
		require.Eventually(t, func() bool {
			ws.mu.Lock()
			defer ws.mu.Unlock()
			return ws.state == stateBlocked
		}, time.Second, time.Millisecond)

		assert.Error(t, ws.Close())

		require.NoError(t, gc.Trigger())
		require.NoError(t, <-done)
		assert.NoError(t, ws.Close())
	})

	t.Run("invalidation races with an acquiring waiter", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		ev := &Event{Kind: EventLivelinessChanged, Subscriber: sub}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 100; i++ {
				sources := &WaitSources{
					Subscriptions: []*Subscriber{sub},
					Events:        []*Event{ev},
				}
				ws.Wait(sources, time.Millisecond)
			}
		}()

		// Hammer the attached-record scan while the waiter keeps
		// attaching. Errors are expected whenever a wait is in flight;
		// the scan itself must stay safe.
		for waiting := true; waiting; {
			select {
			case <-done:
				waiting = false
			default:
				_ = ws.invalidate(&sub.cond.Condition)
				runtime.Gosched()
			}
		}
	})
}

func TestWaitSetAttachment(t *testing.T) {
	t.Run("conditions stay attached between identical waits", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)

		sources := &WaitSources{Subscriptions: []*Subscriber{sub}}
		require.ErrorIs(t, ws.Wait(sources, 10*time.Millisecond), contracts.ErrTimeout)
		assert.Same(t, ws, sub.cond.attachedWaitSet())

		sources = &WaitSources{Subscriptions: []*Subscriber{sub}}
		require.ErrorIs(t, ws.Wait(sources, 10*time.Millisecond), contracts.ErrTimeout)
		assert.Same(t, ws, sub.cond.attachedWaitSet())
	})

	t.Run("identical waits skip the engine attach cycle", func(t *testing.T) {
		eng := &countingEngine{Engine: memengine.New()}
		t.Cleanup(func() { eng.Close() })
		ws, err := NewWaitSet(eng)
		require.NoError(t, err)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)

		require.ErrorIs(t, ws.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond), contracts.ErrTimeout)
		attaches := eng.attaches.Load()
		masks := eng.masks.Load()
		require.Equal(t, int32(1), attaches)

		require.ErrorIs(t, ws.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond), contracts.ErrTimeout)
		assert.Equal(t, attaches, eng.attaches.Load(), "identical request must not re-attach")
		assert.Equal(t, masks, eng.masks.Load(), "identical request must not reconfigure status masks")

		changed := &WaitSources{
			Subscriptions:   []*Subscriber{sub},
			GuardConditions: []*GuardCondition{gc},
		}
		require.ErrorIs(t, ws.Wait(changed, 10*time.Millisecond), contracts.ErrTimeout)
		assert.Greater(t, eng.attaches.Load(), attaches)
	})

	t.Run("changing the sources detaches the old set", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)

		require.ErrorIs(t, ws.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond), contracts.ErrTimeout)
		require.Same(t, ws, sub.cond.attachedWaitSet())

		require.ErrorIs(t, ws.Wait(&WaitSources{GuardConditions: []*GuardCondition{gc}}, 10*time.Millisecond), contracts.ErrTimeout)
		assert.Nil(t, sub.cond.attachedWaitSet())
		assert.Same(t, ws, gc.attachedWaitSet())
	})

	t.Run("a second waitset steals an attached condition", func(t *testing.T) {
		eng, ws1 := newTestWaitSet(t)
		ws2, err := NewWaitSet(eng)
		require.NoError(t, err)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)

		require.ErrorIs(t, ws1.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond), contracts.ErrTimeout)
		require.Same(t, ws1, sub.cond.attachedWaitSet())

		require.ErrorIs(t, ws2.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond), contracts.ErrTimeout)
		assert.Same(t, ws2, sub.cond.attachedWaitSet())
	})
}

func TestWaitSetInvalidation(t *testing.T) {
	t.Run("closing an attached subscriber detaches it from an idle waitset", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)

		require.ErrorIs(t, ws.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond), contracts.ErrTimeout)
		require.Same(t, ws, sub.cond.attachedWaitSet())

		require.NoError(t, sub.Close())
		assert.Nil(t, sub.cond.attachedWaitSet())
	})

	t.Run("waiting on a deleted subscriber fails at attach", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		require.NoError(t, sub.Close())

		err = ws.Wait(&WaitSources{Subscriptions: []*Subscriber{sub}}, 10*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deleted")
	})

	t.Run("closing a guard a thread is blocked on fails on both sides", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		gc, err := NewGuardCondition(eng)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			done <- ws.Wait(&WaitSources{GuardConditions: []*GuardCondition{gc}}, 5*time.Second)
		}()
		require.Eventually(t, func() bool {
			ws.mu.Lock()
			defer ws.mu.Unlock()
			return ws.state == stateBlocked
		}, time.Second, time.Millisecond)

		err = gc.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot delete and wait on the same object")

		select {
		case werr := <-done:
			require.Error(t, werr)
			assert.Contains(t, werr.Error(), "condition deleted while wait in progress")
		case <-time.After(time.Second):
			t.Fatal("waiter did not unwind after guard deletion")
		}
	})
}

func TestWaitSetEvents(t *testing.T) {
	t.Run("liveliness event fires when a writer joins", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		_, err = NewPublisher(eng, "chatter")
		require.NoError(t, err)

		ev := &Event{Kind: EventLivelinessChanged, Subscriber: sub}
		sources := &WaitSources{Events: []*Event{ev}}
		require.NoError(t, ws.Wait(sources, time.Second))
		assert.Same(t, ev, sources.Events[0])
	})

	t.Run("data-only delivery does not fire a liveliness event", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		sub, err := NewSubscriber(eng, "chatter")
		require.NoError(t, err)
		pub, err := NewPublisher(eng, "chatter")
		require.NoError(t, err)

		// Drain the join notification so only data remains.
		_, err = sub.Condition().LivelinessChanged()
		require.NoError(t, err)

		require.NoError(t, pub.Write(&contracts.Envelope{Origin: pub.GUID(), Sequence: 1}))

		ev := &Event{Kind: EventLivelinessChanged, Subscriber: sub}
		sources := &WaitSources{
			Subscriptions: []*Subscriber{sub},
			Events:        []*Event{ev},
		}
		require.NoError(t, ws.Wait(sources, time.Second))
		assert.Same(t, sub, sources.Subscriptions[0])
		assert.Nil(t, sources.Events[0])
	})

	t.Run("event with mismatched endpoint side is rejected", func(t *testing.T) {
		eng, ws := newTestWaitSet(t)
		pub, err := NewPublisher(eng, "chatter")
		require.NoError(t, err)

		ev := &Event{Kind: EventLivelinessChanged, Publisher: pub}
		err = ws.Wait(&WaitSources{Events: []*Event{ev}}, 10*time.Millisecond)
		assert.ErrorIs(t, err, contracts.ErrInvalidArgument)
	})
}

// countingEngine counts the engine calls an attach cycle performs, so
// tests can observe when the cycle is skipped entirely.
type countingEngine struct {
	engine.Engine
	attaches atomic.Int32
	masks    atomic.Int32
}

func (e *countingEngine) CreateReader(topic string, filter *engine.ContentFilter) (engine.Reader, error) {
	r, err := e.Engine.CreateReader(topic, filter)
	if err != nil {
		return nil, err
	}
	cond := &countingStatusCondition{
		StatusCondition: r.StatusCondition().(*notify.StatusCondition),
		masks:           &e.masks,
	}
	return &countingReader{Reader: r, cond: cond}, nil
}

func (e *countingEngine) CreateWaitSet() (engine.WaitSet, error) {
	ws, err := e.Engine.CreateWaitSet()
	if err != nil {
		return nil, err
	}
	return &countingWaitSet{WaitSet: ws, attaches: &e.attaches}, nil
}

type countingWaitSet struct {
	engine.WaitSet
	attaches *atomic.Int32
}

func (ws *countingWaitSet) Attach(c engine.Condition) error {
	ws.attaches.Add(1)
	return ws.WaitSet.Attach(c)
}

type countingReader struct {
	engine.Reader
	cond *countingStatusCondition
}

func (r *countingReader) StatusCondition() engine.StatusCondition {
	return r.cond
}

type countingStatusCondition struct {
	*notify.StatusCondition
	masks *atomic.Int32
}

func (c *countingStatusCondition) SetEnabledStatuses(mask engine.StatusKind) error {
	c.masks.Add(1)
	return c.StatusCondition.SetEnabledStatuses(mask)
}
