package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/memengine"
)

func TestTopicNaming(t *testing.T) {
	t.Run("request and reply topics derive from the service name", func(t *testing.T) {
		assert.Equal(t, "rq.add_two_ints", RequestTopic("add_two_ints"))
		assert.Equal(t, "rr.add_two_ints", ReplyTopic("add_two_ints"))
	})
}

func TestClientService(t *testing.T) {
	t.Run("empty service name is rejected", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		_, err := NewClient(eng, "")
		assert.ErrorIs(t, err, contracts.ErrInvalidArgument)
		_, err = NewService(eng, "")
		assert.ErrorIs(t, err, contracts.ErrInvalidArgument)
	})

	t.Run("request reply round trip", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		svc, err := NewService(eng, "echo")
		require.NoError(t, err)
		client, err := NewClient(eng, "echo")
		require.NoError(t, err)

		seq, err := client.SendRequest(json.RawMessage(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)

		payload, id, taken, err := svc.TakeRequest()
		require.NoError(t, err)
		require.True(t, taken)
		assert.JSONEq(t, `{"a":1}`, string(payload))
		assert.Equal(t, client.Publisher().GUID(), id.Origin)
		assert.Equal(t, seq, id.Sequence)

		require.NoError(t, svc.SendResponse(id, json.RawMessage(`{"sum":1}`)))

		reply, replyID, taken, err := client.TakeResponse()
		require.NoError(t, err)
		require.True(t, taken)
		assert.JSONEq(t, `{"sum":1}`, string(reply))
		assert.True(t, replyID.Equal(id))
	})

	t.Run("sequence numbers increase per client", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		client, err := NewClient(eng, "echo")
		require.NoError(t, err)

		for want := int64(1); want <= 3; want++ {
			seq, err := client.SendRequest(nil)
			require.NoError(t, err)
			assert.Equal(t, want, seq)
		}
	})

	t.Run("replies reach only the requesting client", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		svc, err := NewService(eng, "echo")
		require.NoError(t, err)
		first, err := NewClient(eng, "echo")
		require.NoError(t, err)
		second, err := NewClient(eng, "echo")
		require.NoError(t, err)

		_, err = first.SendRequest(json.RawMessage(`"from-first"`))
		require.NoError(t, err)

		_, id, taken, err := svc.TakeRequest()
		require.NoError(t, err)
		require.True(t, taken)
		require.NoError(t, svc.SendResponse(id, json.RawMessage(`"reply"`)))

		_, _, taken, err = second.TakeResponse()
		require.NoError(t, err)
		assert.False(t, taken, "reply must not reach the other client")

		_, replyID, taken, err := first.TakeResponse()
		require.NoError(t, err)
		require.True(t, taken)
		assert.True(t, replyID.Equal(id))
	})

	t.Run("waitset drives the service loop", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		svc, err := NewService(eng, "add")
		require.NoError(t, err)
		client, err := NewClient(eng, "add")
		require.NoError(t, err)

		serviceWS, err := NewWaitSet(eng)
		require.NoError(t, err)
		clientWS, err := NewWaitSet(eng)
		require.NoError(t, err)

		go func() {
			sources := &WaitSources{Services: []*Service{svc}}
			if err := serviceWS.Wait(sources, 5*time.Second); err != nil {
				return
			}
			if sources.Services[0] == nil {
				return
			}
			_, id, taken, err := svc.TakeRequest()
			if err != nil || !taken {
				return
			}
			svc.SendResponse(id, json.RawMessage(`"pong"`))
		}()

		seq, err := client.SendRequest(json.RawMessage(`"ping"`))
		require.NoError(t, err)

		sources := &WaitSources{Clients: []*Client{client}}
		require.NoError(t, clientWS.Wait(sources, 5*time.Second))
		require.Same(t, client, sources.Clients[0])

		reply, id, taken, err := client.TakeResponse()
		require.NoError(t, err)
		require.True(t, taken)
		assert.JSONEq(t, `"pong"`, string(reply))
		assert.Equal(t, seq, id.Sequence)
	})

	t.Run("service availability follows discovery", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		client, err := NewClient(eng, "echo")
		require.NoError(t, err)

		available, err := client.IsServiceAvailable()
		require.NoError(t, err)
		assert.False(t, available)

		svc, err := NewService(eng, "echo")
		require.NoError(t, err)

		available, err = client.IsServiceAvailable()
		require.NoError(t, err)
		assert.True(t, available)

		require.NoError(t, svc.Close())
		available, err = client.IsServiceAvailable()
		require.NoError(t, err)
		assert.False(t, available)
	})

	t.Run("close tears both endpoints down", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()

		client, err := NewClient(eng, "echo")
		require.NoError(t, err)
		require.NoError(t, client.Close())

		_, err = client.SendRequest(nil)
		assert.Error(t, err)
	})
}

// unfilteredEngine simulates an engine without server-side content
// filtering so the client's take-side fallback can be exercised.
type unfilteredEngine struct {
	engine.Engine
}

func (e unfilteredEngine) CreateReader(topic string, filter *engine.ContentFilter) (engine.Reader, error) {
	if filter != nil {
		return nil, contracts.ErrUnsupported
	}
	return e.Engine.CreateReader(topic, nil)
}

func TestClientFilterFallback(t *testing.T) {
	t.Run("falls back to unfiltered replies and matches on take", func(t *testing.T) {
		eng := memengine.New()
		defer eng.Close()
		wrapped := unfilteredEngine{Engine: eng}

		svc, err := NewService(wrapped, "echo")
		require.NoError(t, err)
		first, err := NewClient(wrapped, "echo")
		require.NoError(t, err)
		assert.False(t, first.filtered)
		second, err := NewClient(wrapped, "echo")
		require.NoError(t, err)

		// Reply to second; first must skip the foreign reply and report
		// nothing taken even though it received the raw envelope.
		_, err = second.SendRequest(json.RawMessage(`"hi"`))
		require.NoError(t, err)
		_, id, taken, err := svc.TakeRequest()
		require.NoError(t, err)
		require.True(t, taken)
		require.NoError(t, svc.SendResponse(id, json.RawMessage(`"for-second"`)))

		_, _, taken, err = first.TakeResponse()
		require.NoError(t, err)
		assert.False(t, taken)

		reply, replyID, taken, err := second.TakeResponse()
		require.NoError(t, err)
		require.True(t, taken)
		assert.JSONEq(t, `"for-second"`, string(reply))
		assert.True(t, replyID.Equal(id))
	})
}
