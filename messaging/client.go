package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// Client is the requester half of a request/reply pair: one publisher on
// the service's request topic and one subscriber on its reply topic. The
// reply subscription carries a content filter so the client only receives
// replies whose related origin equals its own request-publisher identity,
// which is what lets many clients share one service topic pair.
type Client struct {
	service    string
	requestPub *Publisher
	replySub   *Subscriber
	filtered   bool
	nextSeq    atomic.Int64
	logger     *slog.Logger
}

// ClientConfig holds client construction parameters.
type ClientConfig struct {
	Logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*ClientConfig)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Logger = logger
	}
}

// NewClient creates the requester endpoints for the named service. If one
// endpoint fails to construct, the other is torn down before the error is
// reported, so a failed create never leaves a half-open entity visible to
// the engine's discovery.
func NewClient(eng engine.Engine, service string, options ...ClientOption) (*Client, error) {
	if service == "" {
		return nil, fmt.Errorf("empty service name: %w", contracts.ErrInvalidArgument)
	}
	cfg := &ClientConfig{
		Logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	requestPub, err := NewPublisher(eng, RequestTopic(service), WithPublisherLogger(cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create client requester: %w", err)
	}

	gid := requestPub.GUID()
	replyTopic := ReplyTopic(service)
	filter := &engine.ContentFilter{
		Name:  replyFilterName(replyTopic, gid),
		Field: contracts.FieldOrigin,
		Value: gid.Hex(),
	}

	filtered := true
	replySub, err := NewSubscriber(eng, replyTopic,
		WithContentFilter(filter),
		WithSubscriberLogger(cfg.Logger),
	)
	if errors.Is(err, contracts.ErrUnsupported) {
		// Engine cannot filter replies server-side; fall back to an
		// unfiltered subscription and rely on the take-side origin match.
		cfg.Logger.Warn("content filters unsupported, delivering unfiltered replies",
			"service", service)
		filtered = false
		replySub, err = NewSubscriber(eng, replyTopic, WithSubscriberLogger(cfg.Logger))
	}
	if err != nil {
		if cerr := requestPub.Close(); cerr != nil {
			cfg.Logger.Error("failed to tear down client requester", "error", cerr)
		}
		return nil, fmt.Errorf("failed to create client replier: %w", err)
	}

	return &Client{
		service:    service,
		requestPub: requestPub,
		replySub:   replySub,
		filtered:   filtered,
		logger:     cfg.Logger,
	}, nil
}

// Service returns the service name.
func (c *Client) Service() string {
	return c.service
}

// Publisher returns the request publisher.
func (c *Client) Publisher() *Publisher {
	return c.requestPub
}

// Subscriber returns the reply subscriber; its condition is what a waitset
// blocks on for this client.
func (c *Client) Subscriber() *Subscriber {
	return c.replySub
}

// SendRequest stamps the payload with the client's identity and the next
// sequence number, publishes it on the request topic, and returns the
// sequence number as the request's correlation handle.
func (c *Client) SendRequest(payload json.RawMessage) (int64, error) {
	seq := c.nextSeq.Add(1)
	env := &contracts.Envelope{
		Request:  true,
		Origin:   c.requestPub.GUID(),
		Sequence: seq,
		Payload:  payload,
	}

	c.logger.Debug("send request", "service", c.service, "gid", env.Origin, "sn", seq)

	if err := c.requestPub.Write(env); err != nil {
		return 0, fmt.Errorf("failed to write request: %w", err)
	}
	return seq, nil
}

// TakeResponse removes one buffered reply and returns its payload together
// with the correlation handle the caller must match against an outstanding
// request. The third return is false when no reply was buffered. Replies
// addressed to other clients are discarded; they only show up when the
// engine could not filter server-side.
func (c *Client) TakeResponse() (json.RawMessage, contracts.RequestID, bool, error) {
	own := c.requestPub.GUID()
	for {
		env, taken, err := c.replySub.TakeMessage()
		if err != nil {
			return nil, contracts.RequestID{}, false, fmt.Errorf("failed to take reply: %w", err)
		}
		if !taken {
			return nil, contracts.RequestID{}, false, nil
		}
		if env.Origin != own {
			c.logger.Debug("discarding reply for another client",
				"service", c.service, "gid", env.Origin, "sn", env.Sequence)
			continue
		}

		c.logger.Debug("taken response", "service", c.service, "gid", env.Origin, "sn", env.Sequence)
		return env.Payload, env.ID(), true, nil
	}
}

// IsServiceAvailable reports whether at least one service has been matched
// on both the request-publish and reply-subscribe sides.
func (c *Client) IsServiceAvailable() (bool, error) {
	subs, err := c.requestPub.MatchedSubscriptions()
	if err != nil {
		return false, fmt.Errorf("failed to count matched subscriptions: %w", err)
	}
	pubs, err := c.replySub.MatchedPublications()
	if err != nil {
		return false, fmt.Errorf("failed to count matched publications: %w", err)
	}
	return subs > 0 && pubs > 0, nil
}

// Close destroys both endpoints in reverse order of creation.
func (c *Client) Close() error {
	if err := c.replySub.Close(); err != nil {
		return fmt.Errorf("failed to close client replier: %w", err)
	}
	if err := c.requestPub.Close(); err != nil {
		return fmt.Errorf("failed to close client requester: %w", err)
	}
	return nil
}
