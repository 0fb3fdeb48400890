// Package meshwire is a wait-driven messaging middleware: publishers and
// subscribers exchange correlated envelopes over a pluggable pub/sub
// engine, and waitsets coordinate blocking on data, guard triggers, and
// endpoint status events.
package meshwire

import (
	"fmt"
	"log/slog"

	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/memengine"
	"github.com/meshwire/meshwire-go/messaging"
	amqptransport "github.com/meshwire/meshwire-go/transports/amqp"
)

// Client is the main entry point. It owns one pub/sub engine and hands
// out the messaging primitives bound to it.
type Client struct {
	eng    engine.Engine
	logger *slog.Logger
}

type clientConfig struct {
	logger    *slog.Logger
	eng       engine.Engine
	brokerURL string
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger passed down to every component.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithEngine runs the client on a caller-supplied engine. Close still
// closes it.
func WithEngine(eng engine.Engine) ClientOption {
	return func(cfg *clientConfig) {
		cfg.eng = eng
	}
}

// WithBroker runs the client over an AMQP broker instead of the
// in-process engine.
func WithBroker(url string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.brokerURL = url
	}
}

// NewClient creates a client. Without options it runs fully in process,
// which is enough for single-binary deployments and tests.
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	eng := cfg.eng
	switch {
	case eng != nil:
	case cfg.brokerURL != "":
		var err error
		eng, err = amqptransport.Connect(cfg.brokerURL,
			amqptransport.WithLogger(cfg.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect engine: %w", err)
		}
	default:
		eng = memengine.New(memengine.WithLogger(cfg.logger))
	}

	return &Client{eng: eng, logger: cfg.logger}, nil
}

// Engine returns the underlying engine.
func (c *Client) Engine() engine.Engine {
	return c.eng
}

// NewPublisher creates a publisher on a topic.
func (c *Client) NewPublisher(topic string, options ...messaging.PublisherOption) (*messaging.Publisher, error) {
	options = append([]messaging.PublisherOption{messaging.WithPublisherLogger(c.logger)}, options...)
	return messaging.NewPublisher(c.eng, topic, options...)
}

// NewSubscriber creates a subscriber on a topic.
func (c *Client) NewSubscriber(topic string, options ...messaging.SubscriberOption) (*messaging.Subscriber, error) {
	options = append([]messaging.SubscriberOption{messaging.WithSubscriberLogger(c.logger)}, options...)
	return messaging.NewSubscriber(c.eng, topic, options...)
}

// NewGuardCondition creates a manually triggered condition.
func (c *Client) NewGuardCondition(options ...messaging.GuardConditionOption) (*messaging.GuardCondition, error) {
	options = append([]messaging.GuardConditionOption{messaging.WithGuardLogger(c.logger)}, options...)
	return messaging.NewGuardCondition(c.eng, options...)
}

// NewWaitSet creates a waitset.
func (c *Client) NewWaitSet(options ...messaging.WaitSetOption) (*messaging.WaitSet, error) {
	options = append([]messaging.WaitSetOption{messaging.WithWaitSetLogger(c.logger)}, options...)
	return messaging.NewWaitSet(c.eng, options...)
}

// NewServiceClient creates the requester side of a service.
func (c *Client) NewServiceClient(service string, options ...messaging.ClientOption) (*messaging.Client, error) {
	options = append([]messaging.ClientOption{messaging.WithClientLogger(c.logger)}, options...)
	return messaging.NewClient(c.eng, service, options...)
}

// NewService creates the responder side of a service.
func (c *Client) NewService(service string, options ...messaging.ServiceOption) (*messaging.Service, error) {
	options = append([]messaging.ServiceOption{messaging.WithServiceLogger(c.logger)}, options...)
	return messaging.NewService(c.eng, service, options...)
}

// Close shuts down the engine and everything created from it.
func (c *Client) Close() error {
	return c.eng.Close()
}
