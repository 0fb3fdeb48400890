package messaging

import (
	"fmt"
	"log/slog"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// Publisher wraps an engine writer together with its status condition.
type Publisher struct {
	topic  string
	writer engine.Writer
	cond   *PublisherStatusCondition
	logger *slog.Logger
}

// PublisherConfig holds publisher construction parameters.
type PublisherConfig struct {
	Logger *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*PublisherConfig)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.Logger = logger
	}
}

// NewPublisher creates a publication on the named topic.
func NewPublisher(eng engine.Engine, topic string, options ...PublisherOption) (*Publisher, error) {
	cfg := &PublisherConfig{
		Logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	writer, err := eng.CreateWriter(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create writer on %q: %w", topic, err)
	}

	return &Publisher{
		topic:  topic,
		writer: writer,
		cond:   newPublisherStatusCondition(writer),
		logger: cfg.Logger,
	}, nil
}

// Topic returns the published topic name.
func (p *Publisher) Topic() string {
	return p.topic
}

// GUID returns the writer's globally unique identity.
func (p *Publisher) GUID() contracts.GUID {
	return p.writer.GUID()
}

// Condition returns the publisher's status condition.
func (p *Publisher) Condition() *PublisherStatusCondition {
	return p.cond
}

// Write publishes one envelope.
func (p *Publisher) Write(env *contracts.Envelope) error {
	if env == nil {
		return fmt.Errorf("nil envelope: %w", contracts.ErrInvalidArgument)
	}
	return p.writer.Write(env)
}

// MatchedSubscriptions returns the number of matched readers.
func (p *Publisher) MatchedSubscriptions() (int, error) {
	return p.writer.MatchedSubscriptions()
}

// Close destroys the publication, detaching its condition from any waitset
// first.
func (p *Publisher) Close() error {
	if err := p.cond.invalidate(); err != nil {
		return fmt.Errorf("failed to invalidate publisher condition: %w", err)
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer on %q: %w", p.topic, err)
	}
	return nil
}
