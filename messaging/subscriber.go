package messaging

import (
	"fmt"
	"log/slog"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// Subscriber wraps an engine reader together with its status condition.
type Subscriber struct {
	topic  string
	reader engine.Reader
	cond   *SubscriberStatusCondition
	logger *slog.Logger
}

// SubscriberConfig holds subscriber construction parameters.
type SubscriberConfig struct {
	Filter *engine.ContentFilter
	Logger *slog.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*SubscriberConfig)

// WithContentFilter restricts delivery to envelopes matching the filter.
func WithContentFilter(filter *engine.ContentFilter) SubscriberOption {
	return func(cfg *SubscriberConfig) {
		cfg.Filter = filter
	}
}

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(cfg *SubscriberConfig) {
		cfg.Logger = logger
	}
}

// NewSubscriber creates a subscription on the named topic.
func NewSubscriber(eng engine.Engine, topic string, options ...SubscriberOption) (*Subscriber, error) {
	cfg := &SubscriberConfig{
		Logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	reader, err := eng.CreateReader(topic, cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader on %q: %w", topic, err)
	}

	return &Subscriber{
		topic:  topic,
		reader: reader,
		cond:   newSubscriberStatusCondition(reader),
		logger: cfg.Logger,
	}, nil
}

// Topic returns the subscribed topic name.
func (s *Subscriber) Topic() string {
	return s.topic
}

// Condition returns the subscriber's status condition.
func (s *Subscriber) Condition() *SubscriberStatusCondition {
	return s.cond
}

// HasData reports whether the reader holds buffered or loanable data.
func (s *Subscriber) HasData() bool {
	return s.reader.HasData()
}

// TakeMessage removes and returns the oldest buffered envelope. The second
// return is false when nothing was buffered.
func (s *Subscriber) TakeMessage() (*contracts.Envelope, bool, error) {
	return s.reader.Take()
}

// MatchedPublications returns the number of matched writers.
func (s *Subscriber) MatchedPublications() (int, error) {
	return s.reader.MatchedPublications()
}

// Close destroys the subscription, detaching its condition from any
// waitset first.
func (s *Subscriber) Close() error {
	if err := s.cond.invalidate(); err != nil {
		return fmt.Errorf("failed to invalidate subscriber condition: %w", err)
	}
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader on %q: %w", s.topic, err)
	}
	return nil
}
