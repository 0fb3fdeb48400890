package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
)

// Service is the replier half of a request/reply pair: one subscriber on
// the service's request topic and one publisher on its reply topic.
// Services see every request, so the request subscription carries no
// filter; routing a reply back to the right client happens through the
// related origin stamped into the reply envelope.
type Service struct {
	service    string
	replyPub   *Publisher
	requestSub *Subscriber
	logger     *slog.Logger
}

// ServiceConfig holds service construction parameters.
type ServiceConfig struct {
	Logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*ServiceConfig)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(cfg *ServiceConfig) {
		cfg.Logger = logger
	}
}

// NewService creates the replier endpoints for the named service, tearing
// down the first endpoint if the second fails to construct.
func NewService(eng engine.Engine, service string, options ...ServiceOption) (*Service, error) {
	if service == "" {
		return nil, fmt.Errorf("empty service name: %w", contracts.ErrInvalidArgument)
	}
	cfg := &ServiceConfig{
		Logger: slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	replyPub, err := NewPublisher(eng, ReplyTopic(service), WithPublisherLogger(cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create service replier: %w", err)
	}

	requestSub, err := NewSubscriber(eng, RequestTopic(service), WithSubscriberLogger(cfg.Logger))
	if err != nil {
		if cerr := replyPub.Close(); cerr != nil {
			cfg.Logger.Error("failed to tear down service replier", "error", cerr)
		}
		return nil, fmt.Errorf("failed to create service requester: %w", err)
	}

	return &Service{
		service:    service,
		replyPub:   replyPub,
		requestSub: requestSub,
		logger:     cfg.Logger,
	}, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.service
}

// Publisher returns the reply publisher.
func (s *Service) Publisher() *Publisher {
	return s.replyPub
}

// Subscriber returns the request subscriber; its condition is what a
// waitset blocks on for this service.
func (s *Service) Subscriber() *Subscriber {
	return s.requestSub
}

// TakeRequest removes one buffered request and returns its payload and
// correlation handle. The third return is false when nothing was buffered.
// The service keeps no state between request and response; the caller
// threads the handle through to SendResponse.
func (s *Service) TakeRequest() (json.RawMessage, contracts.RequestID, bool, error) {
	env, taken, err := s.requestSub.TakeMessage()
	if err != nil {
		return nil, contracts.RequestID{}, false, fmt.Errorf("failed to take request: %w", err)
	}
	if !taken {
		return nil, contracts.RequestID{}, false, nil
	}

	s.logger.Debug("taken request", "service", s.service, "gid", env.Origin, "sn", env.Sequence)
	return env.Payload, env.ID(), true, nil
}

// SendResponse publishes a reply whose related fields are stamped from the
// original request's correlation handle, so the client's reply filter
// routes it back to the requester.
func (s *Service) SendResponse(id contracts.RequestID, payload json.RawMessage) error {
	env := &contracts.Envelope{
		Request:  false,
		Origin:   id.Origin,
		Sequence: id.Sequence,
		Payload:  payload,
	}

	s.logger.Debug("send response", "service", s.service, "gid", env.Origin, "sn", env.Sequence)

	if err := s.replyPub.Write(env); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// Close destroys both endpoints in reverse order of creation.
func (s *Service) Close() error {
	if err := s.requestSub.Close(); err != nil {
		return fmt.Errorf("failed to close service requester: %w", err)
	}
	if err := s.replyPub.Close(); err != nil {
		return fmt.Errorf("failed to close service replier: %w", err)
	}
	return nil
}
