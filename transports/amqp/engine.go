package amqp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/notify"
	"github.com/meshwire/meshwire-go/internal/reliability"
)

// exchangePrefix namespaces every exchange the engine declares.
const exchangePrefix = "meshwire."

// unfilteredKey matches every routing key on a topic exchange.
const unfilteredKey = "#"

// Engine implements engine.Engine over an AMQP 0-9-1 broker. Writers
// share one publishing channel; every reader consumes on its own.
type Engine struct {
	conn   *amqp.Connection
	logger *slog.Logger
	retry  reliability.Policy

	mu        sync.Mutex
	pubCh     *amqp.Channel
	exchanges map[string]struct{}
	readers   map[*reader]struct{}
	closed    bool
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRetryPolicy sets the retry policy applied to publishes.
func WithRetryPolicy(policy reliability.Policy) Option {
	return func(e *Engine) {
		e.retry = policy
	}
}

// Connect dials the broker and prepares the shared publishing channel.
func Connect(url string, options ...Option) (*Engine, error) {
	e := &Engine{
		logger:    slog.Default(),
		retry:     reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 5),
		exchanges: make(map[string]struct{}),
		readers:   make(map[*reader]struct{}),
	}
	for _, opt := range options {
		opt(e)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publishing channel: %w", err)
	}
	e.conn = conn
	e.pubCh = pubCh
	e.logger.Info("connected to broker")
	return e, nil
}

// exchangeName returns the exchange backing a topic.
func exchangeName(topic string) string {
	return exchangePrefix + topic
}

// declareExchange is idempotent per engine; the broker makes it
// idempotent across processes.
func (e *Engine) declareExchange(topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return contracts.ErrClosed
	}
	name := exchangeName(topic)
	if _, ok := e.exchanges[name]; ok {
		return nil
	}
	err := e.pubCh.ExchangeDeclare(name, "topic", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	e.exchanges[name] = struct{}{}
	return nil
}

// publish sends one message on the shared channel.
func (e *Engine) publish(exchange, key string, body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return reliability.RetryableError{Err: contracts.ErrClosed, Retryable: false}
	}
	return e.pubCh.Publish(exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// CreateReader implements engine.Engine. Filters are supported on the
// origin header field only; the filter value becomes the queue binding
// key so the broker drops foreign traffic before it reaches us.
func (e *Engine) CreateReader(topicName string, filter *engine.ContentFilter) (engine.Reader, error) {
	if topicName == "" {
		return nil, fmt.Errorf("empty topic name: %w", contracts.ErrInvalidArgument)
	}
	if filter != nil && filter.Field != contracts.FieldOrigin {
		return nil, fmt.Errorf("content filter on field %q: %w", filter.Field, contracts.ErrUnsupported)
	}
	if err := e.declareExchange(topicName); err != nil {
		return nil, err
	}

	ch, err := e.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	key := unfilteredKey
	if filter != nil {
		key = filter.Value
	}
	if err := ch.QueueBind(q.Name, key, exchangeName(topicName), false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to start consumer on %s: %w", q.Name, err)
	}

	r := newReader(e, topicName, ch)
	go r.run(deliveries)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		r.Close()
		return nil, contracts.ErrClosed
	}
	e.readers[r] = struct{}{}
	e.mu.Unlock()

	e.logger.Debug("reader created", "topic", topicName, "queue", q.Name, "key", key)
	return r, nil
}

// CreateWriter implements engine.Engine.
func (e *Engine) CreateWriter(topicName string) (engine.Writer, error) {
	if topicName == "" {
		return nil, fmt.Errorf("empty topic name: %w", contracts.ErrInvalidArgument)
	}
	if err := e.declareExchange(topicName); err != nil {
		return nil, err
	}
	w := newWriter(e, topicName)
	e.logger.Debug("writer created", "topic", topicName, "gid", w.guid)
	return w, nil
}

// CreateGuard implements engine.Engine.
func (e *Engine) CreateGuard() (engine.GuardCondition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, contracts.ErrClosed
	}
	return notify.NewGuard(), nil
}

// ReleaseGuard implements engine.Engine.
func (e *Engine) ReleaseGuard(g engine.GuardCondition) error {
	if _, ok := g.(*notify.Guard); !ok {
		return fmt.Errorf("foreign guard condition: %w", contracts.ErrInvalidArgument)
	}
	return nil
}

// CreateWaitSet implements engine.Engine.
func (e *Engine) CreateWaitSet() (engine.WaitSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, contracts.ErrClosed
	}
	return notify.NewWaitSet(), nil
}

// Close implements engine.Engine. Consumers are shut down before the
// connection so in-flight deliveries drain cleanly.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	readers := make([]*reader, 0, len(e.readers))
	for r := range e.readers {
		readers = append(readers, r)
	}
	e.readers = make(map[*reader]struct{})
	e.mu.Unlock()

	for _, r := range readers {
		_ = r.Close()
	}
	_ = e.pubCh.Close()
	return e.conn.Close()
}

// dropReader forgets a reader closed by its owner.
func (e *Engine) dropReader(r *reader) {
	e.mu.Lock()
	delete(e.readers, r)
	e.mu.Unlock()
}
