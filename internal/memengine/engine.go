package memengine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/meshwire/meshwire-go/contracts"
	"github.com/meshwire/meshwire-go/engine"
	"github.com/meshwire/meshwire-go/internal/notify"
)

// Engine implements engine.Engine fully in process.
type Engine struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
	logger *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an in-process engine.
func New(options ...Option) *Engine {
	e := &Engine{
		topics: make(map[string]*topic),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// topic fans envelopes out from its writers to its matched readers.
type topic struct {
	name    string
	mu      sync.Mutex
	readers map[*reader]struct{}
	writers map[*writer]struct{}
}

func (e *Engine) lookupTopic(name string) (*topic, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, contracts.ErrClosed
	}
	t, ok := e.topics[name]
	if !ok {
		t = &topic{
			name:    name,
			readers: make(map[*reader]struct{}),
			writers: make(map[*writer]struct{}),
		}
		e.topics[name] = t
	}
	return t, nil
}

// CreateReader implements engine.Engine. Filters are supported on the
// origin header field only; any other field is reported as unsupported.
func (e *Engine) CreateReader(topicName string, filter *engine.ContentFilter) (engine.Reader, error) {
	if topicName == "" {
		return nil, fmt.Errorf("empty topic name: %w", contracts.ErrInvalidArgument)
	}
	if filter != nil && filter.Field != contracts.FieldOrigin {
		return nil, fmt.Errorf("content filter on field %q: %w", filter.Field, contracts.ErrUnsupported)
	}
	t, err := e.lookupTopic(topicName)
	if err != nil {
		return nil, err
	}
	r := newReader(t, filter)
	t.mu.Lock()
	t.readers[r] = struct{}{}
	alive := len(t.writers)
	t.mu.Unlock()
	if alive > 0 {
		r.writersJoined(alive)
	}
	e.logger.Debug("reader created", "topic", topicName, "filtered", filter != nil)
	return r, nil
}

// CreateWriter implements engine.Engine.
func (e *Engine) CreateWriter(topicName string) (engine.Writer, error) {
	if topicName == "" {
		return nil, fmt.Errorf("empty topic name: %w", contracts.ErrInvalidArgument)
	}
	t, err := e.lookupTopic(topicName)
	if err != nil {
		return nil, err
	}
	w := newWriter(t)
	t.mu.Lock()
	t.writers[w] = struct{}{}
	readers := snapshotReaders(t)
	t.mu.Unlock()
	for _, r := range readers {
		r.writersJoined(1)
	}
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

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	topics := make([]*topic, 0, len(e.topics))
	for _, t := range e.topics {
		topics = append(topics, t)
	}
	e.topics = make(map[string]*topic)
	e.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		writers := make([]*writer, 0, len(t.writers))
		for w := range t.writers {
			writers = append(writers, w)
		}
		readers := snapshotReaders(t)
		t.mu.Unlock()
		for _, w := range writers {
			_ = w.Close()
		}
		for _, r := range readers {
			_ = r.Close()
		}
	}
	return nil
}

func snapshotReaders(t *topic) []*reader {
	readers := make([]*reader, 0, len(t.readers))
	for r := range t.readers {
		readers = append(readers, r)
	}
	return readers
}
