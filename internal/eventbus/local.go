package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yndnr/syncroom-go/internal/telemetry/metric"
)

// DefaultBufferSize is the per-subscription queue length.
const DefaultBufferSize = 256

// LocalConfig configures an in-process bus.
type LocalConfig struct {
	// Node tags published events with their origin.
	Node       string
	BufferSize int
	Logger     *slog.Logger
	Metrics    *metric.Registry
}

// Local is an in-process bus. Each subscription owns a buffered queue;
// when it is full the event is dropped for that subscriber only.
type Local struct {
	node    string
	bufSize int
	logger  *slog.Logger
	metrics *metric.Registry

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

// Subscription receives events for one topic.
type Subscription struct {
	topic string
	ch    chan Event
	bus   *Local
	once  sync.Once
}

// C returns the delivery channel. It is closed on Unsubscribe or bus Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe stops delivery and closes the channel. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// NewLocal creates an in-process bus.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Local{
		node:    cfg.Node,
		bufSize: cfg.BufferSize,
		logger:  cfg.Logger.With("component", "eventbus"),
		metrics: cfg.Metrics,
		topics:  make(map[string]map[*Subscription]struct{}),
	}
}

// Node returns the origin tag applied to published events.
func (b *Local) Node() string { return b.node }

// Publish implements Bus.
func (b *Local) Publish(_ context.Context, topic, eventType string, payload any) error {
	ev, err := newEvent(b.node, topic, eventType, payload)
	if err != nil {
		return err
	}
	return b.Deliver(ev)
}

// Deliver fans an already-built event out to local subscribers.
func (b *Local) Deliver(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	b.metrics.EventPublished()

	for sub := range b.topics[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			b.metrics.EventDropped()
			b.logger.Warn("subscriber queue full, dropping event",
				"topic", ev.Topic, "type", ev.Type)
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *Local) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{topic: topic, ch: make(chan Event, b.bufSize), bus: b}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Local) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Local) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// Close implements Bus. All subscription channels are closed.
func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	b.topics = nil
	return nil
}
