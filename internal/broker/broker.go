// Package broker implements the in-process message bus described by the
// runtime's data flow: topic-addressed publish/subscribe with durable
// per-topic ordering and per-subscriber backpressure.
//
// Design note on overflow policy: when a subscriber's queue is full, Publish
// blocks the caller until space frees up (or the context is cancelled). This
// is the "block" choice the spec calls out as one of two valid policies; we
// do not also drop messages, to keep the failure mode uniform and
// documented in one place.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archiflow-dev/archiflow/internal/observability"
	"github.com/archiflow-dev/archiflow/pkg/events"
)

// ErrBrokerStopped is returned by Publish once the broker has been stopped.
var ErrBrokerStopped = errors.New("broker: stopped")

// Handler is invoked once per message delivered to a subscription. A
// returned error is logged; it never stops the broker or unsubscribes the
// handler.
type Handler func(msg events.Message) error

// DefaultQueueSize is the default bound on each subscription's pending queue.
const DefaultQueueSize = 256

// Broker is an in-process, topic-ordered publish/subscribe bus.
type Broker struct {
	logger    *slog.Logger
	queueSize int
	metrics   *observability.Metrics

	mu      sync.RWMutex
	stopped bool
	topics  map[string]*topicState
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithLogger overrides the broker's diagnostic logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithQueueSize overrides the per-subscription bounded queue size.
func WithQueueSize(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithMetrics attaches a Metrics recorder; every subscriber's queue depth
// is reported under its topic name after each enqueue. Nil (the default)
// disables metrics recording entirely.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Broker) {
		b.metrics = metrics
	}
}

// New creates a Broker that already accepts Publish/Subscribe calls.
func New(opts ...Option) *Broker {
	b := &Broker{
		logger:    slog.Default(),
		queueSize: DefaultQueueSize,
		topics:    make(map[string]*topicState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start transitions the broker into an accepting state. It is safe to call
// Start on a fresh broker before any Publish/Subscribe call; brokers are
// created already running, so Start mainly exists to pair with Stop and to
// allow a broker to be restarted after Stop.
func (b *Broker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = false
}

// Stop drains in-flight dispatches, rejects new publishes, and releases all
// subscriber queues. Stop blocks until every subscription's worker has
// drained its queue and exited.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	topics := make([]*topicState, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.closeAllSubscriptions()
	}
}

// Publish assigns the next sequence number for topic, appends the message to
// the topic's durable log, and enqueues it for delivery to every current
// subscriber. It returns the assigned sequence number.
func (b *Broker) Publish(ctx context.Context, topic string, payload events.Payload) (int64, error) {
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return 0, fmt.Errorf("%w: topic %q", ErrBrokerStopped, topic)
	}

	t := b.topicFor(topic)
	msg, subs := t.append(payload)

	for _, sub := range subs {
		if err := sub.enqueue(ctx, msg); err != nil {
			b.logger.Warn("broker: failed to enqueue message for subscriber",
				"topic", topic, "subscription", sub.id, "error", err)
			continue
		}
		if b.metrics != nil {
			b.metrics.SetMessageQueueDepth(topic, len(sub.queue))
		}
	}
	return msg.Sequence, nil
}

// Subscription is a live registration returned by Subscribe.
type Subscription struct {
	id    string
	topic string
	b     *Broker
}

// Topic returns the topic this subscription is registered on.
func (s *Subscription) Topic() string { return s.topic }

// Subscribe registers handler to run, in order, for every message published
// to topic after this call. Each subscription gets its own worker goroutine,
// so handlers for different subscriptions of the same topic run
// concurrently with each other, but a single subscription always sees its
// topic's messages in sequence order.
func (b *Broker) Subscribe(topic string, handler Handler) *Subscription {
	t := b.topicFor(topic)
	sub := t.addSubscriber(b.queueSize, handler, b.logger, b.metrics)
	return &Subscription{id: sub.id, topic: topic, b: b}
}

// Unsubscribe stops new deliveries to the subscription. Messages already
// enqueued for it are still delivered before its worker exits.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.RLock()
	t := b.topics[sub.topic]
	b.mu.RUnlock()
	if t == nil {
		return
	}
	t.removeSubscriber(sub.id)
}

// Log returns a snapshot of every message published to topic so far, in
// publish order. It is read-only: mutating the returned slice does not
// affect the broker.
func (b *Broker) Log(topic string) []events.Message {
	b.mu.RLock()
	t := b.topics[topic]
	b.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.snapshot()
}

func (b *Broker) topicFor(topic string) *topicState {
	b.mu.RLock()
	t := b.topics[topic]
	b.mu.RUnlock()
	if t != nil {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok {
		return t
	}
	t = &topicState{name: topic, subs: make(map[string]*subscriber)}
	b.topics[topic] = t
	return t
}

// topicState owns one topic's durable log, sequence counter, and subscriber set.
type topicState struct {
	name string

	mu   sync.Mutex
	seq  int64
	log  []events.Message
	subs map[string]*subscriber
}

func (t *topicState) append(payload events.Payload) (events.Message, []*subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	msg := events.Message{
		Topic:     t.name,
		Sequence:  t.seq,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	t.log = append(t.log, msg)

	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	return msg, subs
}

func (t *topicState) snapshot() []events.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]events.Message, len(t.log))
	copy(out, t.log)
	return out
}

func (t *topicState) addSubscriber(queueSize int, handler Handler, logger *slog.Logger, metrics *observability.Metrics) *subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &subscriber{
		id:      fmt.Sprintf("%s#%d", t.name, len(t.subs)+1),
		topic:   t.name,
		queue:   make(chan events.Message, queueSize),
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
	t.subs[s.id] = s
	go s.run()
	return s
}

func (t *topicState) removeSubscriber(id string) {
	t.mu.Lock()
	s, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	if ok {
		s.closeQueue()
	}
}

func (t *topicState) closeAllSubscriptions() {
	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = make(map[string]*subscriber)
	t.mu.Unlock()

	for _, s := range subs {
		s.closeQueue()
		<-s.done
	}
}

// subscriber is one topic's worker: a bounded queue drained by a single
// goroutine that invokes handler serially, preserving delivery order.
type subscriber struct {
	id      string
	topic   string
	queue   chan events.Message
	done    chan struct{}
	handler Handler
	logger  *slog.Logger
	metrics *observability.Metrics

	closeOnce sync.Once
}

func (s *subscriber) enqueue(ctx context.Context, msg events.Message) error {
	select {
	case s.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscriber) closeQueue() {
	s.closeOnce.Do(func() { close(s.queue) })
}

func (s *subscriber) run() {
	defer close(s.done)
	for msg := range s.queue {
		s.dispatch(msg)
	}
}

func (s *subscriber) dispatch(msg events.Message) {
	if s.metrics != nil {
		s.metrics.RecordMessageDequeued(s.topic, time.Since(msg.Timestamp).Seconds())
		s.metrics.SetMessageQueueDepth(s.topic, len(s.queue))
	}
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("broker: subscriber handler panicked",
					"subscription", s.id, "topic", msg.Topic, "panic", r)
			}
		}
	}()
	if err := s.handler(msg); err != nil && s.logger != nil {
		s.logger.Warn("broker: subscriber handler returned error",
			"subscription", s.id, "topic", msg.Topic, "sequence", msg.Sequence, "error", err)
	}
}
