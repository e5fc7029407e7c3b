// Package bus is an in-process topic publish/subscribe hub. Delivery is
// fire-and-forget: no persistence, no replay, at most once per subscriber.
package bus

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds. A topic is a kind joined to a user id, e.g. "task-assigned-u1".
const (
	KindTaskAssigned = "task-assigned"
	KindTaskUpdated  = "task-updated"
	KindTaskComment  = "task-comment"
	KindTaskFile     = "task-file"
	KindTaskDue      = "task-due"
)

// Kinds lists every event kind the tracker publishes.
var Kinds = []string{KindTaskAssigned, KindTaskUpdated, KindTaskComment, KindTaskFile, KindTaskDue}

const defaultQueueSize = 64

// Topic builds the topic name for an event kind addressed to userID.
func Topic(kind, userID string) string {
	return kind + "-" + userID
}

// KindOf returns the event kind prefix of topic, or "" if it has none.
func KindOf(topic string) string {
	for _, k := range Kinds {
		if strings.HasPrefix(topic, k+"-") {
			return k
		}
	}
	return ""
}

// Event is a single published message.
type Event struct {
	Topic       string    `json:"topic"`
	Kind        string    `json:"kind"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}

// Handler consumes events for one subscription. Handlers run on the
// subscription's own goroutine and may block without stalling publishers.
type Handler func(Event)

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Topics      int    `json:"topics"`
}

// Bus fans published events out to the current subscribers of a topic.
type Bus struct {
	mu        sync.RWMutex
	topics    map[string]map[uint64]*Subscription
	nextID    uint64
	queueSize int
	closed    bool
	logger    *slog.Logger
	wg        sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bus whose subscriptions buffer up to queueSize events.
func New(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics:    make(map[string]map[uint64]*Subscription),
		queueSize: queueSize,
		logger:    logger.With("component", "bus"),
	}
}

// Subscription is a live registration of a handler on a topic.
type Subscription struct {
	bus     *Bus
	id      uint64
	topic   string
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	handler Handler
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.topic }

// Subscribe registers handler on topic. Only events published after
// Subscribe returns are delivered. Subscribing to a closed bus returns a
// subscription that never receives anything.
func (b *Bus) Subscribe(topic string, handler Handler) *Subscription {
	sub := &Subscription{
		bus:     b,
		topic:   topic,
		queue:   make(chan Event, b.queueSize),
		done:    make(chan struct{}),
		handler: handler,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go sub.run()
	return sub
}

func (s *Subscription) run() {
	defer s.bus.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			// Unsubscribe may race a queued event; honour it first.
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ev)
		}
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("subscriber handler panicked", "topic", s.topic, "panic", r)
		}
	}()
	s.handler(ev)
	s.bus.delivered.Add(1)
}

// Unsubscribe removes the subscription. No event is handed to the handler
// after Unsubscribe returns, except one already executing. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	b.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Publish hands payload to every current subscriber of topic without
// blocking. A subscriber whose queue is full misses the event.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{
		Topic:       topic,
		Kind:        KindOf(topic),
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, sub := range b.topics[topic] {
		select {
		case sub.queue <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber queue full, dropping event", "topic", topic, "subscription", sub.id)
		}
	}
}

// Close stops every subscription and waits for their goroutines to exit.
// Publish and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*Subscription
	for _, byID := range b.topics {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
	b.wg.Wait()
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := 0
	for _, byID := range b.topics {
		subscribers += len(byID)
	}
	topics := len(b.topics)
	b.mu.RUnlock()

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: subscribers,
		Topics:      topics,
	}
}
