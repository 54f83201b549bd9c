package hub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"dexwatch/internal/model"
)

// DefaultQueueSize is the per-subscriber buffer used when Subscribe is called
// with a non-positive size.
const DefaultQueueSize = 256

// Subscription is one subscriber's view of the event stream: a lazy,
// non-restartable sequence delivered in insertion order. When the queue
// overflows, the oldest undelivered events are dropped and Missed reports
// true; a subscriber needing completeness reconciles through the event store.
type Subscription struct {
	id     uint64
	ch     chan model.Event
	missed atomic.Bool
}

// Events returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Missed reports whether any events were dropped for this subscriber.
func (s *Subscription) Missed() bool {
	return s.missed.Load()
}

// Hub broadcasts persisted events to subscribers with independent bounded
// queues. Delivery is best-effort: a slow subscriber loses its oldest
// messages instead of blocking ingestion or its peers.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with its own queue.
func (h *Hub) Subscribe(queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id: h.nextID,
		ch: make(chan model.Event, queueSize),
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Publish fans a persisted batch out to every subscriber without blocking.
// Per-subscriber order matches insertion order; nothing is guaranteed across
// subscribers.
func (h *Hub) Publish(events []model.Event) {
	if len(events) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		for _, event := range events {
			h.offer(sub, event)
		}
	}
}

// offer enqueues one event, evicting the oldest queued event when full.
func (h *Hub) offer(sub *Subscription, event model.Event) {
	for {
		select {
		case sub.ch <- event:
			return
		default:
		}

		select {
		case <-sub.ch:
			if !sub.missed.Swap(true) {
				h.logger.Warn("slow subscriber, dropping oldest events", zap.Uint64("subscriber", sub.id))
			}
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
