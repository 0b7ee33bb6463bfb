package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"nodevideo/internal/metrics"
)

const dropLogEvery = 100

// Hub fans events out to every connected subscriber. There is no backlog:
// a subscriber only sees events published while it is registered.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
	log     zerolog.Logger
}

func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		log:    log.With().Str("component", "broadcast").Logger(),
	}
}

// Subscribe registers a new observer. Callers must Close the subscription
// when they disconnect.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:  h.nextID,
		hub: h,
		ch:  make(chan Event, h.buffer),
	}
	h.subs[sub.id] = sub
	metrics.BroadcastSubscribers.Inc()
	return sub
}

func (h *Hub) Publish(_ context.Context, event Event) {
	metrics.BroadcastPublishedTotal.Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			metrics.BroadcastDroppedTotal.Inc()
			if n := h.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
				h.log.Warn().
					Uint64("subscriber", sub.id).
					Str("video_id", event.VideoID).
					Uint64("dropped", n).
					Msg("subscriber too slow, progress event dropped")
			}
		}
	}
}

// Subscribers returns the number of registered observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of deliveries skipped because a subscriber
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	metrics.BroadcastSubscribers.Dec()
}

type Subscription struct {
	id   uint64
	hub  *Hub
	ch   chan Event
	once sync.Once
}

// C yields events until the subscription is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

var _ Publisher = (*Hub)(nil)
