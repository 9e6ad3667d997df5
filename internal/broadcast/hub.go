// Package broadcast fans hook activity out to live observers such as the
// dashboard websocket. Delivery is fire-and-forget: there is no replay, and a
// subscriber that falls behind loses messages instead of blocking publishers.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/clnode/internal/metrics"
)

// DefaultBuffer is the per-subscriber queue length used by the websocket endpoint.
const DefaultBuffer = 64

// Message is one live notification.
type Message struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode returns the wire form {"event","data","timestamp"}.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Hub is an in-process publish/subscribe fan-out.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Message
	nextID  uint64
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[uint64]chan Message),
		logger:  logger.With().Str("component", "broadcast").Logger(),
		metrics: m,
	}
}

// Subscribe registers a subscriber with the given queue length. The returned
// cancel func unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Message, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			n := len(h.subs)
			h.mu.Unlock()
			h.metrics.SetSubscribers(n)
		})
	}
	return ch, cancel
}

// Publish delivers a message to every current subscriber without blocking.
func (h *Hub) Publish(event string, data any) {
	msg := Message{Event: event, Data: data, Timestamp: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.metrics.RecordDropped()
			h.logger.Debug().Uint64("subscriber", id).Str("event", event).Msg("subscriber slow, message dropped")
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
