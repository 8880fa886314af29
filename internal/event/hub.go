package event

import (
	"log/slog"
	"sync"
)

// Event types emitted by the archive pipeline.
const (
	TypeMessageCreated   = "message-created"
	TypeMessageConfirmed = "message-confirmed"
	TypeArchiveUpdated   = "archive-updated"
)

// Event is one notification pushed to console clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind its buffer loses events, which is acceptable for a live
// console feed where the client re-reads state over HTTP anyway.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger: log.With(slog.String("service", "event")),
		subs:   map[int]chan Event{},
	}
}

// Subscribe registers a buffered receiver. The returned cancel func must be
// called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, 64)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber with buffer room.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub <- ev:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				slog.Int("subscriber", id), slog.String("type", ev.Type))
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
