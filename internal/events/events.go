package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventActionEnqueued      = "action_enqueued"
	EventSyncSummary         = "sync_summary"
	EventConnectivityChanged = "connectivity_changed"
	EventQueueCleared        = "queue_cleared"
)

// SyncSummaryPayload is published once per pass that delivered or failed something.
type SyncSummaryPayload struct {
	Synced int       `json:"synced"`
	Failed int       `json:"failed"`
	At     time.Time `json:"at"`
}

// ConnectivityPayload is published on every online/offline transition.
type ConnectivityPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// ActionPayload describes a newly queued action without its body.
type ActionPayload struct {
	ActionID string    `json:"action_id"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	At       time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
