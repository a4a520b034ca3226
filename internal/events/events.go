package events

import (
	"encoding/json"
	"sync"
	"time"

	"rentsync/internal/models"
)

const (
	EventOperationApplied = "operation_applied"
	EventOperationFailed  = "operation_failed"
	EventOperationDropped = "operation_dropped"
	EventConflictDetected = "conflict_detected"
)

// OperationEventPayload describes the operation an event refers to.
type OperationEventPayload struct {
	OperationID string               `json:"operation_id"`
	EntityKind  models.EntityKind    `json:"entity_kind"`
	Kind        models.OperationKind `json:"kind"`
	EntityID    string               `json:"entity_id,omitempty"`
	RetryCount  int                  `json:"retry_count"`
	Error       string               `json:"error,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// ConflictEventPayload records a remote version newer than the local write.
type ConflictEventPayload struct {
	OperationID   string            `json:"operation_id"`
	EntityKind    models.EntityKind `json:"entity_kind"`
	EntityID      string            `json:"entity_id"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	RemoteVersion time.Time         `json:"remote_version"`
	Decision      string            `json:"decision"`
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
	mu     sync.RWMutex
	topics map[string]*Fanout[*Event]
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{topics: make(map[string]*Fanout[*Event])}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	topic, ok := b.topics[eventType]
	if !ok {
		topic = NewFanout[*Event](nil)
		b.topics[eventType] = topic
	}
	b.mu.Unlock()

	return topic.Subscribe(func(event *Event) {
		_ = handler(event)
	})
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	topic := b.topics[event.Type]
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if topic == nil {
		return
	}

	// Handlers run synchronously; caller decides concurrency model.
	topic.Publish(event)
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
