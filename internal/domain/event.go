package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventSessionStarted    EventType = "session.started"
	EventSessionBlocked    EventType = "session.blocked"
	EventSessionCompleted  EventType = "session.completed"
	EventSessionTerminated EventType = "session.terminated"
	EventSessionPurged     EventType = "session.purged"

	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
)

// Event is a single event published on the bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus decouples session lifecycle notifications from their consumers
// (audit sink, logging).
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	Close()
}
