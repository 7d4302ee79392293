package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConnectionState    EventType = "connection.state"
	EventSessionEstablished EventType = "session.established"
	EventAgentLevel         EventType = "agent.level"
	EventAgentDead          EventType = "agent.dead"
	EventAgentLoop          EventType = "agent.loop"

	// Launcher events.
	EventProcessStarted   EventType = "process.started"
	EventProcessCompleted EventType = "process.completed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event with a JSON payload. A payload that fails to
// marshal is published without one.
func NewEvent(eventType EventType, sessionID string, payload any) Event {
	ev := Event{Type: eventType, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// ConnectionStatePayload accompanies EventConnectionState.
type ConnectionStatePayload struct {
	State string `json:"state"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// SessionPayload accompanies EventSessionEstablished.
type SessionPayload struct {
	Team   string `json:"team"`
	Slots  int    `json:"slots"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// LevelPayload accompanies EventAgentLevel and EventAgentDead.
type LevelPayload struct {
	Level int `json:"level"`
}

// LoopPayload accompanies EventAgentLoop.
type LoopPayload struct {
	Pattern []string `json:"pattern"`
	Escape  string   `json:"escape"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
