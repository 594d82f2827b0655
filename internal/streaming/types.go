package streaming

import "time"

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeProgress  EventType = "progress"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data interface{}) SSEEvent {
	return SSEEvent{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// ErrorEvent represents an error during an import run
type ErrorEvent struct {
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}
