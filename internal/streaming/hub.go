package streaming

import "context"

// ProgressEvent reports a pipeline transition for one generation session.
type ProgressEvent struct {
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Status    string         `json:"status,omitempty"`
	Chapter   int            `json:"chapter,omitempty"`
	Total     int            `json:"total,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventFilter selects which progress events a subscriber receives.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Hub is pub/sub for progress events.
type Hub interface {
	Publish(ctx context.Context, event ProgressEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan ProgressEvent, func(), error)
}
