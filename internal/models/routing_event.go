package models

import "time"

// RoutingEventType names a state change published for dashboards.
type RoutingEventType string

const (
	EventSessionStarted  RoutingEventType = "session_started"
	EventSessionEnded    RoutingEventType = "session_ended"
	EventUserQueued      RoutingEventType = "user_queued"
	EventOperatorPaused  RoutingEventType = "operator_paused"
	EventOperatorResumed RoutingEventType = "operator_resumed"
)

// RoutingEvent is published on Redis pub/sub and streamed over websocket. It is not persisted.
type RoutingEvent struct {
	ID             string           `json:"id"`
	Type           RoutingEventType `json:"type"`
	OperatorChatID string           `json:"operator_chat_id,omitempty"`
	UserChatID     string           `json:"user_chat_id,omitempty"`
	Language       string           `json:"language,omitempty"`
	Position       int              `json:"position,omitempty"`
	At             time.Time        `json:"at"`
}
