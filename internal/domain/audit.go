package domain

import (
	"time"
)

type AuditLog struct {
	ID        string                 `json:"id"`
	ActorID   string                 `json:"actor_id"`
	EventType string                 `json:"event_type"`
	SubjectID string                 `json:"subject_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

const (
	EventTypeMessageDeleted = "MESSAGE_DELETED"
	EventTypeContactAdded   = "CONTACT_ADDED"
	EventTypeContactRemoved = "CONTACT_REMOVED"
	EventTypeUserRegistered = "USER_REGISTERED"
	EventTypeCallStarted    = "CALL_STARTED"
	EventTypeCallEnded      = "CALL_ENDED"
)
