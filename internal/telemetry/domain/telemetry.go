package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline.
const (
	EventLinkStarted        = "link.started"
	EventLinkClaimed        = "link.claimed"
	EventLinkCompleted      = "link.completed"
	EventTokenRotated       = "token.rotated"
	EventTokenReuseDetected = "token.reuse_detected"
	EventSessionIngested    = "session.ingested"
)

// Event is one telemetry record. Metadata is a JSON object and may be empty.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"event_type"`
	UserID    string          `json:"user_id,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent builds an event with a fresh id. meta is marshalled to JSON; a value
// that cannot be marshalled is dropped.
func NewEvent(eventType, source, userID, deviceID string, meta map[string]any) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		DeviceID:  deviceID,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.Metadata = b
		}
	}
	return e
}
