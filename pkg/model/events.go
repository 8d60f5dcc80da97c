package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted on the session stream.
const (
	EventSessionCreated = "session.created"
	EventSessionEnded   = "session.ended"
	EventSessionExpired = "session.expired"
)

// Envelope is the canonical event wrapper published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope stamps a fresh envelope for the given event type.
func NewEnvelope(topic, eventType string) *Envelope {
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
	}
}
