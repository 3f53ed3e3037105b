package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Push channel event types.
const (
	EventEntityUpdate      = "entity:update"
	EventEntityDelete      = "entity:delete"
	EventVehicleUpdate     = "vehicle:update"
	EventVehicleDelete     = "vehicle:delete"
	EventPriceUpdate       = "price:update"
	EventBidNew            = "bid:new"
	EventInspectionUpdate  = "inspection:update"
	EventTranslationUpdate = "translation:update"
	EventNotification      = "notification"
	EventPing              = "ping"
	EventPong              = "pong"
)

// ErrMissingType is returned when a frame has no "type" field.
var ErrMissingType = errors.New("envelope missing type")

// Envelope is the push channel message, used in both directions.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// envelopeWire defers timestamp parsing so a bad timestamp doesn't
// discard an otherwise usable frame.
type envelopeWire struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"userId"`
}

// ParseEnvelope decodes a raw frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if wire.Type == "" {
		return Envelope{}, ErrMissingType
	}

	env := Envelope{
		ID:      wire.ID,
		Type:    wire.Type,
		Payload: wire.Payload,
		UserID:  wire.UserID,
	}
	if wire.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp); err == nil {
			env.Timestamp = ts
		}
	}
	return env, nil
}

// NewEnvelope builds an outbound envelope with payload encoded as JSON.
// A nil payload produces an envelope without a payload field.
func NewEnvelope(eventType string, payload any, now time.Time) (Envelope, error) {
	env := Envelope{Type: eventType, Timestamp: now.UTC()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env.Payload = raw
	return env, nil
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// EntityPayload is the payload of the generic entity:update / entity:delete events.
type EntityPayload struct {
	EntityType EntityType      `json:"entityType"`
	ID         ID              `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// DeletePayload is the payload of "<type>:delete" events.
type DeletePayload struct {
	ID ID `json:"id"`
}
