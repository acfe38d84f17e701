package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Payload keys set by the transition executor
const (
	PayloadFromState   = "from_state"
	PayloadToState     = "to_state"
	PayloadTriggeredBy = "triggered_by"
	PayloadOutcome     = "outcome"
	PayloadSequence    = "sequence"
	PayloadEntityType  = "entity_type"
	PayloadEntityID    = "entity_id"
)

type correlationKey struct{}

// ContextWithCorrelation tags ctx so events emitted under it share id
func ContextWithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFrom returns the id set by ContextWithCorrelation, or ""
func CorrelationFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InstanceID    string                 `json:"instance_id"`
	DefinitionID  string                 `json:"definition_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, instanceID, definitionID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, instanceID, definitionID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, instanceID, definitionID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		InstanceID:    instanceID,
		DefinitionID:  definitionID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// Follow creates an event of another type sharing this event's correlation
func (e *Event) Follow(eventType Type, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, e.InstanceID, e.DefinitionID, payload, e.CorrelationID)
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
