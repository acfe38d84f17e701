package dispatcher

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// Handler reacts to one workflow event
type Handler func(ctx context.Context, evt *event.Event) error

// Subscription binds a named handler to the events it wants.
// Empty Types matches every event type; empty DefinitionID matches every definition.
type Subscription struct {
	Name         string
	Types        []event.Type
	DefinitionID string
	Handle       Handler
}

func (s *Subscription) matches(evt *event.Event) bool {
	if s.DefinitionID != "" && s.DefinitionID != evt.DefinitionID {
		return false
	}
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == evt.Type {
			return true
		}
	}
	return false
}

// SubscriberStats reports delivery counts for one subscription
type SubscriberStats struct {
	Name      string       `json:"name"`
	Types     []event.Type `json:"types,omitempty"`
	Delivered int64        `json:"delivered"`
	Failed    int64        `json:"failed"`
}
