package http

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/garyjia/workflow-engine/internal/application/workflow"
)

// StartInstanceRequest is the body of POST /instances
type StartInstanceRequest struct {
	DefinitionID string         `json:"definitionId"`
	EntityType   string         `json:"entityType"`
	EntityID     string         `json:"entityId"`
	Context      map[string]any `json:"context"`
	TriggeredBy  string         `json:"triggeredBy"`
}

// Validate implements validation.Validatable
func (r StartInstanceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DefinitionID, validation.Required),
		validation.Field(&r.EntityID, validation.Required),
	)
}

func (r StartInstanceRequest) toEngine() workflow.StartRequest {
	return workflow.StartRequest{
		DefinitionID: r.DefinitionID,
		EntityType:   r.EntityType,
		EntityID:     r.EntityID,
		Context:      r.Context,
		TriggeredBy:  r.TriggeredBy,
	}
}

// TransitionBody is the body of POST /instances/:id/transitions
type TransitionBody struct {
	ToState       string         `json:"toState"`
	Entity        map[string]any `json:"entity"`
	TriggeredBy   string         `json:"triggeredBy"`
	ExpectedState string         `json:"expectedState"`
	Metadata      map[string]any `json:"metadata"`
}

// Validate implements validation.Validatable
func (r TransitionBody) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ToState, validation.Required),
	)
}

// EntityBody carries an optional entity snapshot. Context is accepted as an
// alias for clients that send the snapshot under that name.
type EntityBody struct {
	Entity  map[string]any `json:"entity"`
	Context map[string]any `json:"context"`
}

func (b EntityBody) snapshot() map[string]any {
	if b.Entity != nil {
		return b.Entity
	}
	return b.Context
}

// CancelBody is the body of POST /instances/:id/cancel
type CancelBody struct {
	TriggeredBy string `json:"triggeredBy"`
	Reason      string `json:"reason"`
}

// ListDefinitionsQuery binds GET /definitions
type ListDefinitionsQuery struct {
	EntityType string `form:"entity_type"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// ListInstancesQuery binds GET /instances
type ListInstancesQuery struct {
	DefinitionID string `form:"definition_id"`
	EntityType   string `form:"entity_type"`
	EntityID     string `form:"entity_id"`
	Status       string `form:"status"`
	Limit        int    `form:"limit"`
	Offset       int    `form:"offset"`
}

// Validate implements validation.Validatable
func (q ListInstancesQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Status, validation.In("running", "completed", "failed", "cancelled")),
		validation.Field(&q.Limit, validation.Min(0), validation.Max(maxPageSize)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return defaultPageSize
	}
	return limit
}
