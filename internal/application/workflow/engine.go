// Package workflow runs workflow instances: it starts them, executes guarded
// transitions, records history and emits lifecycle events.
package workflow

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// WorkflowEngine orchestrates workflow instances
type WorkflowEngine interface {
	// StartInstance creates a running instance in the definition's initial state
	StartInstance(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error)

	// ExecuteTransition attempts currentState -> req.ToState. Guard rejections
	// and action failures are outcomes, not errors.
	ExecuteTransition(ctx context.Context, req TransitionRequest) (*TransitionOutcome, error)

	// AvailableTransitions previews every edge leaving the current state. It
	// never runs actions and never writes.
	AvailableTransitions(ctx context.Context, instanceID string, entitySnapshot map[string]any) ([]AvailableTransition, error)

	// CancelInstance terminates a running instance
	CancelInstance(ctx context.Context, req CancelRequest) (*entity.WorkflowInstance, error)

	// Inspect loads an instance with its bound definition and transition preview
	Inspect(ctx context.Context, instanceID string, entitySnapshot map[string]any) (*InstanceView, error)

	// GetInstance returns an instance or workflow.ErrNotFound
	GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)

	// History returns the ledger of an instance in order
	History(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error)

	// VerifyHistory checks that the entered states form a walk over the bound graph
	VerifyHistory(ctx context.Context, instanceID string) error
}

// StartRequest starts an instance
type StartRequest struct {
	DefinitionID string         `json:"definitionId"`
	EntityType   string         `json:"entityType,omitempty"`
	EntityID     string         `json:"entityId"`
	Context      map[string]any `json:"context,omitempty"`
	TriggeredBy  string         `json:"triggeredBy,omitempty"`
}

// TransitionRequest asks for one transition
type TransitionRequest struct {
	InstanceID  string         `json:"instanceId"`
	ToState     string         `json:"toState"`
	Entity      map[string]any `json:"entity,omitempty"`
	TriggeredBy string         `json:"triggeredBy,omitempty"`
	// ExpectedState is the caller's premise; a mismatch fails with ErrConflict
	ExpectedState string         `json:"expectedState,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CancelRequest cancels an instance
type CancelRequest struct {
	InstanceID  string `json:"instanceId"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// AvailableTransition is one edge leaving the current state with its guard verdict
type AvailableTransition struct {
	From        string         `json:"from"`
	To          string         `json:"to"`
	Guard       string         `json:"guard,omitempty"`
	Action      string         `json:"action,omitempty"`
	GuardPassed bool           `json:"guardPassed"`
	GuardError  string         `json:"guardError,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TransitionOutcome is the result of an attempt that reached the guard
type TransitionOutcome struct {
	Outcome   string                   `json:"outcome"`
	Instance  *entity.WorkflowInstance `json:"instance"`
	History   *entity.WorkflowHistory  `json:"history"`
	Reason    string                   `json:"reason,omitempty"`
	Available []AvailableTransition    `json:"availableTransitions"`
}

// Applied reports whether the instance entered the requested state
func (o *TransitionOutcome) Applied() bool {
	return o != nil && o.Outcome == entity.OutcomeApplied
}

// InstanceView bundles an instance with what is needed to reason about its next step
type InstanceView struct {
	Definition *entity.WorkflowDefinition
	Instance   *entity.WorkflowInstance
	Available  []AvailableTransition
}
