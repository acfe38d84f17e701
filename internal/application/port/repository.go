package port

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// DefinitionRepository defines persistence operations for WorkflowDefinition.
// Getters return (nil, nil) when no row matches.
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	Update(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	// List returns definitions newest first; an empty entityType matches all
	List(ctx context.Context, entityType string, limit, offset int) ([]*entity.WorkflowDefinition, error)
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, inst *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// Update persists inst when the stored version equals expectedVersion and
	// bumps inst.Version. It returns workflow.ErrConflict otherwise.
	Update(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error

	// CountByDefinition reports how many instances were ever started against a definition
	CountByDefinition(ctx context.Context, definitionID string) (int, error)

	List(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error)
}

// InstanceFilter narrows InstanceRepository.List; zero fields match everything
type InstanceFilter struct {
	DefinitionID string
	EntityType   string
	EntityID     string
	Status       string
	Limit        int
	Offset       int
}

// HistoryRepository is the append-only history ledger
type HistoryRepository interface {
	// Append assigns h.ID and h.Sequence (one past the instance's last entry)
	Append(ctx context.Context, h *entity.WorkflowHistory) error
	// ListByInstance returns entries in sequence order
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
