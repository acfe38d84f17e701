package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/definition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	"github.com/garyjia/workflow-engine/internal/domain/guard"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// DefinitionService authors workflow definitions and manages their lifecycle
type DefinitionService interface {
	// Normalize canonicalizes and validates raw input without storing it
	Normalize(raw any) (*entity.WorkflowDefinition, error)

	// Create stores a new definition as draft, or active when raw says so
	Create(ctx context.Context, raw any) (*entity.WorkflowDefinition, error)

	// Revise replaces the graph of a draft definition and bumps its version
	Revise(ctx context.Context, id string, raw any) (*entity.WorkflowDefinition, error)

	// Activate makes a definition available for new instances
	Activate(ctx context.Context, id string) (*entity.WorkflowDefinition, error)

	// Archive stops new instances; running ones continue
	Archive(ctx context.Context, id string) (*entity.WorkflowDefinition, error)

	Get(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	List(ctx context.Context, entityType string, limit, offset int) ([]*entity.WorkflowDefinition, error)
}

type definitionServiceImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	txManager      port.TransactionManager
	actions        *action.Registry
	guards         *guard.Evaluator
	logger         Logger
	events         dispatcher.Dispatcher
	now            func() time.Time
}

// DefinitionOption configures the definition service
type DefinitionOption func(*definitionServiceImpl)

// WithEvents publishes definition.activated and definition.archived
func WithEvents(d dispatcher.Dispatcher) DefinitionOption {
	return func(s *definitionServiceImpl) {
		s.events = d
	}
}

// NewDefinitionService creates a new DefinitionService. Guards must compile
// with guards and every action must be registered in actions.
func NewDefinitionService(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	txManager port.TransactionManager,
	actions *action.Registry,
	guards *guard.Evaluator,
	logger Logger,
	opts ...DefinitionOption,
) DefinitionService {
	if guards == nil {
		guards = guard.NewEvaluator()
	}
	s := &definitionServiceImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		txManager:      txManager,
		actions:        actions,
		guards:         guards,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize canonicalizes raw and checks it against the runtime
func (s *definitionServiceImpl) Normalize(raw any) (*entity.WorkflowDefinition, error) {
	def, ok := definition.Normalize(raw)
	if !ok {
		return nil, definition.ValidateRaw(raw)
	}
	if err := definition.Validate(def); err != nil {
		return nil, err
	}
	if err := s.checkRuntime(def); err != nil {
		return nil, err
	}
	return def, nil
}

// checkRuntime rejects guards that do not compile and actions nobody handles
func (s *definitionServiceImpl) checkRuntime(def *entity.WorkflowDefinition) error {
	for _, t := range def.Transitions {
		if _, err := s.guards.Compile(t.Guard); err != nil {
			return fmt.Errorf("%w: %s -> %s: %v", definition.ErrInvalidGuard, t.From, t.To, err)
		}
	}
	if s.actions != nil {
		return s.actions.Require(def)
	}
	return nil
}

// Create stores a new definition
func (s *definitionServiceImpl) Create(ctx context.Context, raw any) (*entity.WorkflowDefinition, error) {
	def, err := s.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if err := definition.ValidateHeader(def); err != nil {
		return nil, err
	}
	if def.Status == entity.DefinitionStatusArchived {
		return nil, fmt.Errorf("%w: a definition cannot be created archived", workflow.ErrValidation)
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	} else {
		existing, err := s.definitionRepo.GetByID(ctx, def.ID)
		if err != nil {
			return nil, fmt.Errorf("check existing definition: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: definition %s already exists", workflow.ErrConflict, def.ID)
		}
	}

	now := s.now()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.definitionRepo.Create(ctx, def); err != nil {
		s.logger.Error("Failed to create definition", "error", err, "definition_id", def.ID)
		return nil, fmt.Errorf("create definition: %w", err)
	}

	s.logger.Info("Definition created",
		"definition_id", def.ID,
		"entity_type", def.EntityType,
		"status", def.Status,
		"states", len(def.States),
		"transitions", len(def.Transitions),
	)
	return def, nil
}

// Revise replaces the graph of a draft definition
func (s *definitionServiceImpl) Revise(ctx context.Context, id string, raw any) (*entity.WorkflowDefinition, error) {
	next, err := s.Normalize(raw)
	if err != nil {
		return nil, err
	}

	var revised *entity.WorkflowDefinition
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.load(txCtx, id)
		if err != nil {
			return err
		}
		switch existing.Status {
		case entity.DefinitionStatusArchived:
			return fmt.Errorf("%w: %s", workflow.ErrDefinitionArchived, id)
		case entity.DefinitionStatusActive:
			return fmt.Errorf("%w: %s is active", workflow.ErrDefinitionImmutable, id)
		}
		started, err := s.instanceRepo.CountByDefinition(txCtx, id)
		if err != nil {
			return fmt.Errorf("count instances: %w", err)
		}
		if started > 0 {
			return fmt.Errorf("%w: %s has %d instances", workflow.ErrDefinitionImmutable, id, started)
		}

		next.ID = existing.ID
		if next.Name == "" {
			next.Name = existing.Name
		}
		if next.EntityType == "" {
			next.EntityType = existing.EntityType
		}
		next.Status = entity.DefinitionStatusDraft
		next.Version = existing.Version + 1
		next.CreatedAt = existing.CreatedAt
		next.UpdatedAt = s.now()
		if err := definition.ValidateHeader(next); err != nil {
			return err
		}
		if err := s.definitionRepo.Update(txCtx, next); err != nil {
			return fmt.Errorf("update definition: %w", err)
		}
		revised = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Definition revised", "definition_id", id, "version", revised.Version)
	return revised, nil
}

// Activate makes a definition available for new instances
func (s *definitionServiceImpl) Activate(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	def, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch def.Status {
	case entity.DefinitionStatusActive:
		return def, nil
	case entity.DefinitionStatusArchived:
		return nil, fmt.Errorf("%w: %s", workflow.ErrDefinitionArchived, id)
	}
	if err := s.checkRuntime(def); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, def, entity.DefinitionStatusActive)
}

// Archive stops new instances
func (s *definitionServiceImpl) Archive(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	def, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Status == entity.DefinitionStatusArchived {
		return def, nil
	}
	return s.setStatus(ctx, def, entity.DefinitionStatusArchived)
}

func (s *definitionServiceImpl) setStatus(ctx context.Context, def *entity.WorkflowDefinition, status string) (*entity.WorkflowDefinition, error) {
	if err := s.definitionRepo.UpdateStatus(ctx, def.ID, status); err != nil {
		s.logger.Error("Failed to update definition status", "error", err, "definition_id", def.ID, "status", status)
		return nil, fmt.Errorf("update definition status: %w", err)
	}
	s.logger.Info("Definition status changed", "definition_id", def.ID, "from", def.Status, "to", status)
	def.Status = status

	if s.events != nil {
		typ := event.TypeDefinitionActivated
		if status == entity.DefinitionStatusArchived {
			typ = event.TypeDefinitionArchived
		}
		s.events.DispatchAsync(ctx, event.NewEvent(typ, "", def.ID, nil).
			WithPayload("version", def.Version).
			WithPayload(event.PayloadEntityType, def.EntityType))
	}
	return def, nil
}

// Get returns a definition or ErrNotFound
func (s *definitionServiceImpl) Get(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	return s.load(ctx, id)
}

// List returns definitions newest first
func (s *definitionServiceImpl) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	defs, err := s.definitionRepo.List(ctx, entityType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return defs, nil
}

func (s *definitionServiceImpl) load(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: definition %s", workflow.ErrNotFound, id)
	}
	return def, nil
}
