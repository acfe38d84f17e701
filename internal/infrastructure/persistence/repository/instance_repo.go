package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlite.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, workflow_definition_id, entity_type, entity_id, current_state,
	context, status, version, started_at, completed_at`

// Create inserts a new instance at version 1 unless one is already set
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	if inst.Version == 0 {
		inst.Version = 1
	}
	wfCtx, err := encodeJSON(contextOrEmpty(inst.Context), false)
	if err != nil {
		return err
	}

	query := `INSERT INTO workflow_instances (` + instanceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		inst.ID,
		inst.WorkflowDefinitionID,
		inst.EntityType,
		inst.EntityID,
		inst.CurrentState,
		wfCtx,
		inst.Status,
		inst.Version,
		inst.StartedAt.UTC(),
		utcOrNil(inst.CompletedAt),
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: definition %s", workflow.ErrNotFound, inst.WorkflowDefinitionID)
		case isUniqueViolation(err):
			return fmt.Errorf("%w: instance %s already exists", workflow.ErrConflict, inst.ID)
		}
		r.logger.Error("Failed to create instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID returns nil when the instance does not exist
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	inst, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// Update is a compare-and-swap on the version column
func (r *InstanceRepository) Update(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error {
	wfCtx, err := encodeJSON(contextOrEmpty(inst.Context), false)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instances
		SET current_state = ?, context = ?, status = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	exec := r.db.Executor(ctx)
	result, err := exec.ExecContext(ctx, query,
		inst.CurrentState,
		wfCtx,
		inst.Status,
		utcOrNil(inst.CompletedAt),
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		var current int64
		err := exec.QueryRowContext(ctx, `SELECT version FROM workflow_instances WHERE id = ?`, inst.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: instance %s", workflow.ErrNotFound, inst.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read instance version: %w", err)
		}
		return fmt.Errorf("%w: instance %s is at version %d, expected %d",
			workflow.ErrConflict, inst.ID, current, expectedVersion)
	}

	inst.Version = expectedVersion + 1
	return nil
}

// CountByDefinition counts instances of every status
func (r *InstanceRepository) CountByDefinition(ctx context.Context, definitionID string) (int, error) {
	var n int
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_instances WHERE workflow_definition_id = ?`, definitionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

// List returns instances newest first
func (r *InstanceRepository) List(ctx context.Context, f port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	var (
		where []string
		args  []any
	)
	if f.DefinitionID != "" {
		where = append(where, "workflow_definition_id = ?")
		args = append(args, f.DefinitionID)
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToLower(f.Status))
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id ASC`
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.WorkflowInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var (
		inst        entity.WorkflowInstance
		wfCtx       []byte
		completedAt sql.NullTime
	)
	err := row.Scan(
		&inst.ID,
		&inst.WorkflowDefinitionID,
		&inst.EntityType,
		&inst.EntityID,
		&inst.CurrentState,
		&wfCtx,
		&inst.Status,
		&inst.Version,
		&inst.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(wfCtx, &inst.Context); err != nil {
		return nil, err
	}
	if inst.Context == nil {
		inst.Context = map[string]any{}
	}
	if completedAt.Valid {
		t := completedAt.Time
		inst.CompletedAt = &t
	}
	return &inst, nil
}

func contextOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
