package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sqlite.DB, logger *zap.Logger) *DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

const definitionColumns = `id, name, entity_type, version, status, states, transitions, created_at, updated_at`

// Create inserts a definition; a duplicate id yields workflow.ErrConflict
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	states, err := encodeJSON(def.States, false)
	if err != nil {
		return err
	}
	transitions, err := encodeJSON(def.Transitions, false)
	if err != nil {
		return err
	}

	query := `INSERT INTO workflow_definitions (` + definitionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		def.ID,
		def.Name,
		def.EntityType,
		def.Version,
		def.Status,
		states,
		transitions,
		def.CreatedAt.UTC(),
		def.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: definition %s already exists", workflow.ErrConflict, def.ID)
		}
		r.logger.Error("Failed to create definition", zap.String("definition_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}
	return nil
}

// Update overwrites every mutable column of an existing definition
func (r *DefinitionRepository) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	states, err := encodeJSON(def.States, false)
	if err != nil {
		return err
	}
	transitions, err := encodeJSON(def.Transitions, false)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_definitions
		SET name = ?, entity_type = ?, version = ?, status = ?, states = ?, transitions = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		def.Name,
		def.EntityType,
		def.Version,
		def.Status,
		states,
		transitions,
		def.UpdatedAt.UTC(),
		def.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update definition", zap.String("definition_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to update definition: %w", err)
	}
	return requireRow(result, "definition", def.ID)
}

// GetByID returns nil when the definition does not exist
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`

	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.String("definition_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// UpdateStatus changes the lifecycle status and touches updated_at
func (r *DefinitionRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE workflow_definitions SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update definition status",
			zap.String("definition_id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update definition status: %w", err)
	}
	return requireRow(result, "definition", id)
}

// List returns definitions newest first
func (r *DefinitionRepository) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	query, args = paginate(query, args, limit, offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]*entity.WorkflowDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*entity.WorkflowDefinition, error) {
	var (
		def         entity.WorkflowDefinition
		states      []byte
		transitions []byte
	)
	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.EntityType,
		&def.Version,
		&def.Status,
		&states,
		&transitions,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(states, &def.States); err != nil {
		return nil, err
	}
	if err := decodeJSON(transitions, &def.Transitions); err != nil {
		return nil, err
	}
	return &def, nil
}

func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", workflow.ErrNotFound, kind, id)
	}
	return nil
}

func paginate(query string, args []any, limit, offset int) (string, []any) {
	switch {
	case limit > 0:
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	case offset > 0:
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}
	return query, args
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
