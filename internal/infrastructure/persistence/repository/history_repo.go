package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository.
// Rows are never updated or deleted except through the instance cascade.
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one attempt, numbering it after the instance's last entry.
// The UNIQUE(instance_id, sequence) constraint turns a racing append into ErrConflict.
func (r *HistoryRepository) Append(ctx context.Context, h *entity.WorkflowHistory) error {
	guard, err := encodeJSON(h.GuardResult, false)
	if err != nil {
		return err
	}
	action, err := encodeJSON(h.ActionResult, false)
	if err != nil {
		return err
	}
	meta, err := encodeJSON(h.Metadata, true)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_history (
			instance_id, sequence, from_state, to_state, triggered_by,
			timestamp, guard_result, action_result, metadata
		)
		SELECT ?, COALESCE(MAX(sequence), 0) + 1, ?, ?, ?, ?, ?, ?, ?
		FROM workflow_history WHERE instance_id = ?
		RETURNING id, sequence
	`
	err = r.db.Executor(ctx).QueryRowContext(ctx, query,
		h.InstanceID,
		h.FromState,
		h.ToState,
		h.TriggeredBy,
		h.Timestamp.UTC(),
		guard,
		action,
		meta,
		h.InstanceID,
	).Scan(&h.ID, &h.Sequence)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: instance %s", workflow.ErrNotFound, h.InstanceID)
		case isUniqueViolation(err):
			return fmt.Errorf("%w: history of instance %s advanced concurrently", workflow.ErrConflict, h.InstanceID)
		}
		r.logger.Error("Failed to append history", zap.String("instance_id", h.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListByInstance returns every entry of an instance in sequence order
func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error) {
	query := `
		SELECT id, instance_id, sequence, from_state, to_state, triggered_by,
			timestamp, guard_result, action_result, metadata
		FROM workflow_history
		WHERE instance_id = ?
		ORDER BY sequence ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	records := make([]*entity.WorkflowHistory, 0)
	for rows.Next() {
		var (
			record      entity.WorkflowHistory
			fromState   sql.NullString
			triggeredBy sql.NullString
			guard       []byte
			action      []byte
			meta        []byte
		)
		err := rows.Scan(
			&record.ID,
			&record.InstanceID,
			&record.Sequence,
			&fromState,
			&record.ToState,
			&triggeredBy,
			&record.Timestamp,
			&guard,
			&action,
			&meta,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if fromState.Valid {
			record.FromState = &fromState.String
		}
		if triggeredBy.Valid {
			record.TriggeredBy = &triggeredBy.String
		}
		if err := decodeJSON(guard, &record.GuardResult); err != nil {
			return nil, err
		}
		if err := decodeJSON(action, &record.ActionResult); err != nil {
			return nil, err
		}
		if err := decodeJSON(meta, &record.Metadata); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
