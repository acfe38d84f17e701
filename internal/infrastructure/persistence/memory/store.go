// Package memory keeps definitions, instances and history in process memory.
// It backs the "memory" database driver and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

type contextKey string

const journalKey contextKey = "memory-tx"

// journal collects undo steps for the transaction in flight
type journal struct {
	undo []func()
}

// Store holds all three relations
type Store struct {
	mu          sync.RWMutex
	definitions map[string]*entity.WorkflowDefinition
	instances   map[string]*entity.WorkflowInstance
	history     map[string][]*entity.WorkflowHistory
	historySeq  int64

	// txMu serializes transactions
	txMu sync.Mutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		definitions: make(map[string]*entity.WorkflowDefinition),
		instances:   make(map[string]*entity.WorkflowInstance),
		history:     make(map[string][]*entity.WorkflowHistory),
	}
}

// WithTransaction implements port.TransactionManager. Writes made through
// the repositories inside fn are undone when fn fails.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(journalKey).(*journal); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(j)
			panic(p)
		}
		if err != nil {
			s.rollback(j)
		}
	}()
	return fn(context.WithValue(ctx, journalKey, j))
}

func (s *Store) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}

// record registers an undo step; callers hold s.mu
func record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// Definitions returns the definition repository view
func (s *Store) Definitions() *DefinitionRepository { return &DefinitionRepository{s: s} }

// Instances returns the instance repository view
func (s *Store) Instances() *InstanceRepository { return &InstanceRepository{s: s} }

// History returns the history repository view
func (s *Store) History() *HistoryRepository { return &HistoryRepository{s: s} }

// Delete removes a definition with its instances and their history
func (s *Store) Delete(definitionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, definitionID)
	for id, inst := range s.instances {
		if inst.WorkflowDefinitionID == definitionID {
			delete(s.instances, id)
			delete(s.history, id)
		}
	}
}

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct{ s *Store }

func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.definitions[def.ID]; exists {
		return fmt.Errorf("%w: definition %s already exists", workflow.ErrConflict, def.ID)
	}
	r.s.definitions[def.ID] = def.Clone()
	id := def.ID
	record(ctx, func() { delete(r.s.definitions, id) })
	return nil
}

func (r *DefinitionRepository) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, exists := r.s.definitions[def.ID]
	if !exists {
		return fmt.Errorf("%w: definition %s", workflow.ErrNotFound, def.ID)
	}
	r.s.definitions[def.ID] = def.Clone()
	record(ctx, func() { r.s.definitions[prev.ID] = prev })
	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	def, ok := r.s.definitions[id]
	if !ok {
		return nil, nil
	}
	return def.Clone(), nil
}

func (r *DefinitionRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.definitions[id]
	if !ok {
		return fmt.Errorf("%w: definition %s", workflow.ErrNotFound, id)
	}
	next := prev.Clone()
	next.Status = status
	r.s.definitions[id] = next
	record(ctx, func() { r.s.definitions[id] = prev })
	return nil
}

func (r *DefinitionRepository) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entity.WorkflowDefinition, 0, len(r.s.definitions))
	for _, def := range r.s.definitions {
		if entityType != "" && def.EntityType != entityType {
			continue
		}
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct{ s *Store }

func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.definitions[inst.WorkflowDefinitionID]; !ok {
		return fmt.Errorf("%w: definition %s", workflow.ErrNotFound, inst.WorkflowDefinitionID)
	}
	if _, exists := r.s.instances[inst.ID]; exists {
		return fmt.Errorf("%w: instance %s already exists", workflow.ErrConflict, inst.ID)
	}
	if inst.Version == 0 {
		inst.Version = 1
	}
	r.s.instances[inst.ID] = inst.Clone()
	id := inst.ID
	record(ctx, func() { delete(r.s.instances, id) })
	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inst, ok := r.s.instances[id]
	if !ok {
		return nil, nil
	}
	return inst.Clone(), nil
}

func (r *InstanceRepository) Update(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", workflow.ErrNotFound, inst.ID)
	}
	if prev.Version != expectedVersion {
		return fmt.Errorf("%w: instance %s is at version %d, expected %d",
			workflow.ErrConflict, inst.ID, prev.Version, expectedVersion)
	}
	inst.Version = expectedVersion + 1
	r.s.instances[inst.ID] = inst.Clone()
	record(ctx, func() {
		r.s.instances[prev.ID] = prev
		inst.Version = expectedVersion
	})
	return nil
}

func (r *InstanceRepository) CountByDefinition(ctx context.Context, definitionID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, inst := range r.s.instances {
		if inst.WorkflowDefinitionID == definitionID {
			n++
		}
	}
	return n, nil
}

func (r *InstanceRepository) List(ctx context.Context, f port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*entity.WorkflowInstance, 0)
	for _, inst := range r.s.instances {
		if (f.DefinitionID != "" && inst.WorkflowDefinitionID != f.DefinitionID) ||
			(f.EntityType != "" && inst.EntityType != f.EntityType) ||
			(f.EntityID != "" && inst.EntityID != f.EntityID) ||
			(f.Status != "" && !strings.EqualFold(inst.Status, f.Status)) {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct{ s *Store }

func (r *HistoryRepository) Append(ctx context.Context, h *entity.WorkflowHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.instances[h.InstanceID]; !ok {
		return fmt.Errorf("%w: instance %s", workflow.ErrNotFound, h.InstanceID)
	}

	entries := r.s.history[h.InstanceID]
	r.s.historySeq++
	h.ID = r.s.historySeq
	h.Sequence = len(entries) + 1

	stored := *h
	stored.Metadata = entity.CloneMap(h.Metadata)
	r.s.history[h.InstanceID] = append(entries, &stored)

	id := h.InstanceID
	record(ctx, func() {
		r.s.history[id] = r.s.history[id][:len(r.s.history[id])-1]
	})
	return nil
}

func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	entries := r.s.history[instanceID]
	out := make([]*entity.WorkflowHistory, len(entries))
	for i, h := range entries {
		cp := *h
		cp.Metadata = entity.CloneMap(h.Metadata)
		out[i] = &cp
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Verify interface compliance
var (
	_ port.TransactionManager   = (*Store)(nil)
	_ port.DefinitionRepository = (*DefinitionRepository)(nil)
	_ port.InstanceRepository   = (*InstanceRepository)(nil)
	_ port.HistoryRepository    = (*HistoryRepository)(nil)
)
