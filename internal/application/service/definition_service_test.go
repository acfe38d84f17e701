package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/domain/definition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/memory"
)

type mockLogger struct {
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) { m.infos = append(m.infos, msg) }
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.errors = append(m.errors, msg)
}

func newDefinitionService(t *testing.T) (DefinitionService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	registry := action.NewRegistry()
	require.NoError(t, action.RegisterBuiltins(registry, nil))
	svc := NewDefinitionService(store.Definitions(), store.Instances(), store, registry, nil, &mockLogger{})
	return svc, store
}

func leadRaw() map[string]any {
	return map[string]any{
		"name":       "lead qualification",
		"entityType": "lead",
		"states": []any{
			map[string]any{"name": "new", "transitions": []any{
				map[string]any{"to": "qualified", "guard": "score >= 50", "action": "stamp"},
				"lost",
			}},
			map[string]any{"name": "qualified"},
		},
	}
}

func TestDefinitionService_Create(t *testing.T) {
	svc, _ := newDefinitionService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, leadRaw())
	require.NoError(t, err)
	assert.NotEmpty(t, def.ID)
	assert.Equal(t, entity.DefinitionStatusDraft, def.Status)
	assert.Equal(t, 1, def.Version)
	assert.False(t, def.CreatedAt.IsZero())

	got, err := svc.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.States, got.States)

	list, err := svc.List(ctx, "lead", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDefinitionService_CreateRejects(t *testing.T) {
	svc, _ := newDefinitionService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  any
		want error
	}{
		{"not object", []any{"a"}, definition.ErrNotObject},
		{"no states", map[string]any{"name": "x", "entityType": "y"}, definition.ErrStatesRequired},
		{"bad guard", map[string]any{"name": "x", "entityType": "y", "states": []any{
			map[string]any{"name": "a", "transitions": []any{map[string]any{"to": "b", "guard": "score >"}}},
		}}, definition.ErrInvalidGuard},
		{"unknown action", map[string]any{"name": "x", "entityType": "y", "states": []any{
			map[string]any{"name": "a", "transitions": []any{map[string]any{"to": "b", "action": "recompute-score"}}},
		}}, definition.ErrUnknownAction},
		{"duplicate state", map[string]any{"name": "x", "entityType": "y", "states": []any{
			map[string]any{"name": "a", "initial": true}, map[string]any{"name": "a", "final": true}, "b",
		}}, definition.ErrDuplicateState},
		{"blank state", map[string]any{"name": "x", "entityType": "y", "states": []any{"a", "", "b"}}, definition.ErrStateNameRequired},
		{"missing entity type", map[string]any{"name": "x", "states": []any{"a"}}, workflow.ErrValidation},
		{"archived", map[string]any{"name": "x", "entityType": "y", "status": "archived", "states": []any{"a"}}, workflow.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.raw)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, workflow.ErrValidation)
		})
	}

	raw := leadRaw()
	raw["id"] = "fixed"
	_, err := svc.Create(ctx, raw)
	require.NoError(t, err)
	_, err = svc.Create(ctx, raw)
	assert.ErrorIs(t, err, workflow.ErrConflict)
}

func TestDefinitionService_Lifecycle(t *testing.T) {
	svc, store := newDefinitionService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, leadRaw())
	require.NoError(t, err)

	revisedRaw := leadRaw()
	revisedRaw["states"] = append(revisedRaw["states"].([]any), "archived-lead")
	revised, err := svc.Revise(ctx, def.ID, revisedRaw)
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)
	assert.Equal(t, def.ID, revised.ID)
	assert.Len(t, revised.States, 4)

	active, err := svc.Activate(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DefinitionStatusActive, active.Status)

	again, err := svc.Activate(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DefinitionStatusActive, again.Status)

	_, err = svc.Revise(ctx, def.ID, leadRaw())
	assert.ErrorIs(t, err, workflow.ErrDefinitionImmutable)

	archived, err := svc.Archive(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DefinitionStatusArchived, archived.Status)

	_, err = svc.Activate(ctx, def.ID)
	assert.ErrorIs(t, err, workflow.ErrDefinitionArchived)
	_, err = svc.Revise(ctx, def.ID, leadRaw())
	assert.ErrorIs(t, err, workflow.ErrDefinitionArchived)

	stored, err := store.Definitions().GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)

	_, err = svc.Activate(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestDefinitionService_PublishesLifecycleEvents(t *testing.T) {
	store := memory.NewStore()
	registry := action.NewRegistry()
	require.NoError(t, action.RegisterBuiltins(registry, nil))

	d := dispatcher.NewDispatcher()
	var seen []*event.Event
	require.NoError(t, d.Subscribe(dispatcher.Subscription{
		Name:  "recorder",
		Types: []event.Type{event.TypeDefinitionActivated, event.TypeDefinitionArchived},
		Handle: func(ctx context.Context, evt *event.Event) error {
			seen = append(seen, evt)
			return nil
		},
	}))

	svc := NewDefinitionService(store.Definitions(), store.Instances(), store, registry, nil, &mockLogger{}, WithEvents(d))
	ctx := context.Background()
	def, err := svc.Create(ctx, leadRaw())
	require.NoError(t, err)
	_, err = svc.Activate(ctx, def.ID)
	require.NoError(t, err)
	_, err = svc.Archive(ctx, def.ID)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.Len(t, seen, 2)
	assert.Equal(t, event.TypeDefinitionActivated, seen[0].Type)
	assert.Equal(t, event.TypeDefinitionArchived, seen[1].Type)
	assert.Equal(t, def.ID, seen[1].DefinitionID)
	assert.Equal(t, "lead", seen[1].GetPayloadString(event.PayloadEntityType))
}

func TestDefinitionService_Normalize(t *testing.T) {
	svc, _ := newDefinitionService(t)

	def, err := svc.Normalize(map[string]any{"states": []any{map[string]any{"name": "A", "transitions": []any{"B"}}}})
	require.NoError(t, err)
	assert.Equal(t, []entity.StateDefinition{
		{Name: "A", Initial: true},
		{Name: "B", Final: true},
	}, def.States)

	_, err = svc.Normalize(map[string]any{"states": []any{map[string]any{"name": " "}}})
	assert.ErrorIs(t, err, definition.ErrStateNameRequired)

	_, err = svc.Normalize(map[string]any{"states": []any{"a", "a", "b"}})
	assert.ErrorIs(t, err, definition.ErrDuplicateState)
}

func TestSeedLoader_LoadDir(t *testing.T) {
	svc, _ := newDefinitionService(t)
	dir := t.TempDir()

	yamlDoc := `
id: seed-ticket
name: ticket
entityType: ticket
status: active
states:
  - name: open
    transitions: [closed]
  - closed
`
	jsonDoc := `{"id": "seed-order", "name": "order", "entityType": "order",
  "transitions": [{"source": "placed", "target": "shipped"}]}`

	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-ticket.yaml"), []byte(yamlDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-order.json"), []byte(jsonDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	loader := NewSeedLoader(svc, &mockLogger{})
	n, err := loader.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ticket, err := svc.Get(context.Background(), "seed-ticket")
	require.NoError(t, err)
	assert.Equal(t, entity.DefinitionStatusActive, ticket.Status)

	n, err = loader.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = loader.LoadDir(context.Background(), filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeedLoader_ActivatesDrafts(t *testing.T) {
	svc, _ := newDefinitionService(t)
	dir := t.TempDir()
	doc := "id: seed-lead\nname: lead\nentityType: lead\nstates: [new, won]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lead.yml"), []byte(doc), 0o644))

	n, err := NewSeedLoader(svc, &mockLogger{}, WithActivation(true)).LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lead, err := svc.Get(context.Background(), "seed-lead")
	require.NoError(t, err)
	assert.Equal(t, entity.DefinitionStatusActive, lead.Status)
}
