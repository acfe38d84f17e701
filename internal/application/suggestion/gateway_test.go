package suggestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/memory"
)

// mockRecommender returns canned suggestions and records the last request
type mockRecommender struct {
	suggestions []port.Suggestion
	err         error
	delay       time.Duration
	lastReq     *port.RecommendRequest
	calls       int
}

func (m *mockRecommender) Recommend(ctx context.Context, req *port.RecommendRequest) ([]port.Suggestion, error) {
	m.calls++
	m.lastReq = req
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.suggestions, m.err
}

func setup(t *testing.T, score int) (workflow.WorkflowEngine, string) {
	t.Helper()
	store := memory.NewStore()
	def := &entity.WorkflowDefinition{
		ID: "def-1", Name: "triage", EntityType: "ticket", Version: 1,
		Status: entity.DefinitionStatusActive,
		States: []entity.StateDefinition{
			{Name: "open", Initial: true}, {Name: "escalated"}, {Name: "closed"}, {Name: "spam"},
		},
		Transitions: []entity.TransitionDefinition{
			{From: "open", To: "escalated", Guard: "score >= 50"},
			{From: "open", To: "closed"},
			{From: "open", To: "spam", Guard: "score < 0"},
			{From: "escalated", To: "closed"},
		},
	}
	require.NoError(t, store.Definitions().Create(context.Background(), def))

	engine := workflow.NewEngine(store.Definitions(), store.Instances(), store.History(), store,
		action.NewExecutor(action.NewRegistry()))
	inst, err := engine.StartInstance(context.Background(), workflow.StartRequest{
		DefinitionID: "def-1", EntityID: "t-1", Context: map[string]any{"score": score},
	})
	require.NoError(t, err)
	return engine, inst.ID
}

func TestSuggest_FiltersToLegalGuardPassing(t *testing.T) {
	engine, id := setup(t, 70)
	rec := &mockRecommender{suggestions: []port.Suggestion{
		{ToState: "spam", Reason: "guard fails"},
		{ToState: "archived", Reason: "not a state"},
		{ToState: " escalated ", Reason: " high score "},
		{ToState: "escalated", Reason: "duplicate"},
		{ToState: "closed", Reason: "fallback"},
	}}

	got, err := NewGateway(engine, rec).Suggest(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, []port.Suggestion{
		{ToState: "escalated", Reason: "high score"},
		{ToState: "closed", Reason: "fallback"},
	}, got)

	require.NotNil(t, rec.lastReq)
	var offered []string
	for _, c := range rec.lastReq.Candidates {
		offered = append(offered, c.ToState)
	}
	assert.Equal(t, []string{"escalated", "closed"}, offered)
	assert.Len(t, rec.lastReq.History, 1)
}

func TestSuggest_MaxResults(t *testing.T) {
	engine, id := setup(t, 70)
	rec := &mockRecommender{suggestions: []port.Suggestion{{ToState: "closed"}, {ToState: "escalated"}}}

	got, err := NewGateway(engine, rec, WithMaxResults(1)).Suggest(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, []port.Suggestion{{ToState: "closed"}}, got)
}

func TestSuggest_DegradesToEmpty(t *testing.T) {
	tests := []struct {
		name string
		rec  port.Recommender
		opts []Option
	}{
		{name: "nil recommender", rec: nil},
		{name: "error", rec: &mockRecommender{err: errors.New("503 from upstream")}},
		{name: "timeout", rec: &mockRecommender{delay: 200 * time.Millisecond, suggestions: []port.Suggestion{{ToState: "closed"}}},
			opts: []Option{WithTimeout(20 * time.Millisecond)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, id := setup(t, 70)
			got, err := NewGateway(engine, tt.rec, tt.opts...).Suggest(context.Background(), id, nil)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestSuggest_NoCandidatesSkipsRecommender(t *testing.T) {
	engine, id := setup(t, 70)
	_, err := engine.CancelInstance(context.Background(), workflow.CancelRequest{InstanceID: id})
	require.NoError(t, err)

	rec := &mockRecommender{suggestions: []port.Suggestion{{ToState: "closed"}}}
	got, err := NewGateway(engine, rec).Suggest(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, rec.calls)
}

func TestSuggest_UnknownInstance(t *testing.T) {
	engine, _ := setup(t, 70)
	_, err := NewGateway(engine, &mockRecommender{}).Suggest(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestSuggest_NeverApplies(t *testing.T) {
	engine, id := setup(t, 70)
	rec := &mockRecommender{suggestions: []port.Suggestion{{ToState: "closed"}}}

	_, err := NewGateway(engine, rec).Suggest(context.Background(), id, nil)
	require.NoError(t, err)

	inst, err := engine.GetInstance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "open", inst.CurrentState)
}
