package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/domain/definition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

func newRequest(name string) *Request {
	return &Request{
		Action:   name,
		Instance: &entity.WorkflowInstance{ID: "inst-1", CurrentState: "draft"},
		Transition: entity.TransitionDefinition{
			From: "draft", To: "review", Action: name,
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) { return nil, nil })

	require.NoError(t, r.Register("notify", noop))
	require.NoError(t, r.Register("archive", noop))
	assert.Error(t, r.Register("notify", noop))
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("x", nil))

	assert.Equal(t, []string{"archive", "notify"}, r.Names())
	_, ok := r.Lookup("notify")
	assert.True(t, ok)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	def := &entity.WorkflowDefinition{Transitions: []entity.TransitionDefinition{
		{From: "a", To: "b", Action: "notify"},
		{From: "b", To: "c", Action: "recompute-score"},
	}}
	err := r.Require(def)
	assert.ErrorIs(t, err, definition.ErrUnknownAction)
	assert.Contains(t, err.Error(), "recompute-score")
}

func TestExecute_Success(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("score", HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		return &Effect{ContextPatch: map[string]any{"score": 10}}, nil
	}))

	res := NewExecutor(r).Execute(context.Background(), newRequest("score"))
	assert.True(t, res.Executed)
	assert.Empty(t, res.Error)
	assert.Equal(t, "score", res.Action)
	require.NotNil(t, res.Effect)
	assert.Equal(t, 10, res.Effect.ContextPatch["score"])
}

func TestExecute_UnknownAction(t *testing.T) {
	res := NewExecutor(NewRegistry()).Execute(context.Background(), newRequest("send-notification"))
	assert.False(t, res.Executed)
	assert.Equal(t, "unknown action", res.Error)
}

func TestExecute_HandlerError(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("fail", HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		return nil, errors.New("smtp unavailable")
	}))

	res := NewExecutor(r).Execute(context.Background(), newRequest("fail"))
	assert.False(t, res.Executed)
	assert.Equal(t, "smtp unavailable", res.Error)
	assert.Nil(t, res.Effect)
}

func TestExecute_Panic(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("panic", HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		panic("nil map")
	}))

	res := NewExecutor(r).Execute(context.Background(), newRequest("panic"))
	assert.False(t, res.Executed)
	assert.Contains(t, res.Error, "action panic")
}

func TestExecute_Timeout(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	defer close(release)
	r.MustRegister("slow", HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		<-release
		return &Effect{}, nil
	}))

	start := time.Now()
	res := NewExecutor(r, WithTimeout(30*time.Millisecond)).Execute(context.Background(), newRequest("slow"))
	assert.False(t, res.Executed)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_CallerCancellation(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("wait", HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewExecutor(r).Execute(ctx, newRequest("wait"))
	assert.False(t, res.Executed)
	assert.NotEmpty(t, res.Error)
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, RegisterBuiltins(r, func() time.Time { return fixed }))
	exec := NewExecutor(r)

	req := newRequest(SetContextAction)
	req.Transition.Metadata = map[string]any{"set": map[string]any{"reviewed": true}}
	res := exec.Execute(context.Background(), req)
	require.True(t, res.Executed)
	assert.Equal(t, map[string]any{"reviewed": true}, res.Effect.ContextPatch)

	req = newRequest(SetContextAction)
	req.Transition.Metadata = map[string]any{"set": "nope"}
	res = exec.Execute(context.Background(), req)
	assert.False(t, res.Executed)

	res = exec.Execute(context.Background(), newRequest(StampAction))
	require.True(t, res.Executed)
	assert.Equal(t, "2026-03-01T12:00:00Z", res.Effect.ContextPatch["review_at"])
}
