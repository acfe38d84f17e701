package lark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

type sentMessage struct {
	receiveID string
	content   string
}

// mockSender records messages instead of calling Lark
type mockSender struct {
	sent []sentMessage
	err  error
}

func (m *mockSender) SendMessage(ctx context.Context, receiveID, content string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{receiveID, content})
	return nil
}

func notifyRequest(meta map[string]any, wfCtx map[string]any) *action.Request {
	return &action.Request{
		Action: NotifyAction,
		Instance: &entity.WorkflowInstance{
			ID:           "inst-1",
			EntityType:   "lead",
			EntityID:     "L-7",
			CurrentState: "review",
			Context:      wfCtx,
		},
		Entity:     map[string]any{"owner": "dana"},
		Transition: entity.TransitionDefinition{From: "review", To: "approved", Action: NotifyAction, Metadata: meta},
	}
}

func newTestNotifier(sender *mockSender) *Notifier {
	n := NewNotifier(sender, zap.NewNop())
	n.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestNotifier_DefaultMessageToContextRecipient(t *testing.T) {
	sender := &mockSender{}
	n := newTestNotifier(sender)

	effect, err := n.Handle(context.Background(), notifyRequest(nil, map[string]any{ContextRecipient: "ou_abc"}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ou_abc", sender.sent[0].receiveID)
	assert.Equal(t, "lead L-7 moved from review to approved", sender.sent[0].content)
	assert.Equal(t, "2026-05-01T12:00:00Z", effect.ContextPatch["last_notified_at"])
	assert.Equal(t, "ou_abc", effect.ContextPatch["last_notified_to"])
}

func TestNotifier_MetadataOverridesRecipientAndTemplate(t *testing.T) {
	sender := &mockSender{}
	n := newTestNotifier(sender)

	meta := map[string]any{
		MetaRecipient: "oc_team",
		MetaMessage:   "{{.Entity.owner}} approved {{.EntityID}}",
	}
	_, err := n.Handle(context.Background(), notifyRequest(meta, map[string]any{ContextRecipient: "ou_abc"}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "oc_team", sender.sent[0].receiveID)
	assert.Equal(t, "dana approved L-7", sender.sent[0].content)
}

func TestNotifier_Failures(t *testing.T) {
	_, err := newTestNotifier(&mockSender{}).Handle(context.Background(), notifyRequest(nil, nil))
	assert.ErrorContains(t, err, "no recipient")

	_, err = newTestNotifier(&mockSender{}).Handle(context.Background(),
		notifyRequest(map[string]any{MetaRecipient: "ou_x", MetaMessage: "{{.Broken"}, nil))
	assert.ErrorContains(t, err, "invalid message template")

	_, err = newTestNotifier(&mockSender{err: errors.New("API error: code=99991663")}).Handle(context.Background(),
		notifyRequest(map[string]any{MetaRecipient: "ou_x"}, nil))
	assert.ErrorContains(t, err, "99991663")
}

func TestNotifier_FailureSurfacesThroughExecutor(t *testing.T) {
	registry := action.NewRegistry()
	require.NoError(t, registry.Register(NotifyAction, newTestNotifier(&mockSender{})))
	exec := action.NewExecutor(registry)

	res := exec.Execute(context.Background(), notifyRequest(nil, nil))
	assert.False(t, res.Executed)
	assert.Contains(t, res.Error, "no recipient")
}

func TestReceiveIDType(t *testing.T) {
	cases := map[string]string{
		"ou_123":           "open_id",
		"oc_456":           "chat_id",
		"on_789":           "union_id",
		"someone@corp.com": "email",
		"u12345":           "user_id",
	}
	for id, want := range cases {
		assert.Equal(t, want, ReceiveIDType(id), id)
	}
}
