package lark

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/port"
)

// NotifyAction is the action name the notifier registers under
const NotifyAction = "send-notification"

// Keys read by the notifier. Transition metadata wins over instance context,
// which wins over the entity snapshot.
const (
	MetaRecipient    = "notify"
	MetaMessage      = "message"
	ContextRecipient = "notify_to"
)

const defaultMessage = "{{.EntityType}} {{.EntityID}} moved from {{.From}} to {{.To}}"

// Notifier is the send-notification action handler
type Notifier struct {
	sender port.MessageSender
	now    func() time.Time
	logger *zap.Logger
}

// NewNotifier creates a notifier over any message sender
func NewNotifier(sender port.MessageSender, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		now:    time.Now,
		logger: logger,
	}
}

// messageData feeds the message template
type messageData struct {
	InstanceID string
	EntityType string
	EntityID   string
	From       string
	To         string
	Context    map[string]any
	Entity     map[string]any
}

// Handle implements action.Handler
func (n *Notifier) Handle(ctx context.Context, req *action.Request) (*action.Effect, error) {
	recipient := n.recipient(req)
	if recipient == "" {
		return nil, fmt.Errorf("no recipient: set transition metadata %q or context %q", MetaRecipient, ContextRecipient)
	}

	tmpl := defaultMessage
	if s, ok := req.Transition.Metadata[MetaMessage].(string); ok && s != "" {
		tmpl = s
	}
	text, err := render(tmpl, messageData{
		InstanceID: req.Instance.ID,
		EntityType: req.Instance.EntityType,
		EntityID:   req.Instance.EntityID,
		From:       req.Transition.From,
		To:         req.Transition.To,
		Context:    req.Instance.Context,
		Entity:     req.Entity,
	})
	if err != nil {
		return nil, err
	}

	if err := n.sender.SendMessage(ctx, recipient, text); err != nil {
		return nil, err
	}

	n.logger.Info("Transition notification sent",
		zap.String("instance_id", req.Instance.ID),
		zap.String("to_state", req.Transition.To),
		zap.String("recipient", recipient))

	return &action.Effect{ContextPatch: map[string]any{
		"last_notified_at": n.now().UTC().Format(time.RFC3339),
		"last_notified_to": recipient,
	}}, nil
}

func (n *Notifier) recipient(req *action.Request) string {
	if s, ok := req.Transition.Metadata[MetaRecipient].(string); ok && s != "" {
		return s
	}
	if req.Instance != nil {
		if s, ok := req.Instance.Context[ContextRecipient].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := req.Entity[ContextRecipient].(string); ok && s != "" {
		return s
	}
	return ""
}

func render(text string, data messageData) (string, error) {
	tmpl, err := template.New("message").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid message template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return buf.String(), nil
}

// Verify interface compliance
var _ action.Handler = (*Notifier)(nil)
