// Package lark delivers workflow notifications through the Lark/Feishu IM API.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
)

// Config holds the app credentials of the notifying bot
type Config struct {
	AppID     string
	AppSecret string
	// BaseURL overrides the open platform endpoint (Feishu vs Lark, or a test server)
	BaseURL string
	// Timeout bounds each open platform request
	Timeout time.Duration
}

// Messenger implements port.MessageSender over the IM message API
type Messenger struct {
	client *lark.Client
	logger *zap.Logger
}

// NewMessenger creates a bot client; tenant tokens are fetched and cached by the SDK
func NewMessenger(cfg Config, logger *zap.Logger) *Messenger {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelWarn),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, lark.WithReqTimeout(cfg.Timeout))
	}
	return &Messenger{
		client: lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
		logger: logger,
	}
}

// SendMessage sends a text message. The id type is inferred from the
// receive id: ou_ open_id, oc_ chat_id, on_ union_id, an address with @
// is an email, anything else a user_id.
func (m *Messenger) SendMessage(ctx context.Context, receiveID string, content string) error {
	if receiveID == "" {
		return fmt.Errorf("receiveID cannot be empty")
	}
	if content == "" {
		return fmt.Errorf("content cannot be empty")
	}

	body, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	idType := ReceiveIDType(receiveID)
	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(idType).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType("text").
			Content(string(body)).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID),
		zap.String("receive_id_type", idType))
	return nil
}

// ReceiveIDType maps a receive id to the Lark receive_id_type
func ReceiveIDType(receiveID string) string {
	switch {
	case strings.HasPrefix(receiveID, "ou_"):
		return "open_id"
	case strings.HasPrefix(receiveID, "oc_"):
		return "chat_id"
	case strings.HasPrefix(receiveID, "on_"):
		return "union_id"
	case strings.Contains(receiveID, "@"):
		return "email"
	default:
		return "user_id"
	}
}

// Verify interface compliance
var _ port.MessageSender = (*Messenger)(nil)
