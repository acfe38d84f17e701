package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// historyWindow is how many trailing ledger rows are shown to the model
const historyWindow = 10

// Config holds recommender settings
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxResults int
}

// Recommender implements port.Recommender with a chat completion
type Recommender struct {
	client     *openai.Client
	model      string
	maxResults int
	prompts    *PromptConfig
	logger     *zap.Logger
}

// NewRecommender creates a recommender; a nil prompts value selects the built-in set
func NewRecommender(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Recommender {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	return &Recommender{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxResults: cfg.MaxResults,
		prompts:    prompts,
		logger:     logger,
	}
}

// recommendResponse is the JSON object the model is asked to produce
type recommendResponse struct {
	Suggestions []port.Suggestion `json:"suggestions"`
}

// Recommend asks the model to rank req.Candidates
func (r *Recommender) Recommend(ctx context.Context, req *port.RecommendRequest) ([]port.Suggestion, error) {
	if req == nil || req.Instance == nil || len(req.Candidates) == 0 {
		return nil, nil
	}

	prompt, err := r.buildPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: r.prompts.Recommend.Temperature,
		MaxTokens:   r.prompts.Recommend.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: r.prompts.Recommend.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		r.logger.Error("OpenAI API call failed", zap.String("instance_id", req.Instance.ID), zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	suggestions, err := parseSuggestions(resp.Choices[0].Message.Content)
	if err != nil {
		r.logger.Error("Failed to parse OpenAI response",
			zap.String("instance_id", req.Instance.ID),
			zap.String("content", resp.Choices[0].Message.Content),
			zap.Error(err))
		return nil, err
	}

	r.logger.Info("Recommendations received",
		zap.String("instance_id", req.Instance.ID),
		zap.Int("count", len(suggestions)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return suggestions, nil
}

// promptData feeds the user template
type promptData struct {
	Definition   string
	EntityType   string
	CurrentState string
	Context      string
	Entity       string
	History      []string
	Candidates   []string
	Limit        int
}

func (r *Recommender) buildPrompt(req *port.RecommendRequest) (string, error) {
	data := promptData{
		CurrentState: req.Instance.CurrentState,
		EntityType:   req.Instance.EntityType,
		Context:      compactJSON(req.Instance.Context),
		Entity:       compactJSON(req.Entity),
		Limit:        r.maxResults,
	}
	if req.Definition != nil {
		data.Definition = req.Definition.Name
	}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, h := range history {
		data.History = append(data.History, describeHistory(h))
	}
	for _, c := range req.Candidates {
		line := c.ToState
		if c.Action != "" {
			line += fmt.Sprintf(" (runs action %s)", c.Action)
		}
		if len(c.Metadata) > 0 {
			line += " " + compactJSON(c.Metadata)
		}
		data.Candidates = append(data.Candidates, line)
	}

	return r.prompts.renderUser(data)
}

func describeHistory(h *entity.WorkflowHistory) string {
	from := "(start)"
	if h.FromState != nil {
		from = *h.FromState
	}
	line := fmt.Sprintf("#%d %s -> %s", h.Sequence, from, h.ToState)
	if outcome := h.Outcome(); outcome != "" {
		line += " [" + outcome + "]"
	}
	return line
}

// parseSuggestions accepts the requested object, a bare array, or either one
// wrapped in prose or a markdown fence
func parseSuggestions(content string) ([]port.Suggestion, error) {
	content = strings.TrimSpace(content)

	var obj recommendResponse
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj.Suggestions, nil
	}
	var list []port.Suggestion
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return list, nil
	}

	if jsonStr := extractJSON(content); jsonStr != "" {
		if err := json.Unmarshal([]byte(jsonStr), &obj); err == nil {
			return obj.Suggestions, nil
		}
	}
	return nil, fmt.Errorf("failed to parse response: no suggestions object found")
}

// extractJSON returns the first balanced {...} in content
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd finds the end of the object opened at start, skipping braces inside strings
func findJSONEnd(content string, start int) int {
	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		ch := content[i]
		switch {
		case escapeNext:
			escapeNext = false
		case ch == '\\' && inString:
			escapeNext = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Verify interface compliance
var _ port.Recommender = (*Recommender)(nil)
