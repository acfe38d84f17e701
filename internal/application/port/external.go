package port

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Suggestion is one recommended next transition
type Suggestion struct {
	ToState string `json:"toState"`
	Reason  string `json:"reason"`
}

// CandidateTransition is a legal, guard-passing edge offered to a recommender
type CandidateTransition struct {
	ToState  string         `json:"toState"`
	Guard    string         `json:"guard,omitempty"`
	Action   string         `json:"action,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecommendRequest carries everything a recommender may look at
type RecommendRequest struct {
	Definition *entity.WorkflowDefinition
	Instance   *entity.WorkflowInstance
	Entity     map[string]any
	Candidates []CandidateTransition
	History    []*entity.WorkflowHistory
}

// Recommender ranks next transitions for an instance. Output is advisory and
// always re-validated by the caller.
type Recommender interface {
	Recommend(ctx context.Context, req *RecommendRequest) ([]Suggestion, error)
}

// MessageSender delivers a text message to a chat recipient
type MessageSender interface {
	SendMessage(ctx context.Context, receiveID string, content string) error
}
