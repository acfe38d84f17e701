package entity

import "time"

// WorkflowHistory is one append-only row per transition attempt
type WorkflowHistory struct {
	ID           int64          `json:"id"`
	InstanceID   string         `json:"instanceId"`
	Sequence     int            `json:"sequence"`
	FromState    *string        `json:"fromState"`
	ToState      string         `json:"toState"`
	TriggeredBy  *string        `json:"triggeredBy"`
	Timestamp    time.Time      `json:"timestamp"`
	GuardResult  GuardResult    `json:"guardResult"`
	ActionResult ActionResult   `json:"actionResult"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// GuardResult records the guard evaluation of an attempt
type GuardResult struct {
	Passed     bool   `json:"passed"`
	Expression string `json:"expression,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ActionResult records the action execution of an attempt
type ActionResult struct {
	Executed bool   `json:"executed"`
	Action   string `json:"action,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Outcome returns the recorded outcome, or "" for rows written without one
func (h *WorkflowHistory) Outcome() string {
	if h.Metadata == nil {
		return ""
	}
	s, _ := h.Metadata[HistoryMetaOutcome].(string)
	return s
}

// EnteredState reports whether the attempt moved the instance into ToState
func (h *WorkflowHistory) EnteredState() bool {
	switch h.Outcome() {
	case OutcomeStarted, OutcomeApplied:
		return true
	}
	return false
}

// StringPtr returns nil for the empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
