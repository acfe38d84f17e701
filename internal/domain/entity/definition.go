package entity

import "time"

// WorkflowDefinition is the canonical lifecycle for one entity type
type WorkflowDefinition struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	EntityType  string                 `json:"entityType"`
	Version     int                    `json:"version"`
	Status      string                 `json:"status"`
	States      []StateDefinition      `json:"states"`
	Transitions []TransitionDefinition `json:"transitions"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// StateDefinition is a named state of a definition
type StateDefinition struct {
	Name     string         `json:"name"`
	Initial  bool           `json:"initial"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TransitionDefinition is a directed edge between two declared states
type TransitionDefinition struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	Guard        string         `json:"guard,omitempty"`
	Action       string         `json:"action,omitempty"`
	ActionPolicy string         `json:"actionPolicy,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// InitialState returns the name of the first state flagged initial
func (d *WorkflowDefinition) InitialState() string {
	for _, s := range d.States {
		if s.Initial {
			return s.Name
		}
	}
	return ""
}

// Actions returns the distinct action names referenced by transitions, in order
func (d *WorkflowDefinition) Actions() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, t := range d.Transitions {
		if t.Action == "" {
			continue
		}
		if _, ok := seen[t.Action]; ok {
			continue
		}
		seen[t.Action] = struct{}{}
		names = append(names, t.Action)
	}
	return names
}

// EffectivePolicy returns the transition's action policy, defaulting to continue
func (t TransitionDefinition) EffectivePolicy() string {
	if t.ActionPolicy == "" {
		return ActionPolicyContinue
	}
	return t.ActionPolicy
}

// Clone returns a deep copy of the definition
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}
	out := *d
	out.States = make([]StateDefinition, len(d.States))
	for i, s := range d.States {
		s.Metadata = CloneMap(s.Metadata)
		out.States[i] = s
	}
	out.Transitions = make([]TransitionDefinition, len(d.Transitions))
	for i, t := range d.Transitions {
		t.Metadata = CloneMap(t.Metadata)
		out.Transitions[i] = t
	}
	return &out
}
