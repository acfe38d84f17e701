package entity

import "time"

// WorkflowInstance is one execution of a definition against a business entity
type WorkflowInstance struct {
	ID                   string         `json:"id"`
	WorkflowDefinitionID string         `json:"workflowDefinitionId"`
	EntityType           string         `json:"entityType"`
	EntityID             string         `json:"entityId"`
	CurrentState         string         `json:"currentState"`
	Context              map[string]any `json:"context"`
	Status               string         `json:"status"`
	Version              int64          `json:"version"`
	StartedAt            time.Time      `json:"startedAt"`
	CompletedAt          *time.Time     `json:"completedAt,omitempty"`
}

// IsRunning reports whether the instance still accepts transitions
func (i *WorkflowInstance) IsRunning() bool {
	return i.Status == InstanceStatusRunning
}

// Clone returns a deep copy, so callers never share the context map
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	out := *i
	out.Context = CloneMap(i.Context)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// CloneMap deep-copies nested maps and slices of a JSON-like value bag
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a JSON-like value
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return val
	}
}
