package workflow

import "github.com/garyjia/workflow-engine/internal/domain/entity"

// Builder assembles a canonical definition in code. wfcheck builds its starter
// template with it.
// States are recorded in the order they are first configured.
type Builder struct {
	def     *entity.WorkflowDefinition
	indexes map[string]int
}

// StateConfiguration configures a single state and its outgoing edges
type StateConfiguration struct {
	builder *Builder
	name    string
}

// TransitionOption customizes an edge added with Permit
type TransitionOption func(*entity.TransitionDefinition)

// WithAction attaches a named action
func WithAction(name string) TransitionOption {
	return func(t *entity.TransitionDefinition) {
		t.Action = name
	}
}

// WithActionPolicy sets the action failure policy
func WithActionPolicy(policy string) TransitionOption {
	return func(t *entity.TransitionDefinition) {
		t.ActionPolicy = policy
	}
}

// WithMetadata sets transition metadata
func WithMetadata(md map[string]any) TransitionOption {
	return func(t *entity.TransitionDefinition) {
		t.Metadata = md
	}
}

// NewBuilder creates a builder for a definition governing entityType
func NewBuilder(name, entityType string) *Builder {
	return &Builder{
		def: &entity.WorkflowDefinition{
			Name:       name,
			EntityType: entityType,
			Version:    1,
			Status:     entity.DefinitionStatusDraft,
		},
		indexes: make(map[string]int),
	}
}

// Configure returns the configuration for a state, declaring it if needed.
// The first configured state is initial unless another is marked with Initial.
func (b *Builder) Configure(name string) *StateConfiguration {
	b.ensure(name)
	return &StateConfiguration{builder: b, name: name}
}

func (b *Builder) ensure(name string) int {
	if idx, ok := b.indexes[name]; ok {
		return idx
	}
	b.def.States = append(b.def.States, entity.StateDefinition{Name: name})
	idx := len(b.def.States) - 1
	b.indexes[name] = idx
	return idx
}

// Initial marks the state as the initial state, clearing any previous one
func (c *StateConfiguration) Initial() *StateConfiguration {
	for i := range c.builder.def.States {
		c.builder.def.States[i].Initial = false
	}
	c.builder.def.States[c.builder.indexes[c.name]].Initial = true
	return c
}

// Final marks the state final
func (c *StateConfiguration) Final() *StateConfiguration {
	c.builder.def.States[c.builder.indexes[c.name]].Final = true
	return c
}

// Permit declares an unguarded edge to toState
func (c *StateConfiguration) Permit(toState string, opts ...TransitionOption) *StateConfiguration {
	return c.PermitIf(toState, "", opts...)
}

// PermitIf declares an edge to toState guarded by a guard expression
func (c *StateConfiguration) PermitIf(toState, guard string, opts ...TransitionOption) *StateConfiguration {
	c.builder.ensure(toState)
	t := entity.TransitionDefinition{From: c.name, To: toState, Guard: guard}
	for _, opt := range opts {
		opt(&t)
	}
	c.builder.def.Transitions = append(c.builder.def.Transitions, t)
	return c
}

// Build returns the definition with initial and final flags resolved:
// the first state becomes initial if none was marked, and states without
// outgoing edges are marked final.
func (b *Builder) Build() *entity.WorkflowDefinition {
	def := b.def.Clone()
	if len(def.States) == 0 {
		return def
	}
	if def.InitialState() == "" {
		def.States[0].Initial = true
	}
	hasOutgoing := make(map[string]bool, len(def.Transitions))
	for _, t := range def.Transitions {
		hasOutgoing[t.From] = true
	}
	for i := range def.States {
		if !hasOutgoing[def.States[i].Name] {
			def.States[i].Final = true
		}
	}
	return def
}
