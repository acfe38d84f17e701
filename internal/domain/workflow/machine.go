package workflow

import (
	"fmt"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Graph is the compiled, read-only transition graph of one definition.
// It is safe for concurrent use.
type Graph struct {
	definitionID string
	initial      string
	order        []string
	states       map[string]entity.StateDefinition
	outgoing     map[string][]entity.TransitionDefinition
}

// NewGraph compiles a canonical definition. The definition must already be
// normalized: exactly one initial state and no undeclared references.
func NewGraph(def *entity.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrValidation)
	}

	g := &Graph{
		definitionID: def.ID,
		order:        make([]string, 0, len(def.States)),
		states:       make(map[string]entity.StateDefinition, len(def.States)),
		outgoing:     make(map[string][]entity.TransitionDefinition, len(def.States)),
	}

	for _, s := range def.States {
		if _, exists := g.states[s.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate state %q", ErrValidation, s.Name)
		}
		g.states[s.Name] = s
		g.order = append(g.order, s.Name)
		if s.Initial {
			if g.initial != "" {
				return nil, fmt.Errorf("%w: multiple initial states", ErrValidation)
			}
			g.initial = s.Name
		}
	}
	if g.initial == "" {
		return nil, fmt.Errorf("%w: no initial state", ErrValidation)
	}

	for _, t := range def.Transitions {
		if _, ok := g.states[t.From]; !ok {
			return nil, fmt.Errorf("%w: transition references unknown state %q", ErrValidation, t.From)
		}
		if _, ok := g.states[t.To]; !ok {
			return nil, fmt.Errorf("%w: transition references unknown state %q", ErrValidation, t.To)
		}
		g.outgoing[t.From] = append(g.outgoing[t.From], t)
	}

	return g, nil
}

// DefinitionID returns the id of the compiled definition
func (g *Graph) DefinitionID() string {
	return g.definitionID
}

// Initial returns the initial state name
func (g *Graph) Initial() string {
	return g.initial
}

// States returns state names in declaration order
func (g *Graph) States() []string {
	return append([]string(nil), g.order...)
}

// HasState reports whether name is a declared state
func (g *Graph) HasState(name string) bool {
	_, ok := g.states[name]
	return ok
}

// Transition returns the declared edge from -> to. There is no wildcard matching.
func (g *Graph) Transition(from, to string) (entity.TransitionDefinition, bool) {
	for _, t := range g.outgoing[from] {
		if t.To == to {
			return t, true
		}
	}
	return entity.TransitionDefinition{}, false
}

// Outgoing returns the edges leaving a state, in declaration order
func (g *Graph) Outgoing(from string) []entity.TransitionDefinition {
	return append([]entity.TransitionDefinition(nil), g.outgoing[from]...)
}

// IsFinal reports whether entering the state completes an instance:
// the state is declared final or has no outgoing transition.
func (g *Graph) IsFinal(name string) bool {
	s, ok := g.states[name]
	if !ok {
		return false
	}
	return s.Final || len(g.outgoing[name]) == 0
}

// IsWalk reports whether path starts at the initial state and follows
// declared edges only.
func (g *Graph) IsWalk(path []string) bool {
	if len(path) == 0 {
		return true
	}
	if path[0] != g.initial {
		return false
	}
	for i := 1; i < len(path); i++ {
		if _, ok := g.Transition(path[i-1], path[i]); !ok {
			return false
		}
	}
	return true
}
