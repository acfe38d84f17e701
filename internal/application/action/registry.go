// Package action runs the named side effects attached to transitions.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/garyjia/workflow-engine/internal/domain/definition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Request is what a handler receives. Instance is a copy; handlers change
// instance context only through Effect.ContextPatch.
type Request struct {
	Action     string
	Instance   *entity.WorkflowInstance
	Entity     map[string]any
	Transition entity.TransitionDefinition
}

// Effect is what a handler asks the engine to apply on success
type Effect struct {
	// ContextPatch is merged into the instance context; a nil value deletes the key
	ContextPatch map[string]any
}

// Handler executes one named action
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Effect, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req *Request) (*Effect, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Effect, error) {
	return f(ctx, req)
}

// Registry maps action names to handlers. It is populated at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler; names are unique
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("action name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register that panics, for wiring code
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for name
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered actions in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require reports the first action named by def that has no handler
func (r *Registry) Require(def *entity.WorkflowDefinition) error {
	for _, name := range def.Actions() {
		if _, ok := r.Lookup(name); !ok {
			return fmt.Errorf("%w: %q", definition.ErrUnknownAction, name)
		}
	}
	return nil
}
