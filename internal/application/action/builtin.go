package action

import (
	"context"
	"fmt"
	"time"
)

// Built-in action names
const (
	SetContextAction = "set-context"
	StampAction      = "stamp"
)

// SetContext copies the transition's metadata "set" object into the
// instance context.
func SetContext() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		raw, ok := req.Transition.Metadata["set"]
		if !ok {
			return &Effect{}, nil
		}
		values, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set-context: metadata.set must be an object, got %T", raw)
		}
		patch := make(map[string]any, len(values))
		for k, v := range values {
			patch[k] = v
		}
		return &Effect{ContextPatch: patch}, nil
	})
}

// Stamp records when the instance entered the target state under
// "<state>_at" in the instance context.
func Stamp(now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return HandlerFunc(func(ctx context.Context, req *Request) (*Effect, error) {
		key := req.Transition.To + "_at"
		return &Effect{ContextPatch: map[string]any{key: now().UTC().Format(time.RFC3339)}}, nil
	})
}

// RegisterBuiltins adds the built-in handlers to r
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if err := r.Register(SetContextAction, SetContext()); err != nil {
		return err
	}
	return r.Register(StampAction, Stamp(now))
}
