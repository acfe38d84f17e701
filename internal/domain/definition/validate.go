package definition

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

var (
	statusRule = validation.In(
		entity.DefinitionStatusDraft,
		entity.DefinitionStatusActive,
		entity.DefinitionStatusArchived,
	)
	policyRule = validation.In(
		entity.ActionPolicyContinue,
		entity.ActionPolicyAbort,
		entity.ActionPolicyFail,
	)
)

// Validate checks a canonical definition without repairing anything.
// The returned error wraps one of the package sentinels.
func Validate(def *entity.WorkflowDefinition) error {
	if def == nil {
		return ErrNotObject
	}
	if len(def.States) == 0 {
		return ErrStatesRequired
	}
	if err := validation.Validate(def.Status, statusRule); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, def.Status)
	}

	declared := make(map[string]struct{}, len(def.States))
	initial := 0
	for i, s := range def.States {
		if err := validation.Validate(strings.TrimSpace(s.Name), validation.Required); err != nil {
			return fmt.Errorf("%w: state at index %d", ErrStateNameRequired, i)
		}
		if _, dup := declared[s.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateState, s.Name)
		}
		declared[s.Name] = struct{}{}
		if s.Initial {
			initial++
		}
	}
	switch {
	case initial == 0:
		return ErrNoInitialState
	case initial > 1:
		return ErrMultipleInitialStates
	}

	for _, t := range def.Transitions {
		for _, name := range []string{t.From, t.To} {
			if _, ok := declared[name]; !ok {
				return fmt.Errorf("%w: %s -> %s references %q", ErrUnknownTransitionState, t.From, t.To, name)
			}
		}
		if err := validation.Validate(t.ActionPolicy, policyRule); err != nil {
			return fmt.Errorf("%w: %s -> %s has %q", ErrInvalidActionPolicy, t.From, t.To, t.ActionPolicy)
		}
	}
	return nil
}

// ValidateRaw reports why raw does not produce a valid definition, or nil
// when Normalize followed by Validate would succeed.
func ValidateRaw(raw any) error {
	switch Classify(raw) {
	case KindNotObject:
		return ErrNotObject
	case KindEmpty:
		return ErrStatesRequired
	}

	obj, _ := asObject(raw)
	if err := checkStateNames(obj); err != nil {
		return err
	}

	def, ok := Normalize(raw)
	if !ok {
		return unusableStates(raw)
	}
	return Validate(def)
}

// checkStateNames rejects a declared states list holding a blank or repeated
// name. Names compare after trimming.
func checkStateNames(obj map[string]any) error {
	items := asList(obj["states"])
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		s, _ := readState(item)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("%w: state at index %d", ErrStateNameRequired, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s at index %d", ErrDuplicateState, name, i)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ValidateHeader checks the fields a stored definition needs beyond its graph
func ValidateHeader(def *entity.WorkflowDefinition) error {
	err := validation.ValidateStruct(def,
		validation.Field(&def.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&def.EntityType, validation.Required, validation.Length(1, 100)),
		validation.Field(&def.Version, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrValidation, err)
	}
	return nil
}

// unusableStates explains a raw input from which no state could be derived
func unusableStates(raw any) error {
	obj, _ := asObject(raw)
	for i, item := range asList(obj["states"]) {
		s, _ := readState(item)
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: state at index %d", ErrStateNameRequired, i)
		}
	}
	for i, item := range asList(obj["transitions"]) {
		t, _ := asObject(item)
		if stringField(t, "from", "source") == "" || stringField(t, "to", "target") == "" {
			return fmt.Errorf("%w: transition at index %d needs from and to", ErrUnknownTransitionState, i)
		}
	}
	return ErrStatesRequired
}
