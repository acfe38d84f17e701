package definition

import (
	"fmt"

	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Every error below wraps workflow.ErrValidation.
var (
	// ErrNotObject indicates the raw input is not a JSON/YAML object.
	ErrNotObject = fmt.Errorf("%w: definition must be an object", workflow.ErrValidation)
	// ErrStatesRequired indicates the definition declares no states.
	ErrStatesRequired = fmt.Errorf("%w: definition requires at least one state", workflow.ErrValidation)
	// ErrStateNameRequired indicates a state is missing its name.
	ErrStateNameRequired = fmt.Errorf("%w: state name required", workflow.ErrValidation)
	// ErrDuplicateState indicates duplicate state names were declared.
	ErrDuplicateState = fmt.Errorf("%w: duplicate state", workflow.ErrValidation)
	// ErrNoInitialState indicates no state is marked initial.
	ErrNoInitialState = fmt.Errorf("%w: no initial state", workflow.ErrValidation)
	// ErrMultipleInitialStates indicates more than one state is marked initial.
	ErrMultipleInitialStates = fmt.Errorf("%w: more than one initial state", workflow.ErrValidation)
	// ErrUnknownTransitionState indicates a transition references a state that was not declared.
	ErrUnknownTransitionState = fmt.Errorf("%w: transition references undeclared state", workflow.ErrValidation)
	// ErrInvalidStatus indicates the definition status is not draft, active or archived.
	ErrInvalidStatus = fmt.Errorf("%w: invalid definition status", workflow.ErrValidation)
	// ErrInvalidActionPolicy indicates a transition declares an unsupported action policy.
	ErrInvalidActionPolicy = fmt.Errorf("%w: invalid action policy", workflow.ErrValidation)
	// ErrUnknownAction indicates a transition names an action with no registered handler.
	ErrUnknownAction = fmt.Errorf("%w: unknown action", workflow.ErrValidation)
	// ErrInvalidGuard indicates a guard expression does not compile.
	ErrInvalidGuard = fmt.Errorf("%w: invalid guard expression", workflow.ErrValidation)
)
