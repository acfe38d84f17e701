package workflow

import "errors"

var (
	// ErrValidation is returned when a definition is malformed or invalid
	ErrValidation = errors.New("workflow: validation error")

	// ErrNotFound is returned when an instance or definition does not exist
	ErrNotFound = errors.New("workflow: not found")

	// ErrInvalidState is returned when an operation targets a non-running instance
	ErrInvalidState = errors.New("workflow: invalid instance state")

	// ErrIllegalTransition is returned when the requested edge is not declared from the current state
	ErrIllegalTransition = errors.New("workflow: illegal transition")

	// ErrConflict is returned when a concurrent mutation of the same instance wins the race
	ErrConflict = errors.New("workflow: concurrent modification")

	// ErrDefinitionImmutable is returned when revising a definition that is no longer a draft
	ErrDefinitionImmutable = errors.New("workflow: definition is immutable")

	// ErrDefinitionArchived is returned when activating or revising an archived definition
	ErrDefinitionArchived = errors.New("workflow: definition is archived")

	// ErrDefinitionNotActive is returned when starting an instance against a draft or archived definition
	ErrDefinitionNotActive = errors.New("workflow: definition is not active")
)
