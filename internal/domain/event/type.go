package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceStarted     Type = "instance.started"
	TypeTransitionCompleted Type = "transition.completed"
	TypeTransitionRejected  Type = "transition.rejected"
	TypeInstanceCompleted   Type = "instance.completed"
	TypeInstanceFailed      Type = "instance.failed"
	TypeInstanceCancelled   Type = "instance.cancelled"
	TypeDefinitionActivated Type = "definition.activated"
	TypeDefinitionArchived  Type = "definition.archived"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceStarted,
		TypeTransitionCompleted,
		TypeTransitionRejected,
		TypeInstanceCompleted,
		TypeInstanceFailed,
		TypeInstanceCancelled,
		TypeDefinitionActivated,
		TypeDefinitionArchived:
		return true
	default:
		return false
	}
}

// Terminal reports whether the event announces the end of an instance
func (t Type) Terminal() bool {
	return t == TypeInstanceCompleted || t == TypeInstanceFailed || t == TypeInstanceCancelled
}
