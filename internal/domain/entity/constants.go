package entity

// Status constants for WorkflowDefinition
const (
	DefinitionStatusDraft    = "draft"
	DefinitionStatusActive   = "active"
	DefinitionStatusArchived = "archived"
)

// Status constants for WorkflowInstance
const (
	InstanceStatusRunning   = "running"
	InstanceStatusCompleted = "completed"
	InstanceStatusFailed    = "failed"
	InstanceStatusCancelled = "cancelled"
)

// Action failure policies, declared per transition
const (
	ActionPolicyContinue = "continue" // record the failure, still enter the target state
	ActionPolicyAbort    = "abort"    // record the attempt, stay in the prior state
	ActionPolicyFail     = "fail"     // record the attempt, mark the instance failed
)

// History outcome values stored under HistoryMetaOutcome
const (
	OutcomeStarted       = "started"
	OutcomeApplied       = "applied"
	OutcomeGuardRejected = "guard_rejected"
	OutcomeActionAborted = "action_aborted"
	OutcomeFailed        = "failed"
	OutcomeCancelled     = "cancelled"
)

// HistoryMetaOutcome is the metadata key recording what an attempt did
const HistoryMetaOutcome = "outcome"
