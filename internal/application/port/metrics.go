package port

import "time"

// MetricsRecorder receives engine measurements. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	InstanceStarted(definitionID string)
	TransitionAttempted(definitionID, outcome string, elapsed time.Duration)
	ActionExecuted(action string, err error, elapsed time.Duration)
	InstanceFinished(definitionID, status string)
	SuggestionsServed(offered, accepted int, err error)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) InstanceStarted(string)                            {}
func (NopMetrics) TransitionAttempted(string, string, time.Duration) {}
func (NopMetrics) ActionExecuted(string, error, time.Duration)       {}
func (NopMetrics) InstanceFinished(string, string)                   {}
func (NopMetrics) SuggestionsServed(int, int, error)                 {}
