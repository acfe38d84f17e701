package action

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownAction is reported when no handler is registered under a name
var ErrUnknownAction = errors.New("unknown action")

// DefaultTimeout bounds a single handler invocation
const DefaultTimeout = 5 * time.Second

// Result captures one action invocation
type Result struct {
	Executed bool
	Action   string
	Error    string
	Effect   *Effect
	Elapsed  time.Duration
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Executor dispatches actions to registered handlers with a timeout
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets a logger for the executor
func WithLogger(logger Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor over registry
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the per-invocation bound
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Execute runs req.Action. Failures, panics and timeouts come back as
// Executed=false with an error message; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, req *Request) Result {
	start := time.Now()
	res := Result{Action: req.Action}

	handler, ok := e.registry.Lookup(req.Action)
	if !ok {
		res.Error = ErrUnknownAction.Error()
		e.logFailure(req, res.Error)
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		effect *Effect
		err    error
	}
	// buffered so an abandoned handler can still finish its send
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("action panic: %v", r)}
			}
		}()
		effect, err := handler.Handle(runCtx, req)
		done <- outcome{effect: effect, err: err}
	}()

	select {
	case out := <-done:
		res.Elapsed = time.Since(start)
		if out.err != nil {
			res.Error = out.err.Error()
			e.logFailure(req, res.Error)
			return res
		}
		res.Executed = true
		res.Effect = out.effect
		return res
	case <-runCtx.Done():
		res.Elapsed = time.Since(start)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("action timed out after %s", e.timeout)
		} else {
			res.Error = fmt.Sprintf("action cancelled: %v", runCtx.Err())
		}
		e.logFailure(req, res.Error)
		return res
	}
}

func (e *Executor) logFailure(req *Request, msg string) {
	if e.logger == nil {
		return
	}
	instanceID := ""
	if req.Instance != nil {
		instanceID = req.Instance.ID
	}
	e.logger.Error("Action failed",
		"action", req.Action,
		"instance_id", instanceID,
		"error", msg,
	)
}
