package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	"github.com/garyjia/workflow-engine/internal/domain/guard"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// ErrHistoryInconsistent is returned by VerifyHistory when the ledger does
// not replay over the bound definition.
var ErrHistoryInconsistent = errors.New("workflow: history does not follow the definition graph")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	historyRepo    port.HistoryRepository
	txManager      port.TransactionManager
	actions        *action.Executor
	guards         *guard.Evaluator
	dispatcher     dispatcher.Dispatcher
	metrics        port.MetricsRecorder
	logger         Logger

	now           func() time.Time
	newID         func() string
	defaultPolicy string
	cacheExpiry   time.Duration

	graphs *graphCache
	locks  *instanceLocks
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithGuardEvaluator replaces the default guard evaluator
func WithGuardEvaluator(g *guard.Evaluator) EngineOption {
	return func(e *engineImpl) {
		if g != nil {
			e.guards = g
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m port.MetricsRecorder) EngineOption {
	return func(e *engineImpl) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides instance id generation
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *engineImpl) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithDefaultActionPolicy sets the policy for transitions that declare none
func WithDefaultActionPolicy(policy string) EngineOption {
	return func(e *engineImpl) {
		switch policy {
		case entity.ActionPolicyContinue, entity.ActionPolicyAbort, entity.ActionPolicyFail:
			e.defaultPolicy = policy
		}
	}
}

// WithCacheExpiry sets how long compiled definitions stay cached while idle
func WithCacheExpiry(expiry time.Duration) EngineOption {
	return func(e *engineImpl) {
		if expiry > 0 {
			e.cacheExpiry = expiry
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	actions *action.Executor,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		historyRepo:    historyRepo,
		txManager:      txManager,
		actions:        actions,
		guards:         guard.NewEvaluator(),
		metrics:        port.NopMetrics{},
		logger:         nopLogger{},
		now:            time.Now,
		newID:          uuid.NewString,
		defaultPolicy:  entity.ActionPolicyContinue,
		cacheExpiry:    30 * time.Minute,
		locks:          newInstanceLocks(),
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.actions == nil {
		e.actions = action.NewExecutor(action.NewRegistry())
	}
	e.graphs = newGraphCache(definitionRepo, e.cacheExpiry, e.now)

	return e
}

// StartInstance creates a running instance in the definition's initial state
func (e *engineImpl) StartInstance(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error) {
	if req.DefinitionID == "" || req.EntityID == "" {
		return nil, fmt.Errorf("%w: definitionId and entityId are required", domainwf.ErrValidation)
	}

	def, err := e.definitionRepo.GetByID(ctx, req.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: definition %s", domainwf.ErrNotFound, req.DefinitionID)
	}
	if def.Status != entity.DefinitionStatusActive {
		return nil, fmt.Errorf("%w: definition %s is %s", domainwf.ErrDefinitionNotActive, def.ID, def.Status)
	}
	if req.EntityType != "" && req.EntityType != def.EntityType {
		return nil, fmt.Errorf("%w: definition governs %q, not %q", domainwf.ErrValidation, def.EntityType, req.EntityType)
	}

	graph, err := e.graphs.get(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	inst := &entity.WorkflowInstance{
		ID:                   e.newID(),
		WorkflowDefinitionID: def.ID,
		EntityType:           def.EntityType,
		EntityID:             req.EntityID,
		CurrentState:         graph.Initial(),
		Context:              entity.CloneMap(req.Context),
		Status:               entity.InstanceStatusRunning,
		Version:              1,
		StartedAt:            now,
	}
	if inst.Context == nil {
		inst.Context = map[string]any{}
	}
	if graph.IsFinal(inst.CurrentState) {
		inst.Status = entity.InstanceStatusCompleted
		inst.CompletedAt = &now
	}

	started := &entity.WorkflowHistory{
		InstanceID:  inst.ID,
		ToState:     inst.CurrentState,
		TriggeredBy: entity.StringPtr(req.TriggeredBy),
		Timestamp:   now,
		GuardResult: entity.GuardResult{Passed: true},
		Metadata:    map[string]any{entity.HistoryMetaOutcome: entity.OutcomeStarted},
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Create(txCtx, inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		if err := e.historyRepo.Append(txCtx, started); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow instance started",
		"instance_id", inst.ID,
		"definition_id", def.ID,
		"entity_id", inst.EntityID,
		"state", inst.CurrentState,
	)
	e.metrics.InstanceStarted(def.ID)

	evt := event.NewEvent(event.TypeInstanceStarted, inst.ID, def.ID, map[string]interface{}{
		event.PayloadToState:    inst.CurrentState,
		event.PayloadEntityType: inst.EntityType,
		event.PayloadEntityID:   inst.EntityID,
	})
	e.emit(ctx, evt)
	if !inst.IsRunning() {
		e.metrics.InstanceFinished(def.ID, inst.Status)
		e.emit(ctx, evt.Follow(event.TypeInstanceCompleted, nil))
	}

	return inst.Clone(), nil
}

// ExecuteTransition attempts currentState -> req.ToState
func (e *engineImpl) ExecuteTransition(ctx context.Context, req TransitionRequest) (*TransitionOutcome, error) {
	if req.InstanceID == "" || req.ToState == "" {
		return nil, fmt.Errorf("%w: instanceId and toState are required", domainwf.ErrValidation)
	}

	release, ok := e.locks.tryLock(req.InstanceID)
	if !ok {
		return nil, fmt.Errorf("%w: instance %s has a transition in flight", domainwf.ErrConflict, req.InstanceID)
	}
	defer release()

	start := e.now()
	inst, err := e.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if !inst.IsRunning() {
		return nil, fmt.Errorf("%w: instance %s is %s", domainwf.ErrInvalidState, inst.ID, inst.Status)
	}
	if req.ExpectedState != "" && req.ExpectedState != inst.CurrentState {
		return nil, fmt.Errorf("%w: instance %s is in %q, caller expected %q",
			domainwf.ErrConflict, inst.ID, inst.CurrentState, req.ExpectedState)
	}

	graph, err := e.graphs.get(ctx, inst.WorkflowDefinitionID)
	if err != nil {
		return nil, err
	}

	from := inst.CurrentState
	tr, ok := graph.Transition(from, req.ToState)
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", domainwf.ErrIllegalTransition, from, req.ToState)
	}

	hist := &entity.WorkflowHistory{
		InstanceID:  inst.ID,
		FromState:   entity.StringPtr(from),
		ToState:     tr.To,
		TriggeredBy: entity.StringPtr(req.TriggeredBy),
		Metadata:    entity.CloneMap(req.Metadata),
	}
	if hist.Metadata == nil {
		hist.Metadata = map[string]any{}
	}

	verdict := e.guards.Evaluate(tr.Guard, inst.Context, req.Entity)
	hist.GuardResult = entity.GuardResult{Passed: verdict.Passed, Expression: tr.Guard, Error: verdict.Error}

	next := inst.Clone()
	outcome := entity.OutcomeApplied
	reason := ""

	switch {
	case !verdict.Passed:
		outcome = entity.OutcomeGuardRejected
		reason = rejectionReason(tr, verdict)
	case tr.Action != "":
		res := e.actions.Execute(ctx, &action.Request{
			Action:     tr.Action,
			Instance:   inst.Clone(),
			Entity:     entity.CloneMap(req.Entity),
			Transition: tr,
		})
		hist.ActionResult = entity.ActionResult{Executed: res.Executed, Action: tr.Action, Error: res.Error}
		e.metrics.ActionExecuted(tr.Action, actionErr(res), res.Elapsed)

		policy := tr.ActionPolicy
		if policy == "" {
			policy = e.defaultPolicy
		}
		hist.Metadata["actionPolicy"] = policy

		if res.Executed {
			if res.Effect != nil {
				next.Context = mergeContext(next.Context, res.Effect.ContextPatch)
			}
			break
		}
		reason = fmt.Sprintf("action %s failed: %s", tr.Action, res.Error)
		switch policy {
		case entity.ActionPolicyAbort:
			outcome = entity.OutcomeActionAborted
		case entity.ActionPolicyFail:
			outcome = entity.OutcomeFailed
		}
	}
	hist.Metadata[entity.HistoryMetaOutcome] = outcome

	now := e.now()
	hist.Timestamp = now
	mutated := false
	switch outcome {
	case entity.OutcomeApplied:
		next.CurrentState = tr.To
		if graph.IsFinal(tr.To) {
			next.Status = entity.InstanceStatusCompleted
			next.CompletedAt = &now
		}
		mutated = true
	case entity.OutcomeFailed:
		next.Status = entity.InstanceStatusFailed
		next.CompletedAt = &now
		mutated = true
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if mutated {
			if err := e.instanceRepo.Update(txCtx, next, inst.Version); err != nil {
				return fmt.Errorf("failed to update instance: %w", err)
			}
		}
		if err := e.historyRepo.Append(txCtx, hist); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Transition not persisted",
			"instance_id", inst.ID,
			"from", from,
			"to", tr.To,
			"error", err,
		)
		return nil, err
	}
	if !mutated {
		next = inst
	}

	e.logger.Info("Transition attempted",
		"instance_id", inst.ID,
		"from", from,
		"to", tr.To,
		"outcome", outcome,
		"status", next.Status,
	)
	e.metrics.TransitionAttempted(inst.WorkflowDefinitionID, outcome, e.now().Sub(start))
	e.announce(ctx, next, hist, outcome)

	return &TransitionOutcome{
		Outcome:   outcome,
		Instance:  next.Clone(),
		History:   hist,
		Reason:    reason,
		Available: e.preview(graph, next, req.Entity),
	}, nil
}

// AvailableTransitions previews every edge leaving the current state
func (e *engineImpl) AvailableTransitions(ctx context.Context, instanceID string, entitySnapshot map[string]any) ([]AvailableTransition, error) {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	graph, err := e.graphs.get(ctx, inst.WorkflowDefinitionID)
	if err != nil {
		return nil, err
	}
	return e.preview(graph, inst, entitySnapshot), nil
}

// Inspect loads an instance with its bound definition and transition preview.
// The definition is read fresh so its status reflects archiving.
func (e *engineImpl) Inspect(ctx context.Context, instanceID string, entitySnapshot map[string]any) (*InstanceView, error) {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, err := e.definitionRepo.GetByID(ctx, inst.WorkflowDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: definition %s", domainwf.ErrNotFound, inst.WorkflowDefinitionID)
	}
	graph, err := e.graphs.get(ctx, inst.WorkflowDefinitionID)
	if err != nil {
		return nil, err
	}
	return &InstanceView{
		Definition: def,
		Instance:   inst,
		Available:  e.preview(graph, inst, entitySnapshot),
	}, nil
}

// CancelInstance terminates a running instance
func (e *engineImpl) CancelInstance(ctx context.Context, req CancelRequest) (*entity.WorkflowInstance, error) {
	release, ok := e.locks.tryLock(req.InstanceID)
	if !ok {
		return nil, fmt.Errorf("%w: instance %s has a transition in flight", domainwf.ErrConflict, req.InstanceID)
	}
	defer release()

	inst, err := e.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if !inst.IsRunning() {
		return nil, fmt.Errorf("%w: instance %s is %s", domainwf.ErrInvalidState, inst.ID, inst.Status)
	}

	now := e.now()
	next := inst.Clone()
	next.Status = entity.InstanceStatusCancelled
	next.CompletedAt = &now

	meta := map[string]any{
		entity.HistoryMetaOutcome: entity.OutcomeCancelled,
		"event":                   "cancelled",
	}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	hist := &entity.WorkflowHistory{
		InstanceID:  inst.ID,
		FromState:   entity.StringPtr(inst.CurrentState),
		ToState:     inst.CurrentState,
		TriggeredBy: entity.StringPtr(req.TriggeredBy),
		Timestamp:   now,
		GuardResult: entity.GuardResult{Passed: true},
		Metadata:    meta,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Update(txCtx, next, inst.Version); err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
		if err := e.historyRepo.Append(txCtx, hist); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow instance cancelled", "instance_id", inst.ID, "state", inst.CurrentState)
	e.announce(ctx, next, hist, entity.OutcomeCancelled)

	return next.Clone(), nil
}

// GetInstance returns an instance or ErrNotFound
func (e *engineImpl) GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	return e.loadInstance(ctx, instanceID)
}

// History returns the ledger of an instance in order
func (e *engineImpl) History(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error) {
	if _, err := e.loadInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	entries, err := e.historyRepo.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// VerifyHistory replays the entered states over the bound graph
func (e *engineImpl) VerifyHistory(ctx context.Context, instanceID string) error {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	graph, err := e.graphs.get(ctx, inst.WorkflowDefinitionID)
	if err != nil {
		return err
	}
	entries, err := e.historyRepo.ListByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	path := make([]string, 0, len(entries))
	for i, h := range entries {
		if i > 0 && h.Sequence <= entries[i-1].Sequence {
			return fmt.Errorf("%w: sequence %d follows %d", ErrHistoryInconsistent, h.Sequence, entries[i-1].Sequence)
		}
		if h.EnteredState() {
			path = append(path, h.ToState)
		}
	}
	if !graph.IsWalk(path) {
		return fmt.Errorf("%w: %v", ErrHistoryInconsistent, path)
	}
	if len(path) > 0 && path[len(path)-1] != inst.CurrentState {
		return fmt.Errorf("%w: ledger ends in %q, instance is in %q", ErrHistoryInconsistent, path[len(path)-1], inst.CurrentState)
	}
	return nil
}

func (e *engineImpl) loadInstance(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	inst, err := e.instanceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %s", domainwf.ErrNotFound, id)
	}
	return inst, nil
}

// preview evaluates every outgoing guard read-only
func (e *engineImpl) preview(g *domainwf.Graph, inst *entity.WorkflowInstance, entitySnapshot map[string]any) []AvailableTransition {
	out := []AvailableTransition{}
	if !inst.IsRunning() {
		return out
	}
	for _, t := range g.Outgoing(inst.CurrentState) {
		verdict := e.guards.Evaluate(t.Guard, inst.Context, entitySnapshot)
		out = append(out, AvailableTransition{
			From:        t.From,
			To:          t.To,
			Guard:       t.Guard,
			Action:      t.Action,
			GuardPassed: verdict.Passed,
			GuardError:  verdict.Error,
			Metadata:    entity.CloneMap(t.Metadata),
		})
	}
	return out
}

// announce emits the events describing a persisted attempt
func (e *engineImpl) announce(ctx context.Context, inst *entity.WorkflowInstance, hist *entity.WorkflowHistory, outcome string) {
	payload := map[string]interface{}{
		event.PayloadToState:    hist.ToState,
		event.PayloadOutcome:    outcome,
		event.PayloadSequence:   hist.Sequence,
		event.PayloadEntityType: inst.EntityType,
		event.PayloadEntityID:   inst.EntityID,
	}
	if hist.FromState != nil {
		payload[event.PayloadFromState] = *hist.FromState
	}
	if hist.TriggeredBy != nil {
		payload[event.PayloadTriggeredBy] = *hist.TriggeredBy
	}

	var evt *event.Event
	switch outcome {
	case entity.OutcomeApplied:
		evt = event.NewEvent(event.TypeTransitionCompleted, inst.ID, inst.WorkflowDefinitionID, payload)
	case entity.OutcomeGuardRejected, entity.OutcomeActionAborted:
		evt = event.NewEvent(event.TypeTransitionRejected, inst.ID, inst.WorkflowDefinitionID, payload)
	case entity.OutcomeFailed:
		evt = event.NewEvent(event.TypeInstanceFailed, inst.ID, inst.WorkflowDefinitionID, payload)
	case entity.OutcomeCancelled:
		evt = event.NewEvent(event.TypeInstanceCancelled, inst.ID, inst.WorkflowDefinitionID, payload)
	default:
		return
	}
	e.emit(ctx, evt)

	if outcome == entity.OutcomeApplied && inst.Status == entity.InstanceStatusCompleted {
		e.emit(ctx, evt.Follow(event.TypeInstanceCompleted, payload))
	}
	if !inst.IsRunning() {
		e.metrics.InstanceFinished(inst.WorkflowDefinitionID, inst.Status)
	}
}

func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	if id := event.CorrelationFrom(ctx); id != "" {
		evt.CorrelationID = id
	}
	e.dispatcher.DispatchAsync(ctx, evt)
}

func rejectionReason(tr entity.TransitionDefinition, verdict guard.Result) string {
	if verdict.Error != "" {
		return "transition not currently available, reason: " + verdict.Error
	}
	return fmt.Sprintf("transition not currently available, reason: guard %q not satisfied", tr.Guard)
}

func actionErr(res action.Result) error {
	if res.Executed {
		return nil
	}
	return errors.New(res.Error)
}

// mergeContext applies a patch; nil values delete keys
func mergeContext(ctx map[string]any, patch map[string]any) map[string]any {
	if len(patch) == 0 {
		return ctx
	}
	if ctx == nil {
		ctx = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(ctx, k)
			continue
		}
		ctx[k] = entity.CloneValue(v)
	}
	return ctx
}
