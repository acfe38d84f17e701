package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/guard"
	"github.com/garyjia/workflow-engine/internal/infrastructure/export"
	"github.com/garyjia/workflow-engine/internal/infrastructure/metrics"
	"github.com/garyjia/workflow-engine/pkg/database"
	"github.com/garyjia/workflow-engine/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB        *database.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle

	// Infrastructure - External
	external *ExternalBundle
	metrics  *metrics.Recorder
	exporter *export.HistoryExporter

	// Application
	actions    *action.Registry
	executor   *action.Executor
	guards     *guard.Evaluator
	dispatcher dispatcher.Dispatcher
	workflow   workflow.WorkflowEngine
	services   *ServiceBundle

	// Lifecycle
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	closers []namedCloser
	ready   atomic.Bool
	closed  atomic.Bool
}

type namedCloser struct {
	name  string
	close func() error
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// startStep is one stage of Start. Stages that acquire resources push a
// closer, and closers run newest first on failure and on Close.
type startStep struct {
	name string
	run  func() error
}

// Start wires the components in dependency order: store, outbound clients,
// actions, events and engine, services, then seed definitions.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed.Load():
		return fmt.Errorf("container has been closed")
	case c.ready.Load():
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	steps := []startStep{
		{"database", c.initDatabase},
		{"external clients", c.initExternalClients},
		{"actions", c.initActions},
		{"dispatcher and workflow", c.initDispatcherAndWorkflow},
		{"services", c.initServices},
		{"seed definitions", c.seedDefinitions},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			c.logger.Error("Container step failed", zap.String("step", step.name), zap.Error(err))
			c.unwind()
			c.cancel()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Debug("Container step done", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Workflow engine ready",
		zap.String("driver", c.config.Database.Driver),
		zap.Strings("actions", c.actions.Names()))
	return nil
}

// onClose registers a closer for Close and for a failed Start
func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

// unwind runs the registered closers newest first and returns their failures
func (c *Container) unwind() []error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.close(); err != nil {
			c.logger.Error("Failed to close component", zap.String("component", cl.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
			continue
		}
		c.logger.Info("Component closed", zap.String("component", cl.name))
	}
	c.closers = nil
	return errs
}

// Close drains the event queue and then closes the store.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)
	if c.cancel != nil {
		c.cancel()
	}

	if errs := c.unwind(); len(errs) > 0 {
		return fmt.Errorf("container closed with errors: %w", errors.Join(errs...))
	}
	c.logger.Info("Container closed")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	mark := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	switch {
	case c.closed.Load():
		mark("database", ComponentHealth{Message: "closed"})
	case c.repositories == nil:
		mark("database", ComponentHealth{Message: "not initialized"})
	case c.sqlDB == nil:
		mark("database", ComponentHealth{Healthy: true, Message: "in-memory"})
	default:
		if err := c.sqlDB.Ping(); err != nil {
			mark("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			mark("database", ComponentHealth{Healthy: true})
		}
	}

	if c.workflow != nil && c.dispatcher != nil {
		mark("engine", ComponentHealth{Healthy: true})
		// Dropped events degrade observers only; the ledger is unaffected
		msg := ""
		if dropped := c.dispatcher.Dropped(); dropped > 0 {
			msg = fmt.Sprintf("%d events dropped", dropped)
		}
		status.Components["events"] = ComponentHealth{Healthy: true, Message: msg}
	} else {
		mark("engine", ComponentHealth{Message: "not initialized"})
	}

	// Optional integrations report state without affecting Overall
	if c.external != nil && c.external.Recommender != nil {
		status.Components["suggestions"] = ComponentHealth{Healthy: true, Message: c.config.OpenAI.Model}
	} else {
		status.Components["suggestions"] = ComponentHealth{Healthy: true, Message: "disabled"}
	}
	if c.external != nil && c.external.Messenger != nil {
		status.Components["lark"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["lark"] = ComponentHealth{Healthy: true, Message: "disabled"}
	}

	return status
}

// initDatabase opens the store and creates the repositories.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(c.ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = bundle.SQL
	c.txManager = bundle.TxManager
	c.repositories = bundle.Repositories
	if c.sqlDB != nil {
		c.onClose("database", c.sqlDB.Close)
	}
	return nil
}

// initExternalClients creates the OpenAI and Lark clients when enabled.
func (c *Container) initExternalClients() error {
	external, err := ProvideExternalClients(c.config, c.logger)
	if err != nil {
		return err
	}
	c.external = external
	c.metrics = ProvideMetrics()
	c.exporter = export.NewHistoryExporter(c.logger)
	return nil
}

// initActions builds the action registry, its executor and the guard evaluator.
func (c *Container) initActions() error {
	registry, executor, err := ProvideActions(&c.config.Engine, c.external.Messenger, c.logger)
	if err != nil {
		return err
	}
	c.actions = registry
	c.executor = executor
	c.guards = ProvideGuardEvaluator(&c.config.Engine)
	return nil
}

// initDispatcherAndWorkflow creates the event dispatcher and the workflow engine.
func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(&c.config.Engine, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.onClose("dispatcher", disp.Close)

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Executor:   c.executor,
		Guards:     c.guards,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Engine:     &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine
	return nil
}

// initServices creates the definition service and suggestion gateway.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:       c.repositories,
		TxManager:   c.txManager,
		Actions:     c.actions,
		Guards:      c.guards,
		Engine:      c.workflow,
		Dispatcher:  c.dispatcher,
		Recommender: c.external.Recommender,
		Metrics:     c.metrics,
		Suggestion:  &c.config.Suggestion,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// seedDefinitions loads definition files from the configured directory.
func (c *Container) seedDefinitions() error {
	dir := c.config.Definitions.SeedDir
	if dir == "" {
		return nil
	}

	loader := service.NewSeedLoader(c.services.Definitions, utils.NewKVLogger(c.logger),
		service.WithActivation(c.config.Definitions.Activate))
	created, err := loader.LoadDir(c.ctx, dir)
	if err != nil {
		return err
	}
	c.logger.Info("Definitions seeded", zap.String("dir", dir), zap.Int("created", created))
	return nil
}

// Getters for accessing container components

// TxManager returns the transaction manager.
func (c *Container) TxManager() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Actions returns the action registry.
func (c *Container) Actions() *action.Registry {
	return c.actions
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Metrics returns the Prometheus recorder.
func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// Exporter returns the history workbook exporter.
func (c *Container) Exporter() *export.HistoryExporter {
	return c.exporter
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
