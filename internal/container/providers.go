package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/action"
	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/suggestion"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	"github.com/garyjia/workflow-engine/internal/domain/guard"
	"github.com/garyjia/workflow-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/workflow-engine/internal/infrastructure/external/openai"
	"github.com/garyjia/workflow-engine/internal/infrastructure/metrics"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/memory"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/workflow-engine/pkg/database"
	"github.com/garyjia/workflow-engine/pkg/utils"
)

// DatabaseBundle holds the storage backend. SQL is nil for the memory driver.
type DatabaseBundle struct {
	SQL          *database.DB
	TxManager    port.TransactionManager
	Repositories *RepositoryBundle
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Definition port.DefinitionRepository
	Instance   port.InstanceRepository
	History    port.HistoryRepository
}

// ExternalBundle holds optional outbound integrations; disabled ones are nil.
type ExternalBundle struct {
	Recommender port.Recommender
	Messenger   port.MessageSender
}

// ProvideDatabase opens the configured backend. The sqlite driver applies the
// embedded migrations before returning.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &DatabaseBundle{
			TxManager: store,
			Repositories: &RepositoryBundle{
				Definition: store.Definitions(),
				Instance:   store.Instances(),
				History:    store.History(),
			},
		}, nil
	}

	sqlDB, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(sqlDB, logger).Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := sqlite.NewDB(sqlDB.DB, logger, sqlite.WithBusyRetries(cfg.BusyRetries, 0))
	return &DatabaseBundle{
		SQL:          sqlDB,
		TxManager:    db,
		Repositories: ProvideRepositories(db, logger),
	}, nil
}

// ProvideRepositories creates the SQLite repositories over one transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Definition: repository.NewDefinitionRepository(db, logger),
		Instance:   repository.NewInstanceRepository(db, logger),
		History:    repository.NewHistoryRepository(db, logger),
	}
}

// ProvideExternalClients builds the recommender and Lark messenger when enabled.
func ProvideExternalClients(cfg *Config, logger *zap.Logger) (*ExternalBundle, error) {
	bundle := &ExternalBundle{}

	if cfg.Suggestion.Enabled {
		prompts := openai.DefaultPrompts()
		if cfg.OpenAI.PromptsPath != "" {
			loaded, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load prompts: %w", err)
			}
			prompts = loaded
		}
		bundle.Recommender = openai.NewRecommender(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			MaxResults: cfg.Suggestion.MaxResults,
		}, prompts, logger)
		logger.Info("OpenAI recommender enabled", zap.String("model", cfg.OpenAI.Model))
	}

	if cfg.Lark.Enabled {
		bundle.Messenger = lark.NewMessenger(lark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
			Timeout:   cfg.Lark.Timeout,
		}, logger.Named("lark"))
		logger.Info("Lark messenger enabled", zap.String("app_id", cfg.Lark.AppID))
	}

	return bundle, nil
}

// ProvideActions registers the builtin actions plus send-notification when a
// messenger is configured, and wraps them in an executor.
func ProvideActions(cfg *EngineConfig, messenger port.MessageSender, logger *zap.Logger) (*action.Registry, *action.Executor, error) {
	registry := action.NewRegistry()
	if err := action.RegisterBuiltins(registry, nil); err != nil {
		return nil, nil, err
	}

	if messenger != nil {
		if err := registry.Register(lark.NotifyAction, lark.NewNotifier(messenger, logger)); err != nil {
			return nil, nil, err
		}
	}

	executor := action.NewExecutor(registry,
		action.WithTimeout(cfg.ActionTimeout),
		action.WithLogger(utils.NewKVLogger(logger)),
	)
	return registry, executor, nil
}

// ProvideGuardEvaluator creates the guard evaluator with configured limits.
func ProvideGuardEvaluator(cfg *EngineConfig) *guard.Evaluator {
	return guard.NewEvaluator(
		guard.WithStepBudget(cfg.GuardStepBudget),
		guard.WithMaxLength(cfg.GuardMaxLength),
		guard.WithCacheSize(cfg.GuardCacheSize),
	)
}

// ProvideDispatcher creates the event dispatcher and subscribes the event log.
func ProvideDispatcher(cfg *EngineConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger)),
		dispatcher.WithQueueSize(cfg.EventQueueSize),
	)

	eventLog := logger.Named("events")
	err := disp.Subscribe(dispatcher.Subscription{
		Name: "event-log",
		Handle: func(ctx context.Context, evt *event.Event) error {
			eventLog.Info("Workflow event",
				zap.String("type", evt.Type.String()),
				zap.String("instance_id", evt.InstanceID),
				zap.String("definition_id", evt.DefinitionID),
				zap.String("correlation_id", evt.CorrelationID),
				zap.Bool("terminal", evt.Type.Terminal()),
				zap.Any("payload", evt.Payload),
			)
			return nil
		},
	})
	if err != nil {
		disp.Close()
		return nil, fmt.Errorf("subscribe event log: %w", err)
	}
	return disp, nil
}

// WorkflowDeps contains dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Executor   *action.Executor
	Guards     *guard.Evaluator
	Dispatcher dispatcher.Dispatcher
	Metrics    port.MetricsRecorder
	Engine     *EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}

	return workflow.NewEngine(
		deps.Repos.Definition,
		deps.Repos.Instance,
		deps.Repos.History,
		deps.TxManager,
		deps.Executor,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithGuardEvaluator(deps.Guards),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithLogger(utils.NewKVLogger(deps.Logger)),
		workflow.WithDefaultActionPolicy(deps.Engine.DefaultActionPolicy),
		workflow.WithCacheExpiry(deps.Engine.DefinitionCacheTTL),
	), nil
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Definitions service.DefinitionService
	Suggestions *suggestion.Gateway
}

// ServiceDeps contains dependencies for application services.
type ServiceDeps struct {
	Repos       *RepositoryBundle
	TxManager   port.TransactionManager
	Actions     *action.Registry
	Guards      *guard.Evaluator
	Engine      workflow.WorkflowEngine
	Dispatcher  dispatcher.Dispatcher
	Recommender port.Recommender
	Metrics     port.MetricsRecorder
	Suggestion  *SuggestionConfig
	Logger      *zap.Logger
}

// ProvideServices creates the definition service and the suggestion gateway.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}

	kv := utils.NewKVLogger(deps.Logger)
	definitions := service.NewDefinitionService(
		deps.Repos.Definition,
		deps.Repos.Instance,
		deps.TxManager,
		deps.Actions,
		deps.Guards,
		kv,
		service.WithEvents(deps.Dispatcher),
	)

	gateway := suggestion.NewGateway(deps.Engine, deps.Recommender,
		suggestion.WithTimeout(deps.Suggestion.Timeout),
		suggestion.WithMaxResults(deps.Suggestion.MaxResults),
		suggestion.WithHistory(deps.Suggestion.IncludeHistory),
		suggestion.WithMetrics(deps.Metrics),
		suggestion.WithLogger(kv),
	)

	return &ServiceBundle{
		Definitions: definitions,
		Suggestions: gateway,
	}, nil
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.NewRecorder()
}
