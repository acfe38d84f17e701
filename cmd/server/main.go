package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/config"
	"github.com/garyjia/workflow-engine/internal/container"
	httpapi "github.com/garyjia/workflow-engine/internal/interfaces/http"
	"github.com/garyjia/workflow-engine/pkg/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("WORKFLOW_CONFIG"), "path to config.yaml (searches ./configs and . when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "workflow-engine",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting workflow engine",
		zap.String("address", cfg.Server.Address()),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("suggestions", cfg.Suggestion.Enabled),
		zap.Bool("lark", cfg.Lark.Enabled))

	if err := run(cfg, logger); err != nil {
		logger.Error("Workflow engine stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("Server exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	services := c.Services()
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.Dependencies{
		Definitions: services.Definitions,
		Engine:      c.WorkflowEngine(),
		Instances:   c.Repositories().Instance,
		Suggestions: services.Suggestions,
		Exporter:    c.Exporter(),
		Metrics:     c.Metrics().Handler(),
		Health: func() (bool, any) {
			h := c.Health()
			return h.Overall, h.Components
		},
	}, utils.NewKVLogger(logger.Named("http")))

	// Blocks until SIGINT/SIGTERM, then drains in-flight requests
	return server.Start(ctx)
}
