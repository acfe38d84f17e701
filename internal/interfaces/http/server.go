// Package http exposes the workflow engine over a gin JSON API.
// Handlers are thin: they bind requests, call the application layer and map
// domain errors to status codes.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Suggester returns advisory next transitions for an instance
type Suggester interface {
	Suggest(ctx context.Context, instanceID string, entitySnapshot map[string]any) ([]port.Suggestion, error)
}

// HistoryWriter renders an instance ledger as a downloadable document
type HistoryWriter interface {
	Write(w io.Writer, def *entity.WorkflowDefinition, inst *entity.WorkflowInstance, entries []*entity.WorkflowHistory) error
}

// HealthFunc reports overall health plus per-component details
type HealthFunc func() (healthy bool, details any)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the application components the API serves.
// Suggestions, Exporter, Metrics and Health are optional.
type Dependencies struct {
	Definitions service.DefinitionService
	Engine      workflow.WorkflowEngine
	Instances   port.InstanceRepository
	Suggestions Suggester
	Exporter    HistoryWriter
	Metrics     http.Handler
	Health      HealthFunc
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server with the given dependencies
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(s.recoveryHandler))
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(event.ContextWithCorrelation(c.Request.Context(), id))
		c.Next()
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

func (s *Server) recoveryHandler(c *gin.Context, recovered any) {
	s.logger.Error("Panic serving request",
		"path", c.Request.URL.Path,
		"panic", fmt.Sprint(recovered),
		"request_id", c.GetString("request_id"),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
		Success: false,
		Code:    CodeInternal,
		Error:   "internal server error",
	})
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1")
	{
		defs := api.Group("/definitions")
		defs.POST("", h.CreateDefinition)
		defs.POST("/normalize", h.NormalizeDefinition)
		defs.GET("", h.ListDefinitions)
		defs.GET("/:id", h.GetDefinition)
		defs.PUT("/:id", h.ReviseDefinition)
		defs.POST("/:id/activate", h.ActivateDefinition)
		defs.POST("/:id/archive", h.ArchiveDefinition)

		inst := api.Group("/instances")
		inst.POST("", h.StartInstance)
		inst.GET("", h.ListInstances)
		inst.GET("/:id", h.GetInstance)
		inst.POST("/:id/transitions", h.ExecuteTransition)
		inst.POST("/:id/available", h.AvailableTransitions)
		inst.POST("/:id/cancel", h.CancelInstance)
		inst.GET("/:id/history", h.History)
		inst.GET("/:id/history.xlsx", h.ExportHistory)
		inst.POST("/:id/suggestions", h.Suggestions)
	}
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.logger.Info("HTTP server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
