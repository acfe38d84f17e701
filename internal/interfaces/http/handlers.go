package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	Components any    `json:"components,omitempty"`
}

// HistoryResponse is the ledger with an optional walk verification verdict
type HistoryResponse struct {
	Entries     []*entity.WorkflowHistory `json:"entries"`
	Verified    *bool                     `json:"verified,omitempty"`
	VerifyError string                    `json:"verifyError,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

// bindJSON decodes the body into dst. An empty body leaves dst untouched.
// Validation failures are reported as 422.
func bindJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(dst); err != nil {
			badRequest(c, fmt.Sprintf("invalid JSON body: %v", err))
			return false
		}
	}
	if v, isValidatable := dst.(validation.Validatable); isValidatable {
		if err := v.Validate(); err != nil {
			c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Code: CodeValidation, Error: err.Error()})
			return false
		}
	}
	return true
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.deps.Health != nil {
		healthy, details := h.deps.Health()
		resp.Components = details
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// --- definitions ---

func (h *Handlers) rawDefinition(c *gin.Context) (any, bool) {
	var raw any
	if err := c.ShouldBindJSON(&raw); err != nil {
		badRequest(c, fmt.Sprintf("invalid JSON body: %v", err))
		return nil, false
	}
	return raw, true
}

// NormalizeDefinition handles POST /api/v1/definitions/normalize
func (h *Handlers) NormalizeDefinition(c *gin.Context) {
	raw, good := h.rawDefinition(c)
	if !good {
		return
	}
	def, err := h.deps.Definitions.Normalize(raw)
	if err != nil {
		h.respondError(c, "normalize definition", err)
		return
	}
	ok(c, http.StatusOK, def)
}

// CreateDefinition handles POST /api/v1/definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	raw, good := h.rawDefinition(c)
	if !good {
		return
	}
	def, err := h.deps.Definitions.Create(c.Request.Context(), raw)
	if err != nil {
		h.respondError(c, "create definition", err)
		return
	}
	ok(c, http.StatusCreated, def)
}

// ReviseDefinition handles PUT /api/v1/definitions/:id
func (h *Handlers) ReviseDefinition(c *gin.Context) {
	raw, good := h.rawDefinition(c)
	if !good {
		return
	}
	def, err := h.deps.Definitions.Revise(c.Request.Context(), c.Param("id"), raw)
	if err != nil {
		h.respondError(c, "revise definition", err)
		return
	}
	ok(c, http.StatusOK, def)
}

// GetDefinition handles GET /api/v1/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	def, err := h.deps.Definitions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get definition", err)
		return
	}
	ok(c, http.StatusOK, def)
}

// ListDefinitions handles GET /api/v1/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	var q ListDefinitionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	defs, err := h.deps.Definitions.List(c.Request.Context(), q.EntityType, pageSize(q.Limit), q.Offset)
	if err != nil {
		h.respondError(c, "list definitions", err)
		return
	}
	if defs == nil {
		defs = []*entity.WorkflowDefinition{}
	}
	ok(c, http.StatusOK, defs)
}

// ActivateDefinition handles POST /api/v1/definitions/:id/activate
func (h *Handlers) ActivateDefinition(c *gin.Context) {
	def, err := h.deps.Definitions.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "activate definition", err)
		return
	}
	ok(c, http.StatusOK, def)
}

// ArchiveDefinition handles POST /api/v1/definitions/:id/archive
func (h *Handlers) ArchiveDefinition(c *gin.Context) {
	def, err := h.deps.Definitions.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "archive definition", err)
		return
	}
	ok(c, http.StatusOK, def)
}

// --- instances ---

// StartInstance handles POST /api/v1/instances
func (h *Handlers) StartInstance(c *gin.Context) {
	var req StartInstanceRequest
	if !bindJSON(c, &req) {
		return
	}
	inst, err := h.deps.Engine.StartInstance(c.Request.Context(), req.toEngine())
	if err != nil {
		h.respondError(c, "start instance", err)
		return
	}
	ok(c, http.StatusCreated, inst)
}

// ListInstances handles GET /api/v1/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var q ListInstancesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}
	q.Status = strings.ToLower(q.Status)
	if err := q.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Code: CodeValidation, Error: err.Error()})
		return
	}
	if h.deps.Instances == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Code: CodeUnavailable, Error: "instance listing is not configured"})
		return
	}

	instances, err := h.deps.Instances.List(c.Request.Context(), port.InstanceFilter{
		DefinitionID: q.DefinitionID,
		EntityType:   q.EntityType,
		EntityID:     q.EntityID,
		Status:       q.Status,
		Limit:        pageSize(q.Limit),
		Offset:       q.Offset,
	})
	if err != nil {
		h.respondError(c, "list instances", err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}
	ok(c, http.StatusOK, instances)
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.deps.Engine.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get instance", err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// ExecuteTransition handles POST /api/v1/instances/:id/transitions.
// Guard rejections and aborted actions are 200 with the outcome in the body.
func (h *Handlers) ExecuteTransition(c *gin.Context) {
	var body TransitionBody
	if !bindJSON(c, &body) {
		return
	}
	outcome, err := h.deps.Engine.ExecuteTransition(c.Request.Context(), workflow.TransitionRequest{
		InstanceID:    c.Param("id"),
		ToState:       body.ToState,
		Entity:        body.Entity,
		TriggeredBy:   body.TriggeredBy,
		ExpectedState: body.ExpectedState,
		Metadata:      body.Metadata,
	})
	if err != nil {
		h.respondError(c, "execute transition", err)
		return
	}
	ok(c, http.StatusOK, outcome)
}

// AvailableTransitions handles POST /api/v1/instances/:id/available
func (h *Handlers) AvailableTransitions(c *gin.Context) {
	var body EntityBody
	if !bindJSON(c, &body) {
		return
	}
	available, err := h.deps.Engine.AvailableTransitions(c.Request.Context(), c.Param("id"), body.snapshot())
	if err != nil {
		h.respondError(c, "available transitions", err)
		return
	}
	if available == nil {
		available = []workflow.AvailableTransition{}
	}
	ok(c, http.StatusOK, available)
}

// CancelInstance handles POST /api/v1/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	var body CancelBody
	if !bindJSON(c, &body) {
		return
	}
	inst, err := h.deps.Engine.CancelInstance(c.Request.Context(), workflow.CancelRequest{
		InstanceID:  c.Param("id"),
		TriggeredBy: body.TriggeredBy,
		Reason:      body.Reason,
	})
	if err != nil {
		h.respondError(c, "cancel instance", err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// History handles GET /api/v1/instances/:id/history[?verify=1]
func (h *Handlers) History(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	entries, err := h.deps.Engine.History(ctx, id)
	if err != nil {
		h.respondError(c, "get history", err)
		return
	}
	if entries == nil {
		entries = []*entity.WorkflowHistory{}
	}
	resp := HistoryResponse{Entries: entries}

	switch c.Query("verify") {
	case "1", "true":
		err := h.deps.Engine.VerifyHistory(ctx, id)
		verified := err == nil
		resp.Verified = &verified
		if err != nil {
			if !errors.Is(err, workflow.ErrHistoryInconsistent) {
				h.respondError(c, "verify history", err)
				return
			}
			resp.VerifyError = err.Error()
		}
	}

	ok(c, http.StatusOK, resp)
}

// ExportHistory handles GET /api/v1/instances/:id/history.xlsx
func (h *Handlers) ExportHistory(c *gin.Context) {
	if h.deps.Exporter == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Code: CodeUnavailable, Error: "history export is not configured"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	view, err := h.deps.Engine.Inspect(ctx, id, nil)
	if err != nil {
		h.respondError(c, "export history", err)
		return
	}
	entries, err := h.deps.Engine.History(ctx, id)
	if err != nil {
		h.respondError(c, "export history", err)
		return
	}

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-history.xlsx"`, id))
	c.Status(http.StatusOK)
	if err := h.deps.Exporter.Write(c.Writer, view.Definition, view.Instance, entries); err != nil {
		h.logger.Error("History export failed", "instance_id", id, "error", err)
		_ = c.Error(err)
	}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Suggestions handles POST /api/v1/instances/:id/suggestions. Recommender
// failures surface as an empty list.
func (h *Handlers) Suggestions(c *gin.Context) {
	var body EntityBody
	if !bindJSON(c, &body) {
		return
	}
	if h.deps.Suggestions == nil {
		ok(c, http.StatusOK, []port.Suggestion{})
		return
	}
	suggestions, err := h.deps.Suggestions.Suggest(c.Request.Context(), c.Param("id"), body.snapshot())
	if err != nil {
		h.respondError(c, "suggest transitions", err)
		return
	}
	if suggestions == nil {
		suggestions = []port.Suggestion{}
	}
	ok(c, http.StatusOK, suggestions)
}
