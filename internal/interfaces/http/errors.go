package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Stable error codes returned in Response.Code
const (
	CodeNotFound            = "not_found"
	CodeInvalidState        = "invalid_state"
	CodeIllegalTransition   = "illegal_transition"
	CodeConflict            = "conflict"
	CodeValidation          = "validation_error"
	CodeDefinitionImmutable = "definition_immutable"
	CodeDefinitionArchived  = "definition_archived"
	CodeDefinitionInactive  = "definition_not_active"
	CodeBadRequest          = "bad_request"
	CodeUnavailable         = "unavailable"
	CodeInternal            = "internal_error"
)

// errorMapping binds a sentinel to its HTTP status and code; first match wins
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{workflow.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{workflow.ErrValidation, http.StatusUnprocessableEntity, CodeValidation},
	{workflow.ErrIllegalTransition, http.StatusUnprocessableEntity, CodeIllegalTransition},
	{workflow.ErrInvalidState, http.StatusConflict, CodeInvalidState},
	{workflow.ErrConflict, http.StatusConflict, CodeConflict},
	{workflow.ErrDefinitionImmutable, http.StatusConflict, CodeDefinitionImmutable},
	{workflow.ErrDefinitionArchived, http.StatusConflict, CodeDefinitionArchived},
	{workflow.ErrDefinitionNotActive, http.StatusConflict, CodeDefinitionInactive},
}

// statusFor maps err to a status code and stable error code
func statusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// respondError writes the error envelope. Server errors are logged and their
// message is not echoed to the client.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err, "request_id", c.GetString("request_id"))
		msg = op + " failed"
	}
	c.JSON(status, Response{Success: false, Code: code, Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Code: CodeBadRequest, Error: msg})
}
