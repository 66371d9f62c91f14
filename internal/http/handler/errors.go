package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nortide/console-auth/internal/domain/flow"
)

// respondFlowError translates flow sentinels into OAuth-style error bodies.
func respondFlowError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, flow.ErrValidation):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, flow.ErrDenied):
		status, code = http.StatusForbidden, "access_denied"
	case errors.Is(err, flow.ErrSessionConsumed):
		status, code = http.StatusConflict, "session_consumed"
	case errors.Is(err, flow.ErrProtocol):
		status, code = http.StatusConflict, "protocol_error"
	case errors.Is(err, flow.ErrCallbackTimeout), errors.Is(err, flow.ErrCeremonyTimeout):
		status, code = http.StatusRequestTimeout, "timeout"
	case errors.Is(err, flow.ErrUserCancelled):
		status, code = http.StatusBadRequest, "cancelled"
	case errors.Is(err, flow.ErrNotSupported), errors.Is(err, flow.ErrUnavailable):
		status, code = http.StatusNotImplemented, "unsupported"
	case errors.Is(err, flow.ErrServerRejected):
		status, code = http.StatusBadGateway, "upstream_rejected"
	case errors.Is(err, flow.ErrInvalidServerResponse):
		status, code = http.StatusBadGateway, "invalid_upstream_response"
	case errors.Is(err, flow.ErrTransport):
		status, code = http.StatusBadGateway, "transport_error"
	}
	c.JSON(status, gin.H{"error": code, "error_description": err.Error()})
}
