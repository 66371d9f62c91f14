package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/http/middleware"
	"github.com/nortide/console-auth/internal/passkey"
	"github.com/nortide/console-auth/internal/provider"
)

// PasskeysHandler manages the credentials listed on the account page.
type PasskeysHandler struct {
	Provider provider.Client
	Logger   *zap.Logger
}

// NewPasskeysHandler creates the passkey management handler.
func NewPasskeysHandler(providerClient provider.Client, logger *zap.Logger) *PasskeysHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &PasskeysHandler{Provider: providerClient, Logger: logger}
}

func (h *PasskeysHandler) service(c *gin.Context) (*passkey.Service, string, bool) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return nil, "", false
	}
	accessToken, _ := middleware.GetAccessToken(c)
	return passkey.NewService(h.Provider, tenantCtx.Issuer, h.Logger), accessToken, true
}

// List returns the caller's registered credentials.
func (h *PasskeysHandler) List(c *gin.Context) {
	svc, accessToken, ok := h.service(c)
	if !ok {
		return
	}

	records, err := svc.List(c.Request.Context(), accessToken)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	if records == nil {
		records = []flow.PasskeyRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"passkeys": records})
}

// Rename updates a credential's display name.
func (h *PasskeysHandler) Rename(c *gin.Context) {
	svc, accessToken, ok := h.service(c)
	if !ok {
		return
	}

	var req struct {
		DeviceName string `json:"device_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid rename request."})
		return
	}

	record, err := svc.Rename(c.Request.Context(), accessToken, c.Param("id"), req.DeviceName)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Delete removes a credential.
func (h *PasskeysHandler) Delete(c *gin.Context) {
	svc, accessToken, ok := h.service(c)
	if !ok {
		return
	}

	if err := svc.Delete(c.Request.Context(), accessToken, c.Param("id")); err != nil {
		respondFlowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
