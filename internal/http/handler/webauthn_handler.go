package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/http/middleware"
	"github.com/nortide/console-auth/internal/provider"
)

// WebAuthnHandler proxies ceremony begin/finish calls between the browser
// authenticator and the authorization server.
type WebAuthnHandler struct {
	Provider provider.Client
	Logger   *zap.Logger
}

// NewWebAuthnHandler creates the ceremony proxy handler.
func NewWebAuthnHandler(providerClient provider.Client, logger *zap.Logger) *WebAuthnHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &WebAuthnHandler{Provider: providerClient, Logger: logger}
}

// RegisterStart requests creation options for a new credential.
func (h *WebAuthnHandler) RegisterStart(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}
	accessToken, _ := middleware.GetAccessToken(c)

	var req struct {
		DeviceName string `json:"device_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid registration request."})
		return
	}

	creation, err := h.Provider.BeginRegistration(c.Request.Context(), tenantCtx.Issuer, accessToken, req.DeviceName)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, creation)
}

// RegisterFinish submits the attestation produced by the authenticator.
func (h *WebAuthnHandler) RegisterFinish(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}
	accessToken, _ := middleware.GetAccessToken(c)

	var req struct {
		DeviceName string                               `json:"device_name"`
		Credential *protocol.CredentialCreationResponse `json:"credential" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid attestation payload."})
		return
	}

	record, err := h.Provider.FinishRegistration(c.Request.Context(), tenantCtx.Issuer, accessToken, req.DeviceName, req.Credential)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// AuthenticateStart requests assertion options. The email is optional;
// unknown emails still produce options so accounts cannot be enumerated.
func (h *WebAuthnHandler) AuthenticateStart(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authentication request."})
		return
	}

	assertion, err := h.Provider.BeginAuthentication(c.Request.Context(), tenantCtx.Issuer, req.Email)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, assertion)
}

// AuthenticateFinish submits the assertion and returns the session outcome.
func (h *WebAuthnHandler) AuthenticateFinish(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}

	var req struct {
		Credential *protocol.CredentialAssertionResponse `json:"credential" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid assertion payload."})
		return
	}

	outcome, err := h.Provider.FinishAuthentication(c.Request.Context(), tenantCtx.Issuer, req.Credential)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
