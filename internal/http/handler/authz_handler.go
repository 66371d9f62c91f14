package handler

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/authz"
	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/http/middleware"
	"github.com/nortide/console-auth/internal/provider"
	"github.com/nortide/console-auth/internal/relay"
	"github.com/nortide/console-auth/internal/token"
)

// AuthzHandler exposes the authorization handshake over HTTP: initiate,
// receive the callback, relay popup results, and long-poll for completion.
type AuthzHandler struct {
	Coordinator *authz.Coordinator
	Provider    provider.Client
	Verifier    *token.Verifier
	Bus         *relay.Bus
	RedirectURI string
	RelayOrigin string
	Logger      *zap.Logger
}

// NewAuthzHandler creates the handler set for the authorization flow.
// relayOrigin is the console origin popup results are posted back to.
func NewAuthzHandler(coordinator *authz.Coordinator, providerClient provider.Client, verifier *token.Verifier, bus *relay.Bus, redirectURI, relayOrigin string, logger *zap.Logger) *AuthzHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthzHandler{
		Coordinator: coordinator,
		Provider:    providerClient,
		Verifier:    verifier,
		Bus:         bus,
		RedirectURI: redirectURI,
		RelayOrigin: relayOrigin,
		Logger:      logger,
	}
}

// Initiate starts an authorization attempt for the resolved tenant.
func (h *AuthzHandler) Initiate(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}

	var req struct {
		Scopes    []string `json:"scopes"`
		Transport string   `json:"transport"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid initiate request."})
		return
	}

	out, err := h.Coordinator.Initiate(c.Request.Context(), authz.InitiateInput{
		Issuer:      tenantCtx.Issuer,
		ClientID:    tenantCtx.ClientID,
		RedirectURI: h.RedirectURI,
		Scopes:      req.Scopes,
		Transport:   flow.Transport(req.Transport),
	})
	if err != nil {
		respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// relayPage hands the callback parameters to the opener window. The target
// origin is pinned so the message cannot leak to an unexpected document.
var relayPage = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html><head><title>Signing in…</title></head><body>
<script>
(function () {
  var msg = {
    type: {{.Type}},
    state: {{.State}},
    code: {{.Code}},
    error: {{.Error}},
    error_description: {{.ErrorDescription}}
  };
  if (window.opener) {
    window.opener.postMessage(msg, {{.TargetOrigin}});
    window.close();
  }
})();
</script>
</body></html>`))

// Callback terminates the authorization hop. A pending popup waiter means
// the result must travel back through the opener window; otherwise this is
// the redirect transport and the exchange completes inline.
func (h *AuthzHandler) Callback(c *gin.Context) {
	result := flow.CallbackResult{
		State:            c.Query("state"),
		Code:             c.Query("code"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	}

	if _, pending := h.Bus.Waiter(result.State); pending {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		err := relayPage.Execute(c.Writer, gin.H{
			"Type":             relay.MessageType,
			"State":            result.State,
			"Code":             result.Code,
			"Error":            result.Error,
			"ErrorDescription": result.ErrorDescription,
			"TargetOrigin":     h.RelayOrigin,
		})
		if err != nil {
			h.Logger.Error("relay page render failed", zap.Error(err))
		}
		return
	}

	fin, err := h.Coordinator.Finalize(c.Request.Context(), result)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	h.completeExchange(c, fin)
}

// Relay accepts the callback message forwarded by the opener window and
// publishes it to the waiting attempt. Messages that fail the origin or
// shape checks are dropped without error detail.
func (h *AuthzHandler) Relay(c *gin.Context) {
	var msg relay.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid relay message."})
		return
	}

	delivered := h.Bus.Publish(c.GetHeader("Origin"), msg)
	c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
}

// Await blocks until the popup callback for state arrives, then completes
// the code exchange.
func (h *AuthzHandler) Await(c *gin.Context) {
	state := c.Param("state")

	result, err := h.Coordinator.Await(c.Request.Context(), state)
	if err != nil {
		respondFlowError(c, err)
		return
	}

	fin, err := h.Coordinator.Finalize(c.Request.Context(), result)
	if err != nil {
		respondFlowError(c, err)
		return
	}
	h.completeExchange(c, fin)
}

func (h *AuthzHandler) completeExchange(c *gin.Context, fin *authz.Finalized) {
	tokens, err := h.Provider.ExchangeCode(c.Request.Context(), fin.Issuer, fin.Code, fin.CodeVerifier, fin.RedirectURI, fin.ClientID)
	if err != nil {
		respondFlowError(c, err)
		return
	}

	resp := gin.H{
		"token_type":    tokens.TokenType,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_in":    tokens.ExpiresIn,
		"scope":         tokens.Scope,
	}

	if tokens.IDToken != "" && h.Verifier != nil {
		std, custom, err := h.Verifier.Verify(c.Request.Context(), fin.Issuer, fin.ClientID, fin.Nonce, tokens.IDToken)
		if err != nil {
			respondFlowError(c, err)
			return
		}
		resp["id_token"] = tokens.IDToken
		resp["profile"] = gin.H{
			"sub":   std.Subject,
			"email": custom.Email,
			"name":  custom.Name,
		}
	}

	c.JSON(http.StatusOK, resp)
}
