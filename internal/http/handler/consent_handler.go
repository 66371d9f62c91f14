package handler

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/consent"
	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/http/middleware"
	"github.com/nortide/console-auth/internal/provider"
)

// pendingConsentTTL bounds how long a described consent session may wait for
// its decision before the handler forgets it.
const pendingConsentTTL = 10 * time.Minute

type pendingConsent struct {
	machine   *consent.Machine
	createdAt time.Time
}

// ConsentHandler serves the consent page contract: describe what is being
// asked, then accept exactly one decision. Each described request is backed
// by a consent.Machine keyed by issuer and state, so a repeated decision for
// the same state fails instead of reaching the authorization server twice.
type ConsentHandler struct {
	Provider provider.Client
	Logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingConsent
}

// NewConsentHandler creates the consent handler.
func NewConsentHandler(providerClient provider.Client, logger *zap.Logger) *ConsentHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &ConsentHandler{
		Provider: providerClient,
		Logger:   logger,
		pending:  make(map[string]*pendingConsent),
	}
}

// Describe resolves the pending consent session for the query parameters and
// installs the machine that will take the decision.
func (h *ConsentHandler) Describe(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}

	req := flow.AuthorizationRequest{
		ClientID:            c.Query("client_id"),
		ResponseType:        c.Query("response_type"),
		RedirectURI:         c.Query("redirect_uri"),
		Scopes:              splitScope(c.Query("scope")),
		State:               c.Query("state"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
	}

	machine := consent.NewMachine(h.Provider, tenantCtx.Issuer, h.Logger)
	session, err := machine.Request(c.Request.Context(), req)
	if err != nil {
		respondFlowError(c, err)
		return
	}

	h.mu.Lock()
	h.pruneLocked(time.Now())
	h.pending[consentKey(tenantCtx.Issuer, req.State)] = &pendingConsent{machine: machine, createdAt: time.Now()}
	h.mu.Unlock()

	c.JSON(http.StatusOK, session)
}

// Decide routes the user's decision to the machine installed by Describe.
// The machine hands out its session exactly once, so a duplicate decision
// for the same state gets a conflict instead of a second upstream call.
func (h *ConsentHandler) Decide(c *gin.Context) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return
	}

	var req struct {
		Approved bool   `json:"approved"`
		UserID   string `json:"user_id" binding:"required"`
		State    string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid decision request."})
		return
	}

	h.mu.Lock()
	entry, ok := h.pending[consentKey(tenantCtx.Issuer, req.State)]
	h.mu.Unlock()
	if !ok {
		respondFlowError(c, fmt.Errorf("no pending consent for state: %w", flow.ErrProtocol))
		return
	}

	var (
		outcome *consent.Outcome
		err     error
	)
	if req.Approved {
		outcome, err = entry.machine.Approve(c.Request.Context(), req.UserID)
	} else {
		outcome, err = entry.machine.Deny(c.Request.Context(), req.UserID)
	}
	if err != nil {
		respondFlowError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *ConsentHandler) pruneLocked(now time.Time) {
	for key, entry := range h.pending {
		if now.Sub(entry.createdAt) > pendingConsentTTL {
			delete(h.pending, key)
		}
	}
}

func consentKey(issuer, state string) string {
	return issuer + "|" + state
}

func splitScope(raw string) []string {
	return strings.Fields(raw)
}
