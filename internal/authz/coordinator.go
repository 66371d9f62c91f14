// Package authz drives the three-phase authorization exchange: initiate,
// await the external hop, finalize. Sessions are keyed by their own state so
// any number of attempts may be in flight.
package authz

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/encoding"
	"github.com/nortide/console-auth/internal/pkce"
	"github.com/nortide/console-auth/internal/provider"
	"github.com/nortide/console-auth/internal/relay"
	"github.com/nortide/console-auth/internal/session"
)

// stateBytes gives 256 bits of state entropy.
const stateBytes = 32

// InitiateInput contains the caller's authorization parameters.
type InitiateInput struct {
	Issuer      string
	ClientID    string
	RedirectURI string
	Scopes      []string
	Transport   flow.Transport
}

// InitiateOutput returns the prepared authorize URL and session key.
type InitiateOutput struct {
	AuthorizationURL string         `json:"authorization_url"`
	State            string         `json:"state"`
	Transport        flow.Transport `json:"transport"`
}

// Finalized hands the code and its verifier to the token exchange. The
// session entry is gone by the time this is returned.
type Finalized struct {
	Code         string
	CodeVerifier string
	Nonce        string
	Issuer       string
	ClientID     string
	RedirectURI  string
}

// Coordinator manages pending authorization sessions across both transports.
type Coordinator struct {
	store          session.Store
	bus            *relay.Bus
	sessionTTL     time.Duration
	callbackWindow time.Duration
	logger         *zap.Logger
}

// NewCoordinator wires the coordinator. callbackWindow bounds how long Await
// blocks; sessionTTL bounds how long a state entry may exist at all.
func NewCoordinator(store session.Store, bus *relay.Bus, sessionTTL, callbackWindow time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.L()
	}
	if callbackWindow <= 0 || callbackWindow > sessionTTL {
		callbackWindow = sessionTTL
	}
	return &Coordinator{
		store:          store,
		bus:            bus,
		sessionTTL:     sessionTTL,
		callbackWindow: callbackWindow,
		logger:         logger,
	}
}

// Initiate validates the request, generates state and a PKCE pair, persists
// the session, and returns the authorize URL for the chosen transport. For
// popup transport a relay slot is registered before the URL is handed out,
// so no callback can race the registration.
func (c *Coordinator) Initiate(ctx context.Context, in InitiateInput) (*InitiateOutput, error) {
	transport, err := validateInitiateInput(in)
	if err != nil {
		return nil, err
	}

	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	pair, err := pkce.Generate()
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("client_id", in.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", in.RedirectURI)
	params.Set("scope", strings.Join(in.Scopes, " "))
	params.Set("state", state)
	params.Set("nonce", nonce)
	params.Set("code_challenge", pair.Challenge)
	params.Set("code_challenge_method", pair.Method)

	authorizeURL, err := provider.AuthorizeURL(in.Issuer, params)
	if err != nil {
		return nil, err
	}

	sess := session.Session{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: pair.Verifier,
		Issuer:       in.Issuer,
		ClientID:     in.ClientID,
		RedirectURI:  in.RedirectURI,
		Scopes:       in.Scopes,
		Transport:    transport,
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.Save(ctx, sess, c.sessionTTL); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if transport == flow.TransportPopup {
		c.bus.Register(state, c.sessionTTL)
	}

	c.logger.Debug("authorization initiated",
		zap.String("client_id", in.ClientID),
		zap.String("transport", string(transport)),
	)

	return &InitiateOutput{
		AuthorizationURL: authorizeURL,
		State:            state,
		Transport:        transport,
	}, nil
}

// Await blocks until the relay delivers the callback for state, the callback
// window elapses, or ctx is cancelled. On timeout or cancellation the
// session entry is released so a late callback finds nothing to bind to.
func (c *Coordinator) Await(ctx context.Context, state string) (flow.CallbackResult, error) {
	ch, ok := c.bus.Waiter(state)
	if !ok {
		return flow.CallbackResult{}, fmt.Errorf("no pending session for state: %w", flow.ErrProtocol)
	}

	timer := time.NewTimer(c.callbackWindow)
	defer timer.Stop()

	select {
	case result, open := <-ch:
		if !open {
			c.release(ctx, state)
			return flow.CallbackResult{}, fmt.Errorf("callback channel closed: %w", flow.ErrTransport)
		}
		c.bus.Deregister(state)
		return result, nil
	case <-timer.C:
		c.release(ctx, state)
		return flow.CallbackResult{}, fmt.Errorf("no callback within %s: %w", c.callbackWindow, flow.ErrCallbackTimeout)
	case <-ctx.Done():
		c.release(ctx, state)
		return flow.CallbackResult{}, fmt.Errorf("await abandoned: %w", flow.ErrTransport)
	}
}

// Finalize binds a callback result to its session. The state must equal the
// one recorded at initiate; anything else is a hard failure and no verifier
// is released. The entry is consumed atomically, so a second finalize for
// the same state fails.
func (c *Coordinator) Finalize(ctx context.Context, result flow.CallbackResult) (*Finalized, error) {
	state := strings.TrimSpace(result.State)
	if state == "" {
		return nil, fmt.Errorf("state missing from callback: %w", flow.ErrValidation)
	}

	sess, err := c.store.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("state does not match any pending session: %w", flow.ErrProtocol)
	}
	c.bus.Deregister(state)

	if result.Error != "" {
		if result.Denied() {
			return nil, fmt.Errorf("%s: %w", orDefault(result.ErrorDescription, "the user declined the request"), flow.ErrDenied)
		}
		return nil, fmt.Errorf("%s: %s: %w", result.Error, result.ErrorDescription, flow.ErrServerRejected)
	}
	if strings.TrimSpace(result.Code) == "" {
		return nil, fmt.Errorf("callback carried neither code nor error: %w", flow.ErrProtocol)
	}

	return &Finalized{
		Code:         result.Code,
		CodeVerifier: sess.CodeVerifier,
		Nonce:        sess.Nonce,
		Issuer:       sess.Issuer,
		ClientID:     sess.ClientID,
		RedirectURI:  sess.RedirectURI,
	}, nil
}

func (c *Coordinator) release(ctx context.Context, state string) {
	c.bus.Deregister(state)
	if err := c.store.Delete(ctx, state); err != nil {
		c.logger.Warn("failed to release pending session", zap.Error(err))
	}
}

func validateInitiateInput(in InitiateInput) (flow.Transport, error) {
	if strings.TrimSpace(in.ClientID) == "" {
		return "", fmt.Errorf("client_id is required: %w", flow.ErrValidation)
	}
	redirect := strings.TrimSpace(in.RedirectURI)
	if redirect == "" {
		return "", fmt.Errorf("redirect_uri is required: %w", flow.ErrValidation)
	}
	parsed, err := url.Parse(redirect)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return "", fmt.Errorf("redirect_uri must be an absolute URL: %w", flow.ErrValidation)
	}
	if len(in.Scopes) == 0 {
		return "", fmt.Errorf("scope is required: %w", flow.ErrValidation)
	}
	for _, scope := range in.Scopes {
		if strings.TrimSpace(scope) == "" {
			return "", fmt.Errorf("scope entries must be non-empty: %w", flow.ErrValidation)
		}
	}

	switch in.Transport {
	case flow.TransportPopup, flow.TransportRedirect:
		return in.Transport, nil
	case "":
		return flow.TransportRedirect, nil
	default:
		return "", fmt.Errorf("unknown transport %q: %w", in.Transport, flow.ErrValidation)
	}
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return encoding.Encode(buf), nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
