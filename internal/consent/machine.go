// Package consent tracks a single consent exchange from request through the
// user's decision. One Machine serves exactly one authorization request and
// is consumed by exactly one terminal decision.
package consent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/provider"
)

// State is the machine's position in the consent exchange.
type State string

const (
	StateIdle             State = "idle"
	StateRequesting       State = "requesting"
	StateAwaitingDecision State = "awaiting_decision"
	StateApproved         State = "approved"
	StateDenied           State = "denied"
	StateCompleted        State = "completed"
	StateErrored          State = "errored"
)

// Outcome is the terminal product of the machine. RedirectURL carries the
// authorization code on approval; on denial it may be empty when the AS
// leaves the denial local.
type Outcome struct {
	Approved    bool   `json:"approved"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Machine drives one consent session against the authorization server.
type Machine struct {
	client provider.Client
	issuer string
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	session *flow.ConsentSession
}

// NewMachine creates a machine in Idle for the given issuer.
func NewMachine(client provider.Client, issuer string, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.L()
	}
	return &Machine{
		client: client,
		issuer: issuer,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the pending consent session while awaiting a decision.
func (m *Machine) Session() *flow.ConsentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Request validates the authorization request and asks the server to
// describe the consent requirements. Local validation failures terminate the
// machine without any network call; nothing is ever silently defaulted.
func (m *Machine) Request(ctx context.Context, req flow.AuthorizationRequest) (*flow.ConsentSession, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil, fmt.Errorf("consent already requested in state %s: %w", m.state, flow.ErrProtocol)
	}
	m.state = StateRequesting
	m.mu.Unlock()

	if err := validateRequest(req); err != nil {
		m.transition(StateErrored)
		return nil, err
	}

	session, err := m.client.DescribeConsent(ctx, m.issuer, req)
	if err != nil {
		m.transition(StateErrored)
		return nil, fmt.Errorf("describe consent: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.state = StateAwaitingDecision
	m.mu.Unlock()
	return session, nil
}

// Approve submits the affirmative decision and completes the machine with
// the server's redirect URL, which carries the authorization code.
func (m *Machine) Approve(ctx context.Context, userID string) (*Outcome, error) {
	session, err := m.takeDecision(StateApproved)
	if err != nil {
		return nil, err
	}

	redirectURL, err := m.decide(ctx, session, userID, true)
	if err != nil {
		m.transition(StateErrored)
		return nil, err
	}
	if strings.TrimSpace(redirectURL) == "" {
		m.transition(StateErrored)
		return nil, fmt.Errorf("approval returned no redirect url: %w", flow.ErrInvalidServerResponse)
	}

	m.transition(StateCompleted)
	return &Outcome{Approved: true, RedirectURL: redirectURL}, nil
}

// Deny submits the negative decision. The server's error redirect is used
// when present; otherwise the denial stays local with an empty redirect.
func (m *Machine) Deny(ctx context.Context, userID string) (*Outcome, error) {
	session, err := m.takeDecision(StateDenied)
	if err != nil {
		return nil, err
	}

	redirectURL, err := m.decide(ctx, session, userID, false)
	if err != nil {
		m.logger.Warn("deny decision not accepted by server, completing locally", zap.Error(err))
		redirectURL = ""
	}

	m.transition(StateCompleted)
	return &Outcome{Approved: false, RedirectURL: redirectURL}, nil
}

// takeDecision atomically moves AwaitingDecision to the decided state and
// hands out the session exactly once.
func (m *Machine) takeDecision(decided State) (*flow.ConsentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAwaitingDecision {
		return nil, fmt.Errorf("no decision pending in state %s: %w", m.state, flow.ErrSessionConsumed)
	}
	session := m.session
	m.session = nil
	m.state = decided
	return session, nil
}

func (m *Machine) decide(ctx context.Context, session *flow.ConsentSession, userID string, approved bool) (string, error) {
	scopes := make([]string, 0, len(session.RequestedScopes))
	for _, scope := range session.RequestedScopes {
		scopes = append(scopes, scope.Name)
	}
	return m.client.DecideConsent(ctx, m.issuer, provider.DecisionInput{
		Approved:            approved,
		ClientID:            session.ClientID,
		UserID:              userID,
		RedirectURI:         session.RedirectURI,
		Scopes:              scopes,
		State:               session.State,
		CodeChallenge:       session.CodeChallenge,
		CodeChallengeMethod: session.CodeChallengeMethod,
	})
}

func (m *Machine) transition(next State) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}

func validateRequest(req flow.AuthorizationRequest) error {
	if req.ResponseType != "code" {
		return fmt.Errorf("unsupported response_type %q, only \"code\" is supported: %w", req.ResponseType, flow.ErrValidation)
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return fmt.Errorf("client_id is required: %w", flow.ErrValidation)
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return fmt.Errorf("redirect_uri is required: %w", flow.ErrValidation)
	}
	if len(req.Scopes) == 0 {
		return fmt.Errorf("scope is required: %w", flow.ErrValidation)
	}
	if strings.TrimSpace(req.State) == "" {
		return fmt.Errorf("state is required: %w", flow.ErrValidation)
	}
	if strings.TrimSpace(req.CodeChallenge) == "" {
		return fmt.Errorf("code_challenge is required: %w", flow.ErrValidation)
	}
	if req.CodeChallengeMethod != "S256" {
		return fmt.Errorf("unsupported code_challenge_method %q: %w", req.CodeChallengeMethod, flow.ErrValidation)
	}
	return nil
}
