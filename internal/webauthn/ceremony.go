// Package webauthn drives passkey registration and authentication ceremonies
// against the authorization server. The platform credential capability is
// abstracted behind Authenticator so the same driver serves browsers,
// embedded authenticators, and tests.
package webauthn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/go-webauthn/webauthn/protocol"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/encoding"
	"github.com/nortide/console-auth/internal/provider"
)

// Authenticator is the platform credential capability. Implementations
// return flow.ErrUserCancelled or flow.ErrCeremonyTimeout for those
// outcomes; anything else is treated as a platform fault.
type Authenticator interface {
	// Supported reports whether the capability exists at all. Checked once
	// at client construction and cached.
	Supported() bool
	CreateCredential(ctx context.Context, creation protocol.CredentialCreation) (*protocol.CredentialCreationResponse, error)
	GetAssertion(ctx context.Context, assertion protocol.CredentialAssertion) (*protocol.CredentialAssertionResponse, error)
}

type ceremonyKind string

const (
	kindRegistration   ceremonyKind = "registration"
	kindAuthentication ceremonyKind = "authentication"
)

// pendingCeremony remembers the one live challenge per ceremony kind.
type pendingCeremony struct {
	id        snowflake.ID
	challenge string
}

// Client coordinates the two ceremonies. At most one challenge per kind is
// live at a time: a second start supersedes the first, whose finish will be
// refused by the server.
type Client struct {
	provider      provider.Client
	authenticator Authenticator
	issuer        string
	node          *snowflake.Node
	logger        *zap.Logger
	supported     bool

	mu      sync.Mutex
	pending map[ceremonyKind]*pendingCeremony
}

// NewClient constructs the ceremony client. The capability probe runs here,
// once, and is cached for the client's lifetime.
func NewClient(providerClient provider.Client, authenticator Authenticator, issuer string, node *snowflake.Node, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		provider:      providerClient,
		authenticator: authenticator,
		issuer:        issuer,
		node:          node,
		logger:        logger,
		supported:     authenticator != nil && authenticator.Supported(),
		pending:       make(map[ceremonyKind]*pendingCeremony),
	}
}

// Supported reports the cached capability probe.
func (c *Client) Supported() bool {
	return c.supported
}

// Register runs the full registration ceremony for the authenticated
// principal and returns the server's record of the new credential.
func (c *Client) Register(ctx context.Context, accessToken, deviceName string) (*flow.PasskeyRecord, error) {
	if !c.supported {
		return nil, fmt.Errorf("registration unavailable: %w", flow.ErrNotSupported)
	}

	creation, err := c.provider.BeginRegistration(ctx, c.issuer, accessToken, deviceName)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	ceremonyID := c.track(kindRegistration, creation.Response.Challenge)

	attestation, err := c.authenticator.CreateCredential(ctx, *creation)
	if err != nil {
		c.untrack(kindRegistration, ceremonyID)
		return nil, platformError("create credential", err)
	}

	challenge, ok := c.liveChallenge(kindRegistration, ceremonyID)
	if !ok {
		return nil, fmt.Errorf("registration challenge superseded by a newer start: %w", flow.ErrProtocol)
	}
	if challengeFromClientData(attestation.AttestationResponse.ClientDataJSON) != challenge {
		c.untrack(kindRegistration, ceremonyID)
		return nil, fmt.Errorf("attestation does not answer the live challenge: %w", flow.ErrProtocol)
	}

	record, err := c.provider.FinishRegistration(ctx, c.issuer, accessToken, deviceName, attestation)
	c.untrack(kindRegistration, ceremonyID)
	if err != nil {
		return nil, fmt.Errorf("finish registration: %w", err)
	}

	c.logger.Info("passkey registered",
		zap.String("ceremony_id", ceremonyID.String()),
		zap.String("credential_id", record.ID),
	)
	return record, nil
}

// Authenticate runs the full authentication ceremony. The email hint is
// optional; an unknown email yields a challenge with no allowed credentials
// rather than an error, so the prompt simply finds nothing to sign with.
func (c *Client) Authenticate(ctx context.Context, email string) (*provider.SessionOutcome, error) {
	if !c.supported {
		return nil, fmt.Errorf("authentication unavailable: %w", flow.ErrNotSupported)
	}

	assertion, err := c.provider.BeginAuthentication(ctx, c.issuer, email)
	if err != nil {
		return nil, fmt.Errorf("begin authentication: %w", err)
	}
	ceremonyID := c.track(kindAuthentication, assertion.Response.Challenge)

	response, err := c.authenticator.GetAssertion(ctx, *assertion)
	if err != nil {
		c.untrack(kindAuthentication, ceremonyID)
		return nil, platformError("get assertion", err)
	}

	challenge, ok := c.liveChallenge(kindAuthentication, ceremonyID)
	if !ok {
		return nil, fmt.Errorf("authentication challenge superseded by a newer start: %w", flow.ErrProtocol)
	}
	if challengeFromClientData(response.AssertionResponse.ClientDataJSON) != challenge {
		c.untrack(kindAuthentication, ceremonyID)
		return nil, fmt.Errorf("assertion does not answer the live challenge: %w", flow.ErrProtocol)
	}

	outcome, err := c.provider.FinishAuthentication(ctx, c.issuer, response)
	c.untrack(kindAuthentication, ceremonyID)
	if err != nil {
		return nil, fmt.Errorf("finish authentication: %w", err)
	}
	return outcome, nil
}

// track records the live challenge for a kind, superseding any previous one.
func (c *Client) track(kind ceremonyKind, challenge []byte) snowflake.ID {
	id := c.node.Generate()
	c.mu.Lock()
	if prev, ok := c.pending[kind]; ok {
		c.logger.Debug("superseding live ceremony challenge",
			zap.String("kind", string(kind)),
			zap.String("ceremony_id", prev.id.String()),
		)
	}
	c.pending[kind] = &pendingCeremony{id: id, challenge: encoding.Encode(challenge)}
	c.mu.Unlock()
	return id
}

// liveChallenge returns the tracked challenge for id, or false when a newer
// start superseded it.
func (c *Client) liveChallenge(kind ceremonyKind, id snowflake.ID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, ok := c.pending[kind]
	if !ok || pending.id != id {
		return "", false
	}
	return pending.challenge, true
}

func (c *Client) untrack(kind ceremonyKind, id snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pending, ok := c.pending[kind]; ok && pending.id == id {
		delete(c.pending, kind)
	}
}

// challengeFromClientData pulls the echoed challenge out of the signed
// clientDataJSON. The value is already base64url text inside the JSON.
func challengeFromClientData(clientDataJSON []byte) string {
	var data struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(clientDataJSON, &data); err != nil {
		return ""
	}
	return data.Challenge
}

// platformError keeps cancellation and timeout distinguishable from faults.
func platformError(op string, err error) error {
	if errors.Is(err, flow.ErrUserCancelled) || errors.Is(err, flow.ErrCeremonyTimeout) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, flow.ErrPlatform, err)
}
