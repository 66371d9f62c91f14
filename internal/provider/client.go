// Package provider encapsulates outbound HTTP calls to the external
// authorization server. The console never implements token issuance or
// credential validation itself; everything here is a request/response
// contract against the AS.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/nortide/console-auth/internal/domain/flow"
)

// DecisionInput is the payload for the consent decision endpoint.
type DecisionInput struct {
	Approved            bool     `json:"approved"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes"`
	State               string   `json:"state"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
}

// TokenResponse models the AS token endpoint response.
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type"`
	IDToken      string         `json:"id_token,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	Raw          map[string]any `json:"-"`
}

// SessionOutcome is what a finished authentication ceremony yields.
type SessionOutcome struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// Client is the outbound contract against the authorization server. The
// issuer is passed per call: each tenant resolves to its own AS base URL.
type Client interface {
	DescribeConsent(ctx context.Context, issuer string, req flow.AuthorizationRequest) (*flow.ConsentSession, error)
	DecideConsent(ctx context.Context, issuer string, in DecisionInput) (string, error)
	ExchangeCode(ctx context.Context, issuer, code, codeVerifier, redirectURI, clientID string) (*TokenResponse, error)

	BeginRegistration(ctx context.Context, issuer, accessToken, deviceName string) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, issuer, accessToken, deviceName string, attestation *protocol.CredentialCreationResponse) (*flow.PasskeyRecord, error)
	BeginAuthentication(ctx context.Context, issuer, email string) (*protocol.CredentialAssertion, error)
	FinishAuthentication(ctx context.Context, issuer string, assertion *protocol.CredentialAssertionResponse) (*SessionOutcome, error)

	ListPasskeys(ctx context.Context, issuer, accessToken string) ([]flow.PasskeyRecord, error)
	RenamePasskey(ctx context.Context, issuer, accessToken, id, deviceName string) (*flow.PasskeyRecord, error)
	DeletePasskey(ctx context.Context, issuer, accessToken, id string) error
}

// HTTPClient is the default HTTP implementation.
type HTTPClient struct {
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default Client.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{httpClient: client}
}

// AuthorizeURL builds the browser-facing authorize URL for an issuer.
func AuthorizeURL(issuer string, params url.Values) (string, error) {
	base, err := joinURL(issuer, "/oauth/authorize")
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	parsed.RawQuery = params.Encode()
	return parsed.String(), nil
}

// DescribeConsent resolves the consent requirements for a request.
func (c *HTTPClient) DescribeConsent(ctx context.Context, issuer string, req flow.AuthorizationRequest) (*flow.ConsentSession, error) {
	var session flow.ConsentSession
	if err := c.postJSON(ctx, issuer, "/oauth/consent", "", req, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ClientID) == "" {
		return nil, fmt.Errorf("consent response missing client_id: %w", flow.ErrInvalidServerResponse)
	}
	return &session, nil
}

// DecideConsent submits the approve/deny decision. The returned redirect URL
// may be empty on denial when the AS leaves the denial local.
func (c *HTTPClient) DecideConsent(ctx context.Context, issuer string, in DecisionInput) (string, error) {
	var resp struct {
		RedirectURL string `json:"redirect_url"`
	}
	if err := c.postJSON(ctx, issuer, "/oauth/consent/decision", "", in, &resp); err != nil {
		return "", err
	}
	return resp.RedirectURL, nil
}

// ExchangeCode performs the authorization_code grant with the PKCE verifier.
func (c *HTTPClient) ExchangeCode(ctx context.Context, issuer, code, codeVerifier, redirectURI, clientID string) (*TokenResponse, error) {
	endpoint, err := joinURL(issuer, "/oauth/token")
	if err != nil {
		return nil, err
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", clientID)
	data.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w: %v", flow.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", flow.ErrTransport)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token exchange failed: status=%d: %w", resp.StatusCode, flow.ErrServerRejected)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", flow.ErrInvalidServerResponse)
	}
	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", flow.ErrInvalidServerResponse)
	}
	token.Raw = raw
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("token response missing access_token: %w", flow.ErrInvalidServerResponse)
	}
	return &token, nil
}

// BeginRegistration requests a registration challenge for the authenticated
// principal.
func (c *HTTPClient) BeginRegistration(ctx context.Context, issuer, accessToken, deviceName string) (*protocol.CredentialCreation, error) {
	payload := map[string]string{}
	if strings.TrimSpace(deviceName) != "" {
		payload["device_name"] = deviceName
	}
	var creation protocol.CredentialCreation
	if err := c.postJSON(ctx, issuer, "/auth/webauthn/register/start", accessToken, payload, &creation); err != nil {
		return nil, err
	}
	if len(creation.Response.Challenge) == 0 {
		return nil, fmt.Errorf("registration challenge missing: %w", flow.ErrInvalidServerResponse)
	}
	return &creation, nil
}

// FinishRegistration submits the encoded attestation.
func (c *HTTPClient) FinishRegistration(ctx context.Context, issuer, accessToken, deviceName string, attestation *protocol.CredentialCreationResponse) (*flow.PasskeyRecord, error) {
	body := struct {
		*protocol.CredentialCreationResponse
		DeviceName string `json:"device_name,omitempty"`
	}{attestation, deviceName}

	var record flow.PasskeyRecord
	if err := c.postJSON(ctx, issuer, "/auth/webauthn/register/finish", accessToken, body, &record); err != nil {
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, fmt.Errorf("passkey record missing id: %w", flow.ErrInvalidServerResponse)
	}
	return &record, nil
}

// BeginAuthentication requests an authentication challenge. The email hint is
// optional; the AS answers unknown emails with an empty allow-list rather
// than an error so accounts cannot be enumerated.
func (c *HTTPClient) BeginAuthentication(ctx context.Context, issuer, email string) (*protocol.CredentialAssertion, error) {
	payload := map[string]string{}
	if strings.TrimSpace(email) != "" {
		payload["email"] = email
	}
	var assertion protocol.CredentialAssertion
	if err := c.postJSON(ctx, issuer, "/auth/webauthn/authenticate/start", "", payload, &assertion); err != nil {
		return nil, err
	}
	if len(assertion.Response.Challenge) == 0 {
		return nil, fmt.Errorf("authentication challenge missing: %w", flow.ErrInvalidServerResponse)
	}
	return &assertion, nil
}

// FinishAuthentication submits the encoded assertion.
func (c *HTTPClient) FinishAuthentication(ctx context.Context, issuer string, assertion *protocol.CredentialAssertionResponse) (*SessionOutcome, error) {
	var outcome SessionOutcome
	if err := c.postJSON(ctx, issuer, "/auth/webauthn/authenticate/finish", "", assertion, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// ListPasskeys returns the principal's registered credentials.
func (c *HTTPClient) ListPasskeys(ctx context.Context, issuer, accessToken string) ([]flow.PasskeyRecord, error) {
	var records []flow.PasskeyRecord
	if err := c.doJSON(ctx, http.MethodGet, issuer, "/account/passkeys", accessToken, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// RenamePasskey updates the device name of a credential.
func (c *HTTPClient) RenamePasskey(ctx context.Context, issuer, accessToken, id, deviceName string) (*flow.PasskeyRecord, error) {
	body := map[string]string{"device_name": deviceName}
	var record flow.PasskeyRecord
	if err := c.doJSON(ctx, http.MethodPatch, issuer, "/account/passkeys/"+url.PathEscape(id), accessToken, body, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeletePasskey removes a credential by ID.
func (c *HTTPClient) DeletePasskey(ctx context.Context, issuer, accessToken, id string) error {
	return c.doJSON(ctx, http.MethodDelete, issuer, "/account/passkeys/"+url.PathEscape(id), accessToken, nil, nil)
}

func (c *HTTPClient) postJSON(ctx context.Context, issuer, path, accessToken string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, issuer, path, accessToken, in, out)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, issuer, path, accessToken string, in, out any) error {
	endpoint, err := joinURL(issuer, path)
	if err != nil {
		return err
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, flow.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", flow.ErrTransport)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", flow.ErrInvalidServerResponse)
	}
	return nil
}

func statusError(status int, body []byte) error {
	if status < 300 {
		return nil
	}

	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &oauthErr)
	detail := oauthErr.Error
	if oauthErr.Description != "" {
		detail = detail + ": " + oauthErr.Description
	}
	if detail == "" {
		detail = fmt.Sprintf("status=%d", status)
	}

	switch {
	case status == http.StatusNotImplemented:
		return fmt.Errorf("%s: %w", detail, flow.ErrUnavailable)
	case status == http.StatusBadRequest && oauthErr.Error == "invalid_request":
		return fmt.Errorf("%s: %w", detail, flow.ErrValidation)
	case status >= 400 && status < 500:
		return fmt.Errorf("%s: %w", detail, flow.ErrServerRejected)
	default:
		return fmt.Errorf("%s: %w", detail, flow.ErrTransport)
	}
}

func joinURL(issuer, path string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(issuer), "/")
	if trimmed == "" {
		return "", fmt.Errorf("issuer missing: %w", flow.ErrValidation)
	}
	return trimmed + path, nil
}
