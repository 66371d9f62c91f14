// Package token verifies ID tokens returned by the authorization server's
// code exchange against its published JWKS.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
)

var allowedAlgorithms = []gojose.SignatureAlgorithm{gojose.RS256, gojose.ES256}

// IDTokenClaims are the profile claims the console reads from an ID token.
type IDTokenClaims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Nonce   string `json:"nonce,omitempty"`
}

type cachedKeySet struct {
	keys      gojose.JSONWebKeySet
	fetchedAt time.Time
}

// Verifier validates ID token signatures against per-issuer JWKS documents,
// cached for a bounded interval.
type Verifier struct {
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedKeySet
}

// NewVerifier constructs a verifier. A nil client gets a sane default.
func NewVerifier(client *http.Client, cacheTTL time.Duration, logger *zap.Logger) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Verifier{
		httpClient: client,
		cacheTTL:   cacheTTL,
		logger:     logger,
		cache:      make(map[string]cachedKeySet),
	}
}

// Verify checks the token's signature, issuer, audience, expiry, and (when
// expected) nonce, returning its claims.
func (v *Verifier) Verify(ctx context.Context, issuer, clientID, expectedNonce, rawToken string) (*gojwt.Claims, *IDTokenClaims, error) {
	parsed, err := gojwt.ParseSigned(rawToken, allowedAlgorithms)
	if err != nil {
		return nil, nil, fmt.Errorf("parse id token: %w", flow.ErrInvalidServerResponse)
	}
	if len(parsed.Headers) == 0 {
		return nil, nil, fmt.Errorf("id token missing header: %w", flow.ErrInvalidServerResponse)
	}

	key, err := v.signingKey(ctx, issuer, parsed.Headers[0].KeyID)
	if err != nil {
		return nil, nil, err
	}

	var std gojwt.Claims
	var custom IDTokenClaims
	if err := parsed.Claims(key, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify id token signature: %w", flow.ErrServerRejected)
	}

	if err := std.Validate(gojwt.Expected{Issuer: issuer, Time: time.Now()}); err != nil {
		return nil, nil, fmt.Errorf("validate id token claims: %w", flow.ErrServerRejected)
	}
	if clientID != "" && !std.Audience.Contains(clientID) {
		return nil, nil, fmt.Errorf("id token audience mismatch: %w", flow.ErrServerRejected)
	}
	if expectedNonce != "" && custom.Nonce != expectedNonce {
		return nil, nil, fmt.Errorf("id token nonce mismatch: %w", flow.ErrProtocol)
	}

	return &std, &custom, nil
}

func (v *Verifier) signingKey(ctx context.Context, issuer, kid string) (gojose.JSONWebKey, error) {
	keys, err := v.keySet(ctx, issuer, false)
	if err != nil {
		return gojose.JSONWebKey{}, err
	}

	if key, ok := findKey(keys, kid); ok {
		return key, nil
	}

	// Unknown kid may mean the issuer rotated keys since the last fetch.
	keys, err = v.keySet(ctx, issuer, true)
	if err != nil {
		return gojose.JSONWebKey{}, err
	}
	if key, ok := findKey(keys, kid); ok {
		return key, nil
	}
	return gojose.JSONWebKey{}, fmt.Errorf("no signing key for kid %q: %w", kid, flow.ErrServerRejected)
}

func (v *Verifier) keySet(ctx context.Context, issuer string, force bool) (gojose.JSONWebKeySet, error) {
	v.mu.Lock()
	cached, ok := v.cache[issuer]
	v.mu.Unlock()
	if ok && !force && time.Since(cached.fetchedAt) < v.cacheTTL {
		return cached.keys, nil
	}

	endpoint := strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gojose.JSONWebKeySet{}, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return gojose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: %w: %v", flow.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gojose.JSONWebKeySet{}, fmt.Errorf("read jwks: %w", flow.ErrTransport)
	}
	if resp.StatusCode >= 300 {
		return gojose.JSONWebKeySet{}, fmt.Errorf("jwks fetch failed: status=%d: %w", resp.StatusCode, flow.ErrTransport)
	}

	var keys gojose.JSONWebKeySet
	if err := json.Unmarshal(body, &keys); err != nil {
		return gojose.JSONWebKeySet{}, fmt.Errorf("decode jwks: %w", flow.ErrInvalidServerResponse)
	}

	v.mu.Lock()
	v.cache[issuer] = cachedKeySet{keys: keys, fetchedAt: time.Now()}
	v.mu.Unlock()
	v.logger.Debug("jwks refreshed", zap.String("issuer", issuer), zap.Int("keys", len(keys.Keys)))
	return keys, nil
}

func findKey(set gojose.JSONWebKeySet, kid string) (gojose.JSONWebKey, bool) {
	if kid == "" {
		if len(set.Keys) == 1 {
			return set.Keys[0], true
		}
		return gojose.JSONWebKey{}, false
	}
	for _, key := range set.Keys {
		if key.KeyID == kid {
			return key, true
		}
	}
	return gojose.JSONWebKey{}, false
}
