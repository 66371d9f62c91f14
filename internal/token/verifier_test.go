package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
)

type issuerFixture struct {
	server  *httptest.Server
	key     *rsa.PrivateKey
	kid     string
	fetches atomic.Int64
}

func newIssuerFixture(t *testing.T) *issuerFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fx := &issuerFixture{key: key, kid: "key-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		fx.fetches.Add(1)
		set := gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     fx.kid,
			Algorithm: string(gojose.RS256),
			Use:       "sig",
		}}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	})
	fx.server = httptest.NewServer(mux)
	t.Cleanup(fx.server.Close)
	return fx
}

func (f *issuerFixture) issuer() string { return f.server.URL }

func (f *issuerFixture) signToken(t *testing.T, std gojwt.Claims, custom IDTokenClaims) string {
	t.Helper()

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: f.key},
		(&gojose.SignerOptions{}).WithHeader("kid", f.kid),
	)
	require.NoError(t, err)

	raw, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	require.NoError(t, err)
	return raw
}

func baseClaims(issuer string) gojwt.Claims {
	now := time.Now()
	return gojwt.Claims{
		Issuer:   issuer,
		Subject:  "user-1",
		Audience: gojwt.Audience{"console-client"},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestVerifyHappyPath(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	raw := fx.signToken(t, baseClaims(fx.issuer()), IDTokenClaims{
		Email: "user@example.com",
		Nonce: "nonce-1",
	})

	std, custom, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "nonce-1", raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", std.Subject)
	require.Equal(t, "user@example.com", custom.Email)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	raw := fx.signToken(t, baseClaims("https://evil.example.com"), IDTokenClaims{})

	_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", raw)
	require.ErrorIs(t, err, flow.ErrServerRejected)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	claims := baseClaims(fx.issuer())
	claims.Audience = gojwt.Audience{"someone-else"}
	raw := fx.signToken(t, claims, IDTokenClaims{})

	_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", raw)
	require.ErrorIs(t, err, flow.ErrServerRejected)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	claims := baseClaims(fx.issuer())
	claims.Expiry = gojwt.NewNumericDate(time.Now().Add(-time.Hour))
	raw := fx.signToken(t, claims, IDTokenClaims{})

	_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", raw)
	require.ErrorIs(t, err, flow.ErrServerRejected)
}

func TestVerifyRejectsNonceMismatch(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	raw := fx.signToken(t, baseClaims(fx.issuer()), IDTokenClaims{Nonce: "other"})

	_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "nonce-1", raw)
	require.ErrorIs(t, err, flow.ErrProtocol)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: other},
		(&gojose.SignerOptions{}).WithHeader("kid", fx.kid),
	)
	require.NoError(t, err)
	raw, err := gojwt.Signed(signer).Claims(baseClaims(fx.issuer())).Serialize()
	require.NoError(t, err)

	_, _, verr := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", raw)
	require.ErrorIs(t, verr, flow.ErrServerRejected)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", "not-a-jwt")
	require.ErrorIs(t, err, flow.ErrInvalidServerResponse)
}

func TestVerifyCachesKeySet(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	raw := fx.signToken(t, baseClaims(fx.issuer()), IDTokenClaims{})
	for i := 0; i < 3; i++ {
		_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", raw)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, fx.fetches.Load())
}

func TestVerifyRefetchesOnUnknownKid(t *testing.T) {
	fx := newIssuerFixture(t)
	verifier := NewVerifier(fx.server.Client(), time.Minute, zap.NewNop())

	// Prime the cache under the original kid.
	raw := fx.signToken(t, baseClaims(fx.issuer()), IDTokenClaims{})
	_, _, err := verifier.Verify(context.Background(), fx.issuer(), "console-client", "", raw)
	require.NoError(t, err)

	// Rotate: the issuer now serves key-2, tokens reference it.
	fx.kid = "key-2"
	rotated := fx.signToken(t, baseClaims(fx.issuer()), IDTokenClaims{})
	_, _, err = verifier.Verify(context.Background(), fx.issuer(), "console-client", "", rotated)
	require.NoError(t, err)
	require.EqualValues(t, 2, fx.fetches.Load())
}

func TestVerifyUnreachableIssuer(t *testing.T) {
	verifier := NewVerifier(&http.Client{Timeout: 200 * time.Millisecond}, time.Minute, zap.NewNop())

	fx := newIssuerFixture(t)
	raw := fx.signToken(t, baseClaims("http://127.0.0.1:1"), IDTokenClaims{})

	_, _, err := verifier.Verify(context.Background(), "http://127.0.0.1:1", "console-client", "", raw)
	require.Error(t, err)
	require.True(t, errors.Is(err, flow.ErrTransport))
}
