// Package session keeps the short-lived state records of in-flight
// authorization attempts. Records are keyed by OAuth state, carry the PKCE
// verifier, and are consumed exactly once. Nothing here is durable.
package session

import (
	"context"
	"time"

	"github.com/nortide/console-auth/internal/domain/flow"
)

// Session is the record persisted between initiate and finalize.
type Session struct {
	State        string         `json:"state"`
	Nonce        string         `json:"nonce"`
	CodeVerifier string         `json:"code_verifier"`
	Issuer       string         `json:"issuer"`
	ClientID     string         `json:"client_id"`
	RedirectURI  string         `json:"redirect_uri"`
	Scopes       []string       `json:"scopes"`
	Transport    flow.Transport `json:"transport"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store persists pending sessions with a bounded lifetime.
//
// Consume is the only way to read a verifier out: it removes the record
// atomically so a second consume of the same state always misses.
type Store interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*Session, error)
	Delete(ctx context.Context, state string) error
}
