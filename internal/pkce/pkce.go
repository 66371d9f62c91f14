// Package pkce produces verifier/challenge pairs for the Proof Key for Code
// Exchange extension (RFC 7636, S256 only).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/nortide/console-auth/internal/encoding"
)

// MethodS256 is the only challenge method this service emits.
const MethodS256 = "S256"

const verifierBytes = 32

// Pair holds a fresh verifier and its derived challenge. The verifier stays
// with the initiating session and leaves only at code exchange.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// Generate draws a new verifier from the system CSPRNG and derives its
// challenge. There is no fallback source: an RNG failure fails the call.
func Generate() (Pair, error) {
	buf := make([]byte, verifierBytes)
	if _, err := rand.Read(buf); err != nil {
		return Pair{}, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := encoding.Encode(buf)
	return Pair{
		Verifier:  verifier,
		Challenge: ChallengeFor(verifier),
		Method:    MethodS256,
	}, nil
}

// ChallengeFor derives the S256 challenge for a verifier.
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return encoding.Encode(sum[:])
}
