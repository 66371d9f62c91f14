// Package encoding implements the base64url transcoding shared by every
// challenge, credential ID, and signature crossing the wire.
package encoding

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode returns the unpadded base64url form of raw.
func Encode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode reverses Encode. Padded input is accepted, non-alphabet input is
// rejected. Decode(Encode(b)) == b for every byte sequence.
func Decode(value string) ([]byte, error) {
	trimmed := strings.TrimRight(value, "=")
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	return raw, nil
}
