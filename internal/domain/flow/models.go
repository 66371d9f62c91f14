package flow

import "time"

// Transport selects how the authorization hop reaches the user agent.
type Transport string

const (
	TransportPopup    Transport = "popup"
	TransportRedirect Transport = "redirect"
)

// AuthorizationRequest carries the parameters of an authorization-code
// request with PKCE. ResponseType is always "code".
type AuthorizationRequest struct {
	ClientID            string   `json:"client_id"`
	ResponseType        string   `json:"response_type"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes"`
	State               string   `json:"state"`
	CodeChallenge       string   `json:"code_challenge"`
	CodeChallengeMethod string   `json:"code_challenge_method"`
}

// ConsentSession describes a pending consent decision as resolved by the
// authorization server. It lives for a single page view and is consumed by
// exactly one decision.
type ConsentSession struct {
	ClientID            string  `json:"client_id"`
	ClientName          string  `json:"client_name"`
	RequestedScopes     []Scope `json:"scopes"`
	RedirectURI         string  `json:"redirect_uri"`
	State               string  `json:"state"`
	CodeChallenge       string  `json:"code_challenge"`
	CodeChallengeMethod string  `json:"code_challenge_method"`
}

// Scope is a requested permission with display metadata.
type Scope struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// CallbackResult is the outcome the authorization hop hands back: either a
// code, an explicit denial, or a provider error. State always accompanies it.
type CallbackResult struct {
	State            string `json:"state"`
	Code             string `json:"code,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Denied reports whether the callback carries an explicit user denial.
func (r CallbackResult) Denied() bool {
	return r.Error == "access_denied"
}

// PasskeyRecord is the server-owned view of a registered credential. The
// console lists, renames, and deletes records by ID only.
type PasskeyRecord struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"device_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
