package flow

import "errors"

var (
	// ErrValidation indicates malformed or missing request parameters,
	// detected before any network call.
	ErrValidation = errors.New("flow: invalid request")
	// ErrProtocol indicates a broken protocol invariant such as a state
	// mismatch, a replayed challenge, or an unsupported response_type.
	// Fatal to the current session, never retried.
	ErrProtocol = errors.New("flow: protocol violation")
	// ErrTransport indicates a network or delivery failure. Retryable with
	// a fresh session.
	ErrTransport = errors.New("flow: transport failure")
	// ErrCallbackTimeout indicates no callback arrived within the session
	// window. The pending session is released.
	ErrCallbackTimeout = errors.New("flow: callback timeout")
	// ErrPlatform indicates a failure of the platform credential capability.
	ErrPlatform = errors.New("flow: platform failure")
	// ErrNotSupported indicates the platform lacks the credential capability.
	ErrNotSupported = errors.New("flow: credential capability not supported")
	// ErrUserCancelled indicates the user dismissed the credential prompt.
	// A normal outcome, not a fault.
	ErrUserCancelled = errors.New("flow: user cancelled")
	// ErrCeremonyTimeout indicates the credential prompt expired.
	ErrCeremonyTimeout = errors.New("flow: ceremony timeout")
	// ErrServerRejected indicates the authorization server refused a
	// signature, attestation, or consent decision. Terminal.
	ErrServerRejected = errors.New("flow: rejected by server")
	// ErrInvalidServerResponse indicates the server returned a malformed
	// challenge or payload.
	ErrInvalidServerResponse = errors.New("flow: invalid server response")
	// ErrUnavailable indicates the server does not expose a required
	// capability. Surfaced explicitly, never a silent empty result.
	ErrUnavailable = errors.New("flow: capability unavailable")
	// ErrDenied indicates the end user declined the authorization request.
	ErrDenied = errors.New("flow: access denied")
	// ErrSessionConsumed indicates a second finalize or decision against an
	// already consumed session.
	ErrSessionConsumed = errors.New("flow: session already consumed")
)
