package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/pkce"
	"github.com/nortide/console-auth/internal/relay"
	"github.com/nortide/console-auth/internal/session"
)

const testOrigin = "https://console.example.com"

type harness struct {
	coordinator *Coordinator
	store       *session.MemoryStore
	bus         *relay.Bus
}

func newHarness(callbackWindow time.Duration) *harness {
	store := session.NewMemoryStore()
	bus := relay.NewBus([]string{testOrigin}, zap.NewNop())
	return &harness{
		coordinator: NewCoordinator(store, bus, 5*time.Minute, callbackWindow, zap.NewNop()),
		store:       store,
		bus:         bus,
	}
}

func validInput(transport flow.Transport) InitiateInput {
	return InitiateInput{
		Issuer:      "https://id.example.com",
		ClientID:    "c1",
		RedirectURI: "https://app/cb",
		Scopes:      []string{"openid", "profile"},
		Transport:   transport,
	}
}

func TestInitiateBuildsAuthorizeURL(t *testing.T) {
	h := newHarness(time.Minute)
	out, err := h.coordinator.Initiate(context.Background(), validInput(flow.TransportRedirect))
	require.NoError(t, err)
	require.NotEmpty(t, out.State)
	require.Contains(t, out.AuthorizationURL, "https://id.example.com/oauth/authorize?")
	require.Contains(t, out.AuthorizationURL, "client_id=c1")
	require.Contains(t, out.AuthorizationURL, "response_type=code")
	require.Contains(t, out.AuthorizationURL, "code_challenge_method=S256")
	require.Contains(t, out.AuthorizationURL, "state="+out.State)
	require.Contains(t, out.AuthorizationURL, "scope=openid+profile")
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	cases := []InitiateInput{
		{Issuer: "https://id.example.com", RedirectURI: "https://app/cb", Scopes: []string{"openid"}},
		{Issuer: "https://id.example.com", ClientID: "c1", Scopes: []string{"openid"}},
		{Issuer: "https://id.example.com", ClientID: "c1", RedirectURI: "not-a-url", Scopes: []string{"openid"}},
		{Issuer: "https://id.example.com", ClientID: "c1", RedirectURI: "https://app/cb"},
		{Issuer: "https://id.example.com", ClientID: "c1", RedirectURI: "https://app/cb", Scopes: []string{"openid"}, Transport: "iframe"},
	}
	for _, in := range cases {
		_, err := h.coordinator.Initiate(ctx, in)
		require.ErrorIs(t, err, flow.ErrValidation)
	}
}

func TestFinalizeRequiresMatchingState(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)

	// Swapped state is a hard failure and releases nothing.
	_, err = h.coordinator.Finalize(ctx, flow.CallbackResult{State: "swapped", Code: "code"})
	require.ErrorIs(t, err, flow.ErrProtocol)

	// The original session is still intact and can be finalized.
	fin, err := h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Code: "code"})
	require.NoError(t, err)
	require.Equal(t, "code", fin.Code)
	require.NotEmpty(t, fin.CodeVerifier)
	require.Equal(t, "c1", fin.ClientID)
	require.Equal(t, "https://id.example.com", fin.Issuer)
}

func TestFinalizeConsumesSession(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)

	_, err = h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Code: "code"})
	require.NoError(t, err)

	_, err = h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Code: "code"})
	require.ErrorIs(t, err, flow.ErrProtocol)
}

func TestFinalizeVerifierMatchesChallenge(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)

	fin, err := h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Code: "code"})
	require.NoError(t, err)
	require.Contains(t, out.AuthorizationURL, "code_challenge="+pkce.ChallengeFor(fin.CodeVerifier))
}

func TestFinalizeDenied(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)

	_, err = h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Error: "access_denied"})
	require.ErrorIs(t, err, flow.ErrDenied)
}

func TestFinalizeProviderError(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)

	_, err = h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Error: "server_error", ErrorDescription: "boom"})
	require.ErrorIs(t, err, flow.ErrServerRejected)
}

func TestPopupDelivery(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportPopup))
	require.NoError(t, err)

	go func() {
		h.bus.Publish(testOrigin, relay.Message{
			Type:  relay.MessageType,
			State: out.State,
			Code:  "popup-code",
		})
	}()

	result, err := h.coordinator.Await(ctx, out.State)
	require.NoError(t, err)
	require.Equal(t, "popup-code", result.Code)

	fin, err := h.coordinator.Finalize(ctx, result)
	require.NoError(t, err)
	require.Equal(t, "popup-code", fin.Code)
}

func TestAwaitTimeoutReleasesSession(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	ctx := context.Background()

	out, err := h.coordinator.Initiate(ctx, validInput(flow.TransportPopup))
	require.NoError(t, err)

	_, err = h.coordinator.Await(ctx, out.State)
	require.ErrorIs(t, err, flow.ErrCallbackTimeout)

	// The late callback finds neither a relay slot nor a session entry.
	require.False(t, h.bus.Publish(testOrigin, relay.Message{Type: relay.MessageType, State: out.State, Code: "late"}))
	_, err = h.coordinator.Finalize(ctx, flow.CallbackResult{State: out.State, Code: "late"})
	require.ErrorIs(t, err, flow.ErrProtocol)
}

func TestAbandonedPopupWaiterExpiresWithSession(t *testing.T) {
	store := session.NewMemoryStore()
	bus := relay.NewBus([]string{testOrigin}, zap.NewNop())
	coordinator := NewCoordinator(store, bus, 50*time.Millisecond, 50*time.Millisecond, zap.NewNop())

	out, err := coordinator.Initiate(context.Background(), validInput(flow.TransportPopup))
	require.NoError(t, err)
	_, ok := bus.Waiter(out.State)
	require.True(t, ok)

	// The opener never awaits; once the session TTL passes, the relay slot
	// must be gone along with the session.
	time.Sleep(120 * time.Millisecond)
	_, ok = bus.Waiter(out.State)
	require.False(t, ok)
	require.False(t, bus.Publish(testOrigin, relay.Message{Type: relay.MessageType, State: out.State, Code: "late"}))
}

func TestAwaitCancellationReleasesSession(t *testing.T) {
	h := newHarness(time.Minute)

	out, err := h.coordinator.Initiate(context.Background(), validInput(flow.TransportPopup))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.coordinator.Await(ctx, out.State)
	require.ErrorIs(t, err, flow.ErrTransport)

	_, err = h.coordinator.Finalize(context.Background(), flow.CallbackResult{State: out.State, Code: "c"})
	require.ErrorIs(t, err, flow.ErrProtocol)
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	h := newHarness(time.Minute)
	ctx := context.Background()

	first, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)
	second, err := h.coordinator.Initiate(ctx, validInput(flow.TransportRedirect))
	require.NoError(t, err)
	require.NotEqual(t, first.State, second.State)

	finSecond, err := h.coordinator.Finalize(ctx, flow.CallbackResult{State: second.State, Code: "c2"})
	require.NoError(t, err)
	finFirst, err := h.coordinator.Finalize(ctx, flow.CallbackResult{State: first.State, Code: "c1"})
	require.NoError(t, err)
	require.NotEqual(t, finFirst.CodeVerifier, finSecond.CodeVerifier)
}
