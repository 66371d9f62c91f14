package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nortide/console-auth/internal/domain/flow"
)

func TestMemoryStoreConsumeOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := Session{
		State:        "state-1",
		CodeVerifier: "verifier-1",
		ClientID:     "c1",
		Transport:    flow.TransportPopup,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.Save(ctx, sess, time.Minute))

	got, err := store.Consume(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "verifier-1", got.CodeVerifier)

	again, err := store.Consume(ctx, "state-1")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestMemoryStoreUnknownState(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Consume(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Save(ctx, Session{State: "state-2", CodeVerifier: "v"}, time.Minute))

	current = current.Add(2 * time.Minute)
	got, err := store.Consume(ctx, "state-2")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Session{State: "state-3"}, time.Minute))
	require.NoError(t, store.Delete(ctx, "state-3"))

	got, err := store.Consume(ctx, "state-3")
	require.NoError(t, err)
	require.Nil(t, got)
}
