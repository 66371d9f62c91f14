package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus() *Bus {
	return NewBus([]string{"https://console.example.com"}, zap.NewNop())
}

func TestPublishDeliversOnce(t *testing.T) {
	bus := newTestBus()
	ch := bus.Register("state-1", 0)

	delivered := bus.Publish("https://console.example.com", Message{
		Type:  MessageType,
		State: "state-1",
		Code:  "code-1",
	})
	require.True(t, delivered)

	result := <-ch
	require.Equal(t, "code-1", result.Code)

	// A repeated message for a served state is dropped.
	require.False(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "state-1"}))
}

func TestPublishBeforeWaiterAttaches(t *testing.T) {
	bus := newTestBus()
	bus.Register("state-late", 0)

	require.True(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "state-late", Code: "c"}))

	ch, ok := bus.Waiter("state-late")
	require.True(t, ok)
	result := <-ch
	require.Equal(t, "c", result.Code)
}

func TestPublishDropsUntrustedOrigin(t *testing.T) {
	bus := newTestBus()
	ch := bus.Register("state-2", 0)

	delivered := bus.Publish("https://evil.example.com", Message{
		Type:  MessageType,
		State: "state-2",
		Code:  "stolen",
	})
	require.False(t, delivered)
	select {
	case <-ch:
		t.Fatal("message from untrusted origin must not be delivered")
	default:
	}
}

func TestPublishDropsUnexpectedType(t *testing.T) {
	bus := newTestBus()
	bus.Register("state-3", 0)
	require.False(t, bus.Publish("https://console.example.com", Message{Type: "other", State: "state-3"}))
}

func TestPublishWithoutWaiterIsNoise(t *testing.T) {
	bus := newTestBus()
	require.False(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "nobody"}))
}

func TestRegisterReplacesPreviousWaiter(t *testing.T) {
	bus := newTestBus()
	first := bus.Register("state-4", 0)
	second := bus.Register("state-4", 0)

	_, ok := <-first
	require.False(t, ok)

	require.True(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "state-4", Code: "c"}))
	result := <-second
	require.Equal(t, "c", result.Code)
}

func TestDeregisterClosesWaiter(t *testing.T) {
	bus := newTestBus()
	ch := bus.Register("state-5", 0)
	bus.Deregister("state-5")

	_, ok := <-ch
	require.False(t, ok)
	require.False(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "state-5"}))

	_, ok = bus.Waiter("state-5")
	require.False(t, ok)
}

func TestExpiredWaiterIsGone(t *testing.T) {
	bus := newTestBus()
	current := time.Now()
	bus.now = func() time.Time { return current }

	ch := bus.Register("state-6", 50*time.Millisecond)
	current = current.Add(120 * time.Millisecond)

	_, ok := bus.Waiter("state-6")
	require.False(t, ok)
	_, open := <-ch
	require.False(t, open)
	require.False(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "state-6", Code: "c"}))
}

func TestPublishDropsExpiredWaiter(t *testing.T) {
	bus := newTestBus()
	current := time.Now()
	bus.now = func() time.Time { return current }

	bus.Register("state-7", time.Minute)
	current = current.Add(2 * time.Minute)

	require.False(t, bus.Publish("https://console.example.com", Message{Type: MessageType, State: "state-7", Code: "c"}))
	_, ok := bus.Waiter("state-7")
	require.False(t, ok)
}

func TestRegisterPrunesAbandonedWaiters(t *testing.T) {
	bus := newTestBus()
	current := time.Now()
	bus.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		bus.Register("stale-"+string(rune('a'+i)), time.Second)
	}
	current = current.Add(2 * time.Second)

	bus.Register("fresh", time.Minute)
	bus.mu.Lock()
	remaining := len(bus.waiters)
	bus.mu.Unlock()
	require.Equal(t, 1, remaining)
}

func TestOriginNormalization(t *testing.T) {
	bus := NewBus([]string{"HTTPS://Console.Example.com/"}, zap.NewNop())
	require.True(t, bus.OriginAllowed("https://console.example.com"))
	require.False(t, bus.OriginAllowed("https://console.example.com.evil.com"))
}
