// Package relay delivers authorization callback results from the transient
// callback context (the popup) to the waiting initiator. Delivery is
// single-shot, keyed by state, and origin-checked before anything is trusted.
package relay

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
)

// MessageType is the only message kind the bus carries.
const MessageType = "oauth_callback"

// Message is the structured payload posted by the callback context.
type Message struct {
	Type             string `json:"type"`
	Code             string `json:"code,omitempty"`
	State            string `json:"state"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type waiter struct {
	ch        chan flow.CallbackResult
	delivered bool
	expiresAt time.Time
}

func (w *waiter) expired(now time.Time) bool {
	return !w.expiresAt.IsZero() && now.After(w.expiresAt)
}

// Bus routes callback messages to at most one registered waiter per state.
// The waiter may attach before or after the message lands; either way the
// result is handed over exactly once.
type Bus struct {
	allowedOrigins map[string]struct{}
	logger         *zap.Logger
	now            func() time.Time

	mu      sync.Mutex
	waiters map[string]*waiter
}

// NewBus creates a bus trusting only the given origins. Origins are compared
// case-insensitively on scheme://host[:port].
func NewBus(allowedOrigins []string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.L()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		cleaned := normalizeOrigin(origin)
		if cleaned != "" {
			allowed[cleaned] = struct{}{}
		}
	}
	return &Bus{
		allowedOrigins: allowed,
		logger:         logger,
		now:            time.Now,
		waiters:        make(map[string]*waiter),
	}
}

// Register installs the single delivery slot for state and returns its
// channel. The slot lives at most ttl (no deadline when ttl is zero); an
// expired or abandoned slot is reclaimed lazily on the next bus access. A
// previous registration for the same state is closed and replaced.
func (b *Bus) Register(state string, ttl time.Duration) <-chan flow.CallbackResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.pruneLocked(now)
	if prev, ok := b.waiters[state]; ok {
		close(prev.ch)
	}
	w := &waiter{ch: make(chan flow.CallbackResult, 1)}
	if ttl > 0 {
		w.expiresAt = now.Add(ttl)
	}
	b.waiters[state] = w
	return w.ch
}

// Waiter returns the channel registered for state without replacing it.
func (b *Bus) Waiter(state string) (<-chan flow.CallbackResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.waiters[state]
	if !ok {
		return nil, false
	}
	if w.expired(b.now()) {
		close(w.ch)
		delete(b.waiters, state)
		return nil, false
	}
	return w.ch, true
}

// Deregister removes the slot for state, if any. Safe after delivery.
func (b *Bus) Deregister(state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.waiters[state]; ok {
		close(w.ch)
		delete(b.waiters, state)
	}
}

// Publish hands a message to the slot registered for its state. Messages
// from unlisted origins are dropped before reaching any slot; messages with
// no matching slot are unrelated noise, not an error. A second message for
// an already served state is dropped.
func (b *Bus) Publish(origin string, msg Message) bool {
	if msg.Type != MessageType {
		b.logger.Debug("relay dropped message with unexpected type", zap.String("type", msg.Type))
		return false
	}
	if !b.OriginAllowed(origin) {
		b.logger.Warn("relay dropped message from untrusted origin", zap.String("origin", origin))
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.waiters[msg.State]
	if !ok {
		b.logger.Debug("relay message without waiter", zap.String("state", msg.State))
		return false
	}
	if w.expired(b.now()) {
		close(w.ch)
		delete(b.waiters, msg.State)
		b.logger.Debug("relay message for expired waiter", zap.String("state", msg.State))
		return false
	}
	if w.delivered {
		b.logger.Warn("relay dropped repeated message", zap.String("state", msg.State))
		return false
	}
	w.delivered = true
	w.ch <- flow.CallbackResult{
		State:            msg.State,
		Code:             msg.Code,
		Error:            msg.Error,
		ErrorDescription: msg.ErrorDescription,
	}
	return true
}

func (b *Bus) pruneLocked(now time.Time) {
	for state, w := range b.waiters {
		if w.expired(now) {
			close(w.ch)
			delete(b.waiters, state)
		}
	}
}

// OriginAllowed reports whether origin is on the allow-list.
func (b *Bus) OriginAllowed(origin string) bool {
	_, ok := b.allowedOrigins[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
