// Package session holds the per-browser-session pending OAuth context.
//
// A pending context exists only while an installation flow is in flight:
// created when the user is redirected to GitHub, read by the callback, and
// cleared once the flow reaches a point where a retry can no longer succeed.
// Session storage is an external concern in the larger product; this
// in-process manager is the deployment used by a single gitlink instance.
package session

import (
	"sync"
	"time"

	"github.com/sakif/gitlink/internal/auth"
)

// OAuthContext is the transient record correlating a callback to the session
// that initiated the flow.
type OAuthContext struct {
	// State is the pending OAuth state token embedded in the redirect URL.
	State string
	// ReturnTo is where the browser is sent after a completed link.
	ReturnTo string
	// UserID is the internal ID of the user who initiated the flow. The
	// callback binds the credential to this user, never to anything the
	// callback query claims.
	UserID string
}

// Manager stores one pending OAuthContext per session ID.
type Manager struct {
	namespace string
	ttl       time.Duration

	mu      sync.Mutex
	pending map[string]entry
}

type entry struct {
	ctx       OAuthContext
	expiresAt time.Time
}

// NewManager creates a Manager. namespace prefixes every generated state
// token; ttl bounds how long a pending context stays consumable (the OAuth
// window, typically 10 minutes).
func NewManager(namespace string, ttl time.Duration) *Manager {
	return &Manager{
		namespace: namespace,
		ttl:       ttl,
		pending:   make(map[string]entry),
	}
}

// Begin generates a fresh state token and stores a new pending context for
// the session, returning the state for embedding in the outbound redirect.
//
// A second Begin for the same session overwrites the first: the superseded
// state token becomes invalid immediately, so an abandoned redirect can never
// be replayed against a newer flow.
func (m *Manager) Begin(sessionID, returnTo, userID string) string {
	state := auth.GenerateState(m.namespace)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[sessionID] = entry{
		ctx: OAuthContext{
			State:    state,
			ReturnTo: returnTo,
			UserID:   userID,
		},
		expiresAt: time.Now().Add(m.ttl),
	}

	return state
}

// Peek returns the session's pending context without clearing it. Clearing is
// the orchestrator's call — it happens only once the flow is past the point
// of safe retry. Expired contexts are dropped and reported as absent.
func (m *Manager) Peek(sessionID string) (OAuthContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pending[sessionID]
	if !ok {
		return OAuthContext{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.pending, sessionID)
		return OAuthContext{}, false
	}
	return e.ctx, true
}

// Clear removes the session's pending context. Idempotent.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, sessionID)
}
