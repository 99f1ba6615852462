// Package sessions enforces that an identity owns at most one active session.
//
// Bindings live in process memory only. They are cleared by an explicit
// logout, never by a dropped realtime connection, and a restart resets them.
package sessions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyActive is returned when another session is already bound to the identity.
	ErrAlreadyActive = errors.New("identity already has an active session")
	// ErrInvalidSession is returned for an empty identity or session id.
	ErrInvalidSession = errors.New("identity and session id are required")
)

// Guard maps identities to their single active session id.
type Guard struct {
	mu     sync.RWMutex
	active map[string]string
}

func NewGuard() *Guard {
	return &Guard{active: make(map[string]string)}
}

// TryAcquire binds sessionID to identity. It succeeds when the identity is
// free or already bound to the same session, and fails with ErrAlreadyActive
// when a different session holds it. A rejected call leaves the existing
// binding untouched.
func (g *Guard) TryAcquire(identity, sessionID string) error {
	if identity == "" || sessionID == "" {
		return ErrInvalidSession
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"identity": identity, "session_id": sessionID})
	if current, ok := g.active[identity]; ok && current != sessionID {
		log.WithField("active_session_id", current).Warn("Rejected second session for identity")
		return fmt.Errorf("acquire %s: %w", identity, ErrAlreadyActive)
	}

	g.active[identity] = sessionID
	log.Debug("Session bound to identity")
	return nil
}

// Release clears whatever session is bound to identity. Logout goes through
// ReleaseSession so a stale token cannot free another browser's binding.
func (g *Guard) Release(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.active[identity]; ok {
		delete(g.active, identity)
		logrus.WithField("identity", identity).Info("Session released")
	}
}

// ReleaseSession clears the binding only if sessionID is the one holding it.
// It reports whether a binding was removed.
func (g *Guard) ReleaseSession(identity, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.active[identity]
	if !ok || current != sessionID {
		return false
	}
	delete(g.active, identity)
	logrus.WithFields(logrus.Fields{"identity": identity, "session_id": sessionID}).Info("Session released")
	return true
}

// Active returns the session id currently bound to identity.
func (g *Guard) Active(identity string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sessionID, ok := g.active[identity]
	return sessionID, ok
}

// IsActive reports whether sessionID is the active session of identity.
func (g *Guard) IsActive(identity, sessionID string) bool {
	current, ok := g.Active(identity)
	return ok && sessionID != "" && current == sessionID
}

// Len returns the number of identities with an active session.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.active)
}
