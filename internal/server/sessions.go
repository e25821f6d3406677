package server

import (
	"context"
	"sync"
	"time"
)

// sessionManager maps bearer tokens to account ids. Tokens are minted
// by the OTP flow and expire after a fixed lifetime.
type sessionManager struct {
	mu       sync.RWMutex
	sessions map[string]session
	ttl      time.Duration
}

type session struct {
	accountID string
	expiresAt time.Time
}

func newSessionManager(ttl time.Duration) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]session),
		ttl:      ttl,
	}
}

func (m *sessionManager) put(token, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = session{accountID: accountID, expiresAt: time.Now().Add(m.ttl)}
}

// resolve returns the account id for a live token.
func (m *sessionManager) resolve(token string) (string, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok || time.Now().After(sess.expiresAt) {
		return "", false
	}
	return sess.accountID, true
}

// reap drops expired sessions until ctx is cancelled.
func (m *sessionManager) reap(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for token, sess := range m.sessions {
				if now.After(sess.expiresAt) {
					delete(m.sessions, token)
				}
			}
			m.mu.Unlock()
		}
	}
}
