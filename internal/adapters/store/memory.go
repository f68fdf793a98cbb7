// Package store provides the in-memory session store. Session state is
// process-lifetime only; nothing survives a restart.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// Memory implements ports.SessionStore with a mutex-guarded map. The idle
// expiry policy lives here: a session is expired when its last activity is
// older than the configured TTL.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	idleTTL  time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewMemory creates an empty store with the given idle TTL.
func NewMemory(idleTTL time.Duration) *Memory {
	return &Memory{
		sessions: make(map[string]*domain.Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Create mints a new session for the user. The store owns session identity.
func (m *Memory) Create(ctx context.Context, userID string) (*domain.Session, error) {
	now := m.now()
	sess := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Status:       domain.SessionStarting,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     make(map[string]string),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return copySession(sess), nil
}

// Get returns a copy of the session or ErrSessionNotFound.
func (m *Memory) Get(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return copySession(sess), nil
}

// List returns copies of all sessions.
func (m *Memory) List(ctx context.Context) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, copySession(sess))
	}
	return out, nil
}

// Update applies mutate to the stored session under the store's lock.
func (m *Memory) Update(ctx context.Context, id string, mutate func(*domain.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	mutate(sess)
	return nil
}

// Delete removes the session. Deleting an absent session is a no-op.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Touch refreshes the session's last-activity marker.
func (m *Memory) Touch(ctx context.Context, id string) error {
	return m.Update(ctx, id, func(s *domain.Session) {
		s.LastActivity = m.now()
	})
}

// Expired returns sessions idle longer than the TTL as of now. Sessions
// already stopped are skipped; errored sessions are included so their
// cleanup is retried.
func (m *Memory) Expired(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Session
	for _, sess := range m.sessions {
		if sess.Status == domain.SessionStopped {
			continue
		}
		if now.Sub(sess.LastActivity) > m.idleTTL {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

// copySession returns a deep copy so callers never alias store-owned state.
func copySession(s *domain.Session) *domain.Session {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
