package domain

import (
	"strconv"
	"time"
)

// SessionStatus is the externally visible state of a user session.
type SessionStatus string

const (
	SessionStarting SessionStatus = "starting"
	SessionRunning  SessionStatus = "running"
	SessionStopping SessionStatus = "stopping"
	SessionStopped  SessionStatus = "stopped"
	SessionError    SessionStatus = "error"
)

// metadataErrorCount is the metadata key holding the cleanup error counter.
const metadataErrorCount = "error_count"

// Session is one user's sandbox. It is owned by the session store; the core
// reads it and updates status/metadata through the store's API, never
// directly. A session owns at most one container.
type Session struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	ContainerID   string            `json:"container_id,omitempty"`
	ContainerName string            `json:"container_name,omitempty"`
	Status        SessionStatus     `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActivity  time.Time         `json:"last_activity"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ErrorCount returns the number of failed cleanup attempts recorded for the
// session. Zero when the counter is absent or malformed.
func (s *Session) ErrorCount() int {
	if s.Metadata == nil {
		return 0
	}
	n, err := strconv.Atoi(s.Metadata[metadataErrorCount])
	if err != nil {
		return 0
	}
	return n
}

// IncrementErrorCount bumps the cleanup error counter in the session metadata.
func (s *Session) IncrementErrorCount() {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[metadataErrorCount] = strconv.Itoa(s.ErrorCount() + 1)
}
