package domain

import "time"

// ReaperEventType identifies the kind of event emitted by the expiry reaper.
type ReaperEventType int

const (
	// EventSessionCleaned is emitted after a session's container is torn down
	// and its record deleted. SessionID identifies the session.
	EventSessionCleaned ReaperEventType = iota

	// EventSessionCleanupError is emitted when cleaning one session fails.
	// The session record stays in place for a later retry.
	EventSessionCleanupError

	// EventCleanupCompleted is emitted at the end of each reaper cycle.
	// Cleaned and Failed carry the cycle totals.
	EventCleanupCompleted

	// EventCleanupError is emitted when a cycle cannot even list expired
	// sessions.
	EventCleanupError
)

// ReaperEvent is one observation from the session expiry reaper. Events are
// emitted after the corresponding state mutation has completed.
type ReaperEvent struct {
	Type      ReaperEventType
	SessionID string
	Err       error
	Cleaned   int
	Failed    int
	Time      time.Time
}
