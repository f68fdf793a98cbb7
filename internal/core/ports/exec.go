package ports

import (
	"context"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// ExecService manages interactive command streams attached to one running
// container. Session keys are chosen by the caller and independent of the
// container's identity.
type ExecService interface {
	// CreateSession registers an inactive exec session; it does not start it.
	CreateSession(ctx context.Context, key string, spec domain.ExecSpec) error

	// StartSession attaches the duplex stream and marks the session active.
	StartSession(ctx context.Context, key string) error

	// Write forwards bytes to an active session's stdin. Returns false (no
	// error) when the session is missing or inactive; otherwise reports the
	// underlying write's acceptance as a back-pressure signal.
	Write(key string, data []byte) bool

	// Resize requests a TTY geometry change. No-op with a warning when the
	// session is inactive.
	Resize(ctx context.Context, key string, cols, rows uint) error

	// Kill delivers a signal to the session's process best-effort and always
	// cleans the session up afterwards.
	Kill(ctx context.Context, key string, signal string) error

	// Cleanup tears one session down. Idempotent.
	Cleanup(key string)

	// CleanupAll tears every tracked session down. Used at shutdown.
	CleanupAll()
}
