package ports

import (
	"context"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// ContainerService defines the core operations for managing sandbox
// containers. This interface allows us to switch between Docker, Podman, or
// Kubernetes without changing the business logic.
type ContainerService interface {
	// Create allocates a container for the session without starting it.
	// On failure no global state is mutated.
	Create(ctx context.Context, sessionID string) (*domain.ContainerRecord, error)

	// Start transitions a created container to running and returns the
	// discovered host port mappings.
	Start(ctx context.Context, id string) (map[string]string, error)

	// Run is Create followed by Start. If Start fails after a successful
	// Create, the orphaned container is forcibly removed before the start
	// error is returned.
	Run(ctx context.Context, sessionID string) (*domain.ContainerRecord, error)

	// Stop gracefully stops and removes a container. "Already absent" and
	// "already stopped" are success, not errors.
	Stop(ctx context.Context, id string) error

	// Inspect returns the container record, or nil exactly when the
	// container does not exist. Engine errors are logged and also yield nil;
	// inspection is best-effort.
	Inspect(ctx context.Context, id string) (*domain.ContainerRecord, error)

	// CleanupAllByLabel stops every container matching this manager's
	// session label convention, aggregating outcomes without
	// short-circuiting on the first failure.
	CleanupAllByLabel(ctx context.Context) (*domain.CleanupSummary, error)
}
