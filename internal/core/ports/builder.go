package ports

import (
	"context"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// ImageService defines operations for provisioning the sandbox base image.
// All three operations report failures as structured results, never panics.
type ImageService interface {
	// Inspect queries the engine for the configured image. A missing image
	// is a normal negative result.
	Inspect(ctx context.Context) domain.InspectResult

	// Build builds the image from the configured build context, retaining
	// the streamed build log lines.
	Build(ctx context.Context) domain.BuildResult

	// Ensure inspects first, builds only if absent, then inspects again to
	// confirm. Idempotent fast path: never builds when the image exists.
	Ensure(ctx context.Context) domain.InspectResult
}
