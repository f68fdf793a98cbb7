package ports

import (
	"context"
	"time"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// SessionStore is the external session registry. The core never invents
// session identity and mutates sessions only through Update/Delete.
type SessionStore interface {
	Create(ctx context.Context, userID string) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)

	// Update applies mutate to the stored session under the store's lock.
	Update(ctx context.Context, id string, mutate func(*domain.Session)) error

	Delete(ctx context.Context, id string) error

	// Touch refreshes the session's last-activity marker.
	Touch(ctx context.Context, id string) error

	// Expired returns sessions whose last activity is older than the store's
	// idle policy as of now. The expiry policy lives in the store, not in
	// its callers.
	Expired(ctx context.Context, now time.Time) ([]*domain.Session, error)
}
