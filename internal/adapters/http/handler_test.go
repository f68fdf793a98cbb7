package http

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
)

// fakeNotifier records delivered notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	expired  []string
	orphaned []string
}

func (f *fakeNotifier) HandleSessionExpired(ctx context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, sessionID)
}

func (f *fakeNotifier) HandleOrphanedContainer(ctx context.Context, containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphaned = append(f.orphaned, containerID)
}

func TestNotificationEndpointsDelegateToReaper(t *testing.T) {
	notifier := &fakeNotifier{}
	// The notification endpoints touch only the notifier.
	h := NewSessionHandler(nil, nil, notifier)

	app := fiber.New()
	app.Post("/api/v1/sessions/:id/expired", h.NotifySessionExpired)
	app.Post("/api/v1/containers/:id/orphaned", h.NotifyOrphanedContainer)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/sessions/sess-9/expired", nil))
	if err != nil {
		t.Fatalf("expired notification request: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/containers/ctr-7/orphaned", nil))
	if err != nil {
		t.Fatalf("orphaned notification request: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.expired) != 1 || notifier.expired[0] != "sess-9" {
		t.Errorf("expired = %v, want [sess-9]", notifier.expired)
	}
	if len(notifier.orphaned) != 1 || notifier.orphaned[0] != "ctr-7" {
		t.Errorf("orphaned = %v, want [ctr-7]", notifier.orphaned)
	}
}
