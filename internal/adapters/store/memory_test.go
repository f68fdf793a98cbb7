package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

func TestCreateAndGet(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	sess, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session created without an id")
	}
	if sess.Status != domain.SessionStarting {
		t.Errorf("status = %q, want %q", sess.Status, domain.SessionStarting)
	}

	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("user = %q, want user-1", got.UserID)
	}
}

func TestGetUnknownSession(t *testing.T) {
	m := NewMemory(time.Minute)
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestUpdateMutatesStoredSession(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "user-1")

	err := m.Update(ctx, sess.ID, func(s *domain.Session) {
		s.Status = domain.SessionRunning
		s.ContainerID = "ctr-1"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := m.Get(ctx, sess.ID)
	if got.Status != domain.SessionRunning || got.ContainerID != "ctr-1" {
		t.Errorf("got %q/%q, want running/ctr-1", got.Status, got.ContainerID)
	}

	if err := m.Update(ctx, "nope", func(*domain.Session) {}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestReturnedSessionsDoNotAliasStore(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "user-1")

	sess.Status = domain.SessionError
	sess.Metadata["error_count"] = "99"

	got, _ := m.Get(ctx, sess.ID)
	if got.Status != domain.SessionStarting {
		t.Errorf("caller mutation leaked into store: status = %q", got.Status)
	}
	if got.ErrorCount() != 0 {
		t.Errorf("caller mutation leaked into store: error count = %d", got.ErrorCount())
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	sess, _ := m.Create(ctx, "user-1")

	if err := m.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := m.Get(ctx, sess.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("session still present after delete")
	}
}

func TestExpiredHonorsIdleTTL(t *testing.T) {
	m := NewMemory(10 * time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	stale, _ := m.Create(ctx, "stale")
	fresh, _ := m.Create(ctx, "fresh")

	// Refresh one session 15 minutes later; the other stays idle.
	m.now = func() time.Time { return base.Add(15 * time.Minute) }
	if err := m.Touch(ctx, fresh.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	expired, err := m.Expired(ctx, base.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("expired = %v, want just the stale session", ids(expired))
	}

	// Exactly at the TTL boundary the session is still alive.
	expired, _ = m.Expired(ctx, base.Add(10*time.Minute))
	if len(expired) != 0 {
		t.Errorf("session expired at the TTL boundary, want strictly-older-than")
	}
}

func TestExpiredSkipsStoppedIncludesErrored(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	stopped, _ := m.Create(ctx, "stopped")
	errored, _ := m.Create(ctx, "errored")
	m.Update(ctx, stopped.ID, func(s *domain.Session) { s.Status = domain.SessionStopped })
	m.Update(ctx, errored.ID, func(s *domain.Session) { s.Status = domain.SessionError })

	expired, err := m.Expired(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != errored.ID {
		t.Fatalf("expired = %v, want just the errored session", ids(expired))
	}
}

func TestListReturnsAllSessions(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()
	for range 3 {
		m.Create(ctx, "user")
	}

	all, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d sessions, want 3", len(all))
	}
}

func ids(sessions []*domain.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
