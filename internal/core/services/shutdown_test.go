package services

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

// newTestCoordinator returns a coordinator with tight deadlines and a
// captured exit code.
func newTestCoordinator(r *Registry, graceful, emergency time.Duration) (*Coordinator, *atomic.Int32) {
	c := NewCoordinator(r, graceful, emergency, testLogger())
	c.forceGrace = time.Millisecond
	code := &atomic.Int32{}
	code.Store(-1)
	c.exit = func(n int) { code.Store(int32(n)) }
	return c, code
}

func TestTriggerGracefulExitsZero(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(Resource{
		ID:   "ctr",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		},
	})

	c, code := newTestCoordinator(r, time.Second, 100*time.Millisecond)
	c.Trigger(false)

	if got := code.Load(); got != ExitGraceful {
		t.Fatalf("exit code = %d, want %d", got, ExitGraceful)
	}
}

func TestTriggerTimeoutTakesEmergencyPath(t *testing.T) {
	r := NewRegistry(testLogger())
	r.emergencyTimeout = 10 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	r.Register(Resource{
		ID:   "hung",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			<-release // never resolves within any deadline
			return nil
		},
	})

	c, code := newTestCoordinator(r, 50*time.Millisecond, 200*time.Millisecond)
	c.Trigger(false)

	if got := code.Load(); got != ExitEmergency {
		t.Fatalf("exit code = %d, want %d", got, ExitEmergency)
	}
	// Emergency cleanup cleared the registry before exit even though the
	// resource never confirmed.
	if got := r.Len(); got != 0 {
		t.Fatalf("registry length after emergency = %d, want 0", got)
	}
}

func TestTriggerCleanupFailureTakesEmergencyPath(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(Resource{
		ID:   "bad",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			return errors.New("refused")
		},
	})

	c, code := newTestCoordinator(r, time.Second, 100*time.Millisecond)
	c.Trigger(false)

	if got := code.Load(); got != ExitEmergency {
		t.Fatalf("exit code = %d, want %d", got, ExitEmergency)
	}
}

func TestTriggerFatalExitsNonZeroEvenOnCleanTeardown(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(Resource{ID: "ctr", Kind: KindContainer, Cleanup: noopCleanup})

	c, code := newTestCoordinator(r, time.Second, 100*time.Millisecond)
	c.Trigger(true)

	if got := code.Load(); got != ExitEmergency {
		t.Fatalf("exit code = %d, want %d", got, ExitEmergency)
	}
}

func TestTriggerRunsOnce(t *testing.T) {
	r := NewRegistry(testLogger())
	var runs atomic.Int32
	r.Register(Resource{
		ID:   "ctr",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	c, _ := newTestCoordinator(r, time.Second, 100*time.Millisecond)
	c.Trigger(false)
	c.Trigger(false)

	if got := runs.Load(); got != 1 {
		t.Fatalf("cleanup ran %d times across repeated triggers, want 1", got)
	}
}

func TestBeforeShutdownHooksRunFirst(t *testing.T) {
	r := NewRegistry(testLogger())

	var order []string
	r.Register(Resource{
		ID:   "ctr",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			order = append(order, "cleanup")
			return nil
		},
	})

	c, _ := newTestCoordinator(r, time.Second, 100*time.Millisecond)
	c.BeforeShutdown(func() { order = append(order, "hook") })
	c.Trigger(false)

	if len(order) != 2 || order[0] != "hook" || order[1] != "cleanup" {
		t.Fatalf("execution order = %v, want [hook cleanup]", order)
	}
}

func TestForceExitCodeTwo(t *testing.T) {
	r := NewRegistry(testLogger())
	c, code := newTestCoordinator(r, time.Second, 100*time.Millisecond)

	c.forceExit(syscall.SIGTERM)

	if got := code.Load(); got != ExitForced {
		t.Fatalf("exit code = %d, want %d", got, ExitForced)
	}
}
