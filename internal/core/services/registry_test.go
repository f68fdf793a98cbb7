package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func noopCleanup(ctx context.Context) error { return nil }

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry(testLogger())

	r.Register(Resource{ID: "a", Kind: KindContainer, Cleanup: noopCleanup})
	r.Register(Resource{ID: "b", Kind: KindServer, Cleanup: noopCleanup})
	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	r.Unregister("a")
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() after unregister = %d, want 1", got)
	}

	// Unregistering an unknown id is a no-op.
	r.Unregister("missing")
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() after bogus unregister = %d, want 1", got)
	}
}

func TestShutdownTierOrder(t *testing.T) {
	r := NewRegistry(testLogger())

	var (
		mu    sync.Mutex
		order []ResourceKind
	)
	record := func(kind ResourceKind) CleanupFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, kind)
			mu.Unlock()
			return nil
		}
	}

	// Register out of teardown order on purpose.
	r.Register(Resource{ID: "vol", Kind: KindVolume, Cleanup: record(KindVolume)})
	r.Register(Resource{ID: "net", Kind: KindNetwork, Cleanup: record(KindNetwork)})
	r.Register(Resource{ID: "ctr", Kind: KindContainer, Cleanup: record(KindContainer)})
	r.Register(Resource{ID: "srv", Kind: KindServer, Cleanup: record(KindServer)})

	report := r.Shutdown(context.Background())
	if report.Succeeded != 4 || report.Failed != 0 {
		t.Fatalf("report = %d/%d, want 4/0", report.Succeeded, report.Failed)
	}

	want := []ResourceKind{KindServer, KindContainer, KindNetwork, KindVolume}
	if len(order) != len(want) {
		t.Fatalf("cleaned %d resources, want %d", len(order), len(want))
	}
	for i, kind := range want {
		if order[i] != kind {
			t.Errorf("teardown position %d = %s, want %s", i, order[i], kind)
		}
	}
}

func TestShutdownIdempotentUnderConcurrency(t *testing.T) {
	r := NewRegistry(testLogger())

	var runs atomic.Int32
	r.Register(Resource{
		ID:   "once",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			runs.Add(1)
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	})

	const callers = 8
	reports := make([]*ShutdownReport, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = r.Shutdown(context.Background())
		}(i)
	}
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Fatalf("cleanup ran %d times, want exactly 1", got)
	}
	for i := 1; i < callers; i++ {
		if reports[i] != reports[0] {
			t.Fatalf("caller %d observed a different report than caller 0", i)
		}
	}
	if reports[0].Succeeded != 1 {
		t.Fatalf("Succeeded = %d, want 1", reports[0].Succeeded)
	}
}

func TestShutdownPartialFailureIsolation(t *testing.T) {
	r := NewRegistry(testLogger())

	var cleaned atomic.Int32
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("ctr-%d", i)
		fail := i == 2
		r.Register(Resource{
			ID:   id,
			Kind: KindContainer,
			Cleanup: func(ctx context.Context) error {
				if fail {
					return errors.New("engine exploded")
				}
				cleaned.Add(1)
				return nil
			},
		})
	}

	report := r.Shutdown(context.Background())
	if report.Succeeded != 4 {
		t.Errorf("Succeeded = %d, want 4", report.Succeeded)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
	if _, ok := report.Failures["ctr-2"]; !ok {
		t.Errorf("Failures missing ctr-2: %v", report.Failures)
	}
	if got := cleaned.Load(); got != 4 {
		t.Errorf("%d resources cleaned, want 4", got)
	}
	// Even the failing resource is unregistered after its attempt.
	if got := r.Len(); got != 0 {
		t.Errorf("Len() after shutdown = %d, want 0", got)
	}
}

func TestShutdownRecoversPanickingCleanup(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(Resource{
		ID:   "bad",
		Kind: KindServer,
		Cleanup: func(ctx context.Context) error {
			panic("cleanup bug")
		},
	})
	r.Register(Resource{ID: "good", Kind: KindContainer, Cleanup: noopCleanup})

	report := r.Shutdown(context.Background())
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("report = %d/%d, want 1/1", report.Succeeded, report.Failed)
	}
}

func TestEmergencyCleanupClearsRegistryUnconditionally(t *testing.T) {
	r := NewRegistry(testLogger())
	r.emergencyTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	r.Register(Resource{
		ID:   "hung",
		Kind: KindContainer,
		Cleanup: func(ctx context.Context) error {
			<-release // never finishes within the deadline
			return nil
		},
	})
	r.Register(Resource{ID: "quick", Kind: KindVolume, Cleanup: noopCleanup})

	report := r.EmergencyCleanup(context.Background())
	if report.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", report.Succeeded)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
	if _, ok := report.Failures["hung"]; !ok {
		t.Errorf("Failures missing hung resource: %v", report.Failures)
	}
	// The registry is cleared even though one cleanup never confirmed.
	if got := r.Len(); got != 0 {
		t.Errorf("Len() after emergency = %d, want 0", got)
	}
}

func TestEmergencyCleanupIgnoresTiering(t *testing.T) {
	r := NewRegistry(testLogger())
	r.emergencyTimeout = 100 * time.Millisecond

	// All resources block until every one of them has started, which can only
	// work if they run concurrently across tiers.
	const n = 4
	started := make(chan struct{}, n)
	gate := make(chan struct{})
	kinds := []ResourceKind{KindServer, KindContainer, KindNetwork, KindVolume}
	for i, kind := range kinds {
		r.Register(Resource{
			ID:   fmt.Sprintf("res-%d", i),
			Kind: kind,
			Cleanup: func(ctx context.Context) error {
				started <- struct{}{}
				<-gate
				return nil
			},
		})
	}

	go func() {
		for i := 0; i < n; i++ {
			<-started
		}
		close(gate)
	}()

	report := r.EmergencyCleanup(context.Background())
	if report.Succeeded != n {
		t.Fatalf("Succeeded = %d, want %d (cross-tier cleanups did not run concurrently)", report.Succeeded, n)
	}
}
