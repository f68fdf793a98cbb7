package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
	"github.com/melih/lighthouse-sandbox/internal/core/ports"
)

// ResourceKind is the cleanup tier a resource belongs to.
type ResourceKind string

const (
	KindServer    ResourceKind = "server"
	KindContainer ResourceKind = "container"
	KindNetwork   ResourceKind = "network"
	KindVolume    ResourceKind = "volume"
)

// tierOrder is the fixed teardown sequence: transports stop accepting work
// before the compute they front is torn down, and compute is released before
// the infrastructure it may still reference.
var tierOrder = []ResourceKind{KindServer, KindContainer, KindNetwork, KindVolume}

// CleanupFunc tears one resource down.
type CleanupFunc func(ctx context.Context) error

// Resource is one cleanable thing tracked by the registry.
type Resource struct {
	ID          string
	Kind        ResourceKind
	Description string
	Cleanup     CleanupFunc
}

// StoppableResource wraps a transport implementing the Stoppable contract as
// a server-tier resource.
func StoppableResource(id, description string, s ports.Stoppable) Resource {
	return Resource{
		ID:          id,
		Kind:        KindServer,
		Description: description,
		Cleanup:     s.Stop,
	}
}

// ShutdownReport summarizes one teardown pass. Partial failure is reported,
// never raised.
type ShutdownReport struct {
	Succeeded int
	Failed    int
	Failures  map[string]error
}

// Registry tracks every resource the process allocates and performs ordered
// or emergency teardown. Exactly one instance exists per process, constructed
// at startup and passed to every component that registers resources.
type Registry struct {
	log logrus.FieldLogger

	mu        sync.Mutex
	resources map[string]Resource

	// emergencyTimeout bounds each resource's cleanup during EmergencyCleanup.
	emergencyTimeout time.Duration

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	report       *ShutdownReport
}

// NewRegistry creates an empty cleanup registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		log:              log.WithField("component", "cleanup"),
		resources:        make(map[string]Resource),
		emergencyTimeout: 2 * time.Second,
		shutdownDone:     make(chan struct{}),
	}
}

// Register tracks a resource for teardown. Re-registering an id replaces the
// previous entry.
func (r *Registry) Register(res Resource) {
	r.mu.Lock()
	r.resources[res.ID] = res
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{
		"resource": res.ID,
		"kind":     res.Kind,
	}).Debug("Resource registered")
}

// Unregister drops a resource without cleaning it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.resources, id)
	r.mu.Unlock()
}

// Len returns the number of tracked resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources)
}

// Shutdown tears all resources down tier by tier: server, container,
// network, volume. Tiers run strictly sequentially; resources within a tier
// run concurrently. Each resource's failure is recorded individually and
// never blocks the others; the resource is unregistered once its cleanup
// completes either way, so nothing is cleaned twice in the same pass.
//
// Shutdown is idempotent: concurrent and repeated callers share the outcome
// of the single pass.
func (r *Registry) Shutdown(ctx context.Context) *ShutdownReport {
	r.shutdownOnce.Do(func() {
		r.report = r.runShutdown(ctx)
		close(r.shutdownDone)
	})
	<-r.shutdownDone
	return r.report
}

func (r *Registry) runShutdown(ctx context.Context) *ShutdownReport {
	report := &ShutdownReport{Failures: make(map[string]error)}

	for _, kind := range tierOrder {
		tier := r.snapshotKind(kind)
		if len(tier) == 0 {
			continue
		}
		r.log.WithFields(logrus.Fields{
			"tier":      kind,
			"resources": len(tier),
		}).Info("Cleaning resource tier")

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, res := range tier {
			wg.Add(1)
			go func(res Resource) {
				defer wg.Done()
				err := r.cleanOne(ctx, res)
				mu.Lock()
				if err != nil {
					report.Failed++
					report.Failures[res.ID] = err
				} else {
					report.Succeeded++
				}
				mu.Unlock()
			}(res)
		}
		wg.Wait()
	}

	r.log.WithFields(logrus.Fields{
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("Shutdown pass completed")
	return report
}

// cleanOne runs a single resource's cleanup, recovering panics as failures,
// and unregisters the resource regardless of outcome.
func (r *Registry) cleanOne(ctx context.Context, res Resource) (err error) {
	defer r.Unregister(res.ID)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: panic: %v", domain.ErrCleanupFailed, res.ID, rec)
		}
	}()

	if err := res.Cleanup(ctx); err != nil {
		r.log.WithFields(logrus.Fields{
			"resource": res.ID,
			"kind":     res.Kind,
			"error":    err,
		}).Error("Resource cleanup failed")
		return fmt.Errorf("%w: %s: %w", domain.ErrCleanupFailed, res.ID, err)
	}
	return nil
}

// EmergencyCleanup ignores tiering and races every resource's cleanup
// against a short per-resource timeout, all concurrently. Whatever the
// individual outcomes, the registry is cleared unconditionally afterwards so
// the process is always free to exit. Cleanups that miss the deadline keep
// running in the background and their resources may remain orphaned on the
// engine; they are not retried.
func (r *Registry) EmergencyCleanup(ctx context.Context) *ShutdownReport {
	r.mu.Lock()
	snapshot := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		snapshot = append(snapshot, res)
	}
	r.resources = make(map[string]Resource)
	r.mu.Unlock()

	report := &ShutdownReport{Failures: make(map[string]error)}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, res := range snapshot {
		wg.Add(1)
		go func(res Resource) {
			defer wg.Done()

			done := make(chan error, 1)
			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						done <- fmt.Errorf("panic: %v", rec)
					}
				}()
				done <- res.Cleanup(ctx)
			}()

			var err error
			select {
			case err = <-done:
			case <-time.After(r.emergencyTimeout):
				err = fmt.Errorf("cleanup timed out after %s; resource may be orphaned", r.emergencyTimeout)
			}

			mu.Lock()
			if err != nil {
				report.Failed++
				report.Failures[res.ID] = fmt.Errorf("%w: %s: %w", domain.ErrCleanupFailed, res.ID, err)
			} else {
				report.Succeeded++
			}
			mu.Unlock()
		}(res)
	}
	wg.Wait()

	if report.Failed > 0 {
		for id := range report.Failures {
			r.log.WithField("resource", id).Warn("Could not confirm cleanup; verify manually against the engine")
		}
	}
	r.log.WithFields(logrus.Fields{
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("Emergency cleanup completed")
	return report
}

// snapshotKind copies the currently registered resources of one tier.
func (r *Registry) snapshotKind(kind ResourceKind) []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Resource
	for _, res := range r.resources {
		if res.Kind == kind {
			out = append(out, res)
		}
	}
	return out
}
