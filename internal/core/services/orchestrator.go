package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
	"github.com/melih/lighthouse-sandbox/internal/core/ports"
)

// ExecFactory builds an exec service bound to a container id.
type ExecFactory func(containerID string) ports.ExecService

// Orchestrator is the top-level provisioning flow: ensure the image, run a
// container per session, bind an exec manager to it, and register everything
// with the cleanup registry.
type Orchestrator struct {
	images     ports.ImageService
	containers ports.ContainerService
	store      ports.SessionStore
	registry   *Registry
	newExec    ExecFactory
	log        logrus.FieldLogger

	mu    sync.Mutex
	execs map[string]ports.ExecService // sessionID -> exec manager
}

// NewOrchestrator wires the provisioning flow together.
func NewOrchestrator(images ports.ImageService, containers ports.ContainerService, store ports.SessionStore, registry *Registry, newExec ExecFactory, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		images:     images,
		containers: containers,
		store:      store,
		registry:   registry,
		newExec:    newExec,
		log:        log.WithField("component", "orchestrator"),
		execs:      make(map[string]ports.ExecService),
	}
}

// EnsureImage provisions the sandbox base image. A failure here is fatal to
// startup and is surfaced to the operator by the caller.
func (o *Orchestrator) EnsureImage(ctx context.Context) error {
	res := o.images.Ensure(ctx)
	if res.Err != nil {
		return res.Err
	}
	o.log.WithField("image_id", res.ImageID).Info("Sandbox image ready")
	return nil
}

// StartSession creates a session, runs its container, binds an exec manager,
// and registers the container for tiered cleanup. On container failure the
// session is marked errored and the error returned as data to the transport.
func (o *Orchestrator) StartSession(ctx context.Context, userID string) (*domain.Session, error) {
	sess, err := o.store.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	rec, err := o.containers.Run(ctx, sess.ID)
	if err != nil {
		_ = o.store.Update(ctx, sess.ID, func(s *domain.Session) {
			s.Status = domain.SessionError
			s.IncrementErrorCount()
		})
		return nil, err
	}

	if err := o.store.Update(ctx, sess.ID, func(s *domain.Session) {
		s.ContainerID = rec.ID
		s.ContainerName = rec.Name
		s.Status = domain.SessionRunning
	}); err != nil {
		// The session record is gone (deleted concurrently); the container
		// just started for it would leak without an owner, so stop it now.
		if stopErr := o.containers.Stop(ctx, rec.ID); stopErr != nil {
			o.log.WithFields(logrus.Fields{
				"session_id":   sess.ID,
				"container_id": rec.ID,
				"error":        stopErr,
			}).Error("Could not stop container for lost session")
		}
		return nil, err
	}

	exec := o.newExec(rec.ID)
	o.mu.Lock()
	o.execs[sess.ID] = exec
	o.mu.Unlock()

	containerID := rec.ID
	sessionID := sess.ID
	o.registry.Register(Resource{
		ID:          "container-" + containerID,
		Kind:        KindContainer,
		Description: "sandbox container for session " + sessionID,
		Cleanup: func(ctx context.Context) error {
			o.dropExec(sessionID)
			return o.containers.Stop(ctx, containerID)
		},
	})

	o.log.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"container_id": rec.ID,
	}).Info("Session started")

	return o.store.Get(ctx, sessionID)
}

// StopSession tears one session down on user request.
func (o *Orchestrator) StopSession(ctx context.Context, sessionID string) error {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := o.store.Update(ctx, sessionID, func(s *domain.Session) {
		s.Status = domain.SessionStopping
	}); err != nil {
		return err
	}

	o.dropExec(sessionID)

	if sess.ContainerID != "" {
		if err := o.containers.Stop(ctx, sess.ContainerID); err != nil {
			_ = o.store.Update(ctx, sessionID, func(s *domain.Session) {
				s.Status = domain.SessionError
				s.IncrementErrorCount()
			})
			return err
		}
		o.registry.Unregister("container-" + sess.ContainerID)
	}

	return o.store.Delete(ctx, sessionID)
}

// Exec returns the exec service bound to a session's container.
func (o *Orchestrator) Exec(sessionID string) (ports.ExecService, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.execs[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrExecSessionNotFound, sessionID)
	}
	return exec, nil
}

// Sessions lists all live sessions.
func (o *Orchestrator) Sessions(ctx context.Context) ([]*domain.Session, error) {
	return o.store.List(ctx)
}

// dropExec cleans and forgets a session's exec manager, if any.
func (o *Orchestrator) dropExec(sessionID string) {
	o.mu.Lock()
	exec, ok := o.execs[sessionID]
	delete(o.execs, sessionID)
	o.mu.Unlock()
	if ok {
		exec.CleanupAll()
	}
}
