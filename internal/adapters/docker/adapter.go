package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// engineAPI is the slice of the Docker client the lifecycle manager uses.
type engineAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

// Config holds the lifecycle manager's container parameters.
type Config struct {
	// Image the sandbox containers run.
	Image string

	// NamePrefix derives container names (<prefix>-<sessionID>) and label keys.
	NamePrefix string

	// WorkspaceDir on the host, bind-mounted read-only into the container.
	WorkspaceDir string

	// Workdir is the fixed in-container mount path for the workspace.
	Workdir string

	// User is the non-root user sandbox processes run as.
	User string

	// MemoryBytes and CPUShares cap each sandbox container.
	MemoryBytes int64
	CPUShares   int64

	// AppPort and TermPort are the two fixed container ports exposed with
	// dynamic host-side allocation.
	AppPort  string
	TermPort string

	// StopTimeout bounds the graceful stop before removal.
	StopTimeout time.Duration

	// Version is recorded in the container labels for discovery.
	Version string
}

// Adapter implements ports.ContainerService using the Docker SDK.
type Adapter struct {
	cli engineAPI
	cfg Config
	log logrus.FieldLogger
}

// NewClient creates a Docker API client from the environment and verifies the
// daemon is reachable.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEngineUnavailable, err)
	}
	return cli, nil
}

// NewAdapter creates a lifecycle manager over an engine client.
func NewAdapter(cli engineAPI, cfg Config, log logrus.FieldLogger) *Adapter {
	if cfg.Workdir == "" {
		cfg.Workdir = "/workspace"
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Adapter{
		cli: cli,
		cfg: cfg,
		log: log.WithField("component", "docker"),
	}
}

// sessionLabel is the label key carrying the owning session id.
func (a *Adapter) sessionLabel() string { return a.cfg.NamePrefix + ".session-id" }

// ContainerName returns the deterministic container name for a session.
func (a *Adapter) ContainerName(sessionID string) string {
	return a.cfg.NamePrefix + "-" + sessionID
}

// Create allocates a sandbox container for the session: read-only workspace
// bind, dynamic host ports for the two fixed container ports, memory/CPU
// limits, non-root user, identifying labels, and a long-lived foreground
// shell so the container stays alive with nothing running inside it.
func (a *Adapter) Create(ctx context.Context, sessionID string) (*domain.ContainerRecord, error) {
	name := a.ContainerName(sessionID)
	now := time.Now()

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range []string{a.cfg.AppPort, a.cfg.TermPort} {
		port := nat.Port(p + "/tcp")
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}

	config := &container.Config{
		Image: a.cfg.Image,
		User:  a.cfg.User,
		Cmd:   []string{"/bin/sh", "-c", "while true; do sleep 3600; done"},
		Labels: map[string]string{
			a.sessionLabel():              sessionID,
			a.cfg.NamePrefix + ".created": now.UTC().Format(time.RFC3339),
			a.cfg.NamePrefix + ".version": a.cfg.Version,
		},
		ExposedPorts: exposed,
		WorkingDir:   a.cfg.Workdir,
	}
	hostConfig := &container.HostConfig{
		Binds:        []string{a.cfg.WorkspaceDir + ":" + a.cfg.Workdir + ":ro"},
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:    a.cfg.MemoryBytes,
			CPUShares: a.cfg.CPUShares,
		},
	}

	resp, err := a.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s: %w", domain.ErrContainerCreateFailed, sessionID, err)
	}

	a.log.WithFields(logrus.Fields{
		"container_id": shortID(resp.ID),
		"session_id":   sessionID,
	}).Info("Container created")

	return &domain.ContainerRecord{
		ID:        resp.ID,
		Name:      name,
		SessionID: sessionID,
		Status:    domain.ContainerCreated,
		CreatedAt: now,
	}, nil
}

// Start transitions a created container to running and returns the host port
// mappings discovered from the live container.
func (a *Adapter) Start(ctx context.Context, id string) (map[string]string, error) {
	if err := a.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: container %s: %w", domain.ErrContainerStartFailed, shortID(id), err)
	}

	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect after start: %w", domain.ErrContainerStartFailed, err)
	}
	return portMappings(info), nil
}

// Run creates and starts a container. If Start fails after a successful
// Create, the half-created container is forcibly removed before the start
// error is returned.
func (a *Adapter) Run(ctx context.Context, sessionID string) (*domain.ContainerRecord, error) {
	rec, err := a.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ports, err := a.Start(ctx, rec.ID)
	if err != nil {
		if rmErr := a.cli.ContainerRemove(ctx, rec.ID, container.RemoveOptions{Force: true}); rmErr != nil && !errdefs.IsNotFound(rmErr) {
			a.log.WithFields(logrus.Fields{
				"container_id": shortID(rec.ID),
				"error":        rmErr,
			}).Warn("Rollback remove failed after start error")
		}
		return nil, err
	}

	rec.Status = domain.ContainerRunning
	rec.Ports = ports
	return rec, nil
}

// Stop gracefully stops the container with a bounded timeout, then removes
// it. "Not found" and "already stopped" are success. A non-timeout stop
// failure is reported, but removal is still attempted.
func (a *Adapter) Stop(ctx context.Context, id string) error {
	seconds := int(a.cfg.StopTimeout.Seconds())
	err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds})
	switch {
	case err == nil, errdefs.IsNotModified(err):
		// Stopped now or already stopped.
	case errdefs.IsNotFound(err):
		return nil
	default:
		a.log.WithFields(logrus.Fields{
			"container_id": shortID(id),
			"error":        err,
		}).Warn("Graceful stop failed, forcing removal")
	}

	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", shortID(id), err)
	}
	return nil
}

// Inspect returns the container record, or nil exactly when the container
// does not exist. Other engine errors are logged and also yield nil.
func (a *Adapter) Inspect(ctx context.Context, id string) (*domain.ContainerRecord, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			a.log.WithFields(logrus.Fields{
				"container_id": shortID(id),
				"error":        err,
			}).Warn("Container inspect failed")
		}
		return nil, nil
	}
	return a.recordFromInspect(info), nil
}

// CleanupAllByLabel stops every container carrying this manager's session
// label, aggregating successes and failures without short-circuiting.
func (a *Adapter) CleanupAllByLabel(ctx context.Context) (*domain.CleanupSummary, error) {
	list, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", a.sessionLabel())),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers by label: %w", err)
	}

	summary := &domain.CleanupSummary{Failed: make(map[string]error)}
	for _, c := range list {
		if err := a.Stop(ctx, c.ID); err != nil {
			summary.Failed[c.ID] = err
			continue
		}
		summary.Stopped = append(summary.Stopped, c.ID)
	}

	a.log.WithFields(logrus.Fields{
		"stopped": len(summary.Stopped),
		"failed":  len(summary.Failed),
	}).Info("Label cleanup sweep completed")
	return summary, nil
}

// recordFromInspect maps an engine inspect result to a ContainerRecord.
func (a *Adapter) recordFromInspect(info types.ContainerJSON) *domain.ContainerRecord {
	rec := &domain.ContainerRecord{
		ID:     info.ID,
		Status: containerStatus(info),
		Ports:  portMappings(info),
	}
	if info.Name != "" {
		rec.Name = info.Name
		if rec.Name[0] == '/' {
			rec.Name = rec.Name[1:]
		}
	}
	if info.Config != nil {
		rec.SessionID = info.Config.Labels[a.sessionLabel()]
	}
	if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		rec.CreatedAt = created
	}
	return rec
}

// containerStatus maps the engine state to the record's status enum.
func containerStatus(info types.ContainerJSON) domain.ContainerStatus {
	if info.State == nil {
		return domain.ContainerError
	}
	switch info.State.Status {
	case "created":
		return domain.ContainerCreated
	case "running", "paused", "restarting":
		return domain.ContainerRunning
	case "removing":
		return domain.ContainerStopping
	case "exited":
		return domain.ContainerStopped
	default:
		return domain.ContainerError
	}
}

// portMappings extracts containerPort -> hostPort from a live inspect result.
func portMappings(info types.ContainerJSON) map[string]string {
	if info.NetworkSettings == nil {
		return nil
	}
	out := make(map[string]string, len(info.NetworkSettings.Ports))
	for port, bindings := range info.NetworkSettings.Ports {
		if len(bindings) > 0 {
			out[string(port)] = bindings[0].HostPort
		}
	}
	return out
}

// shortID trims an engine id to the familiar 12-character prefix for logs.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
