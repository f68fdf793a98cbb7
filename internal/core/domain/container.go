package domain

import "time"

// ContainerStatus is the lifecycle state of a sandbox container.
// Transitions: created -> running -> stopping -> stopped, with error
// reachable from any state.
type ContainerStatus string

const (
	ContainerCreated  ContainerStatus = "created"
	ContainerRunning  ContainerStatus = "running"
	ContainerStopping ContainerStatus = "stopping"
	ContainerStopped  ContainerStatus = "stopped"
	ContainerError    ContainerStatus = "error"
)

// ContainerRecord describes one sandbox container owned by a session.
// A session maps to at most one live record at a time; the derived name
// (<prefix>-<sessionId>) is unique per session.
type ContainerRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SessionID string          `json:"session_id"`
	Status    ContainerStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	// Ports maps container port (e.g. "8080/tcp") to the dynamically
	// assigned host port, discovered by inspecting the live container.
	Ports map[string]string `json:"ports,omitempty"`
}

// CleanupSummary aggregates the outcome of a bulk container teardown.
// Failures never short-circuit the sweep; every container gets an attempt.
type CleanupSummary struct {
	Stopped []string
	Failed  map[string]error
}
