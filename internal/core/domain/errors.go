package domain

import "errors"

// ErrEngineUnavailable is returned when the container engine cannot be reached.
var ErrEngineUnavailable = errors.New("container engine is not available")

// ErrImageBuildFailed is returned when the sandbox image build exits with an error.
var ErrImageBuildFailed = errors.New("image build failed")

// ErrContainerCreateFailed is returned when container allocation fails.
var ErrContainerCreateFailed = errors.New("container create failed")

// ErrContainerStartFailed is returned when a created container fails to start.
// The lifecycle manager always rolls the orphaned container back before
// returning this error.
var ErrContainerStartFailed = errors.New("container start failed")

// ErrContainerNotFound is returned when a container id does not exist on the
// engine. Teardown paths normalize it to success ("already absent").
var ErrContainerNotFound = errors.New("container not found")

// ErrExecSessionNotFound is returned when no exec session exists for a key.
var ErrExecSessionNotFound = errors.New("exec session not found")

// ErrExecSessionInactive is returned when an exec session exists but has no
// attached stream.
var ErrExecSessionInactive = errors.New("exec session not active")

// ErrStreamFault is returned when an attached exec stream fails; the owning
// session is terminated.
var ErrStreamFault = errors.New("exec stream fault")

// ErrCleanupFailed is recorded per resource when a cleanup action fails.
// One failing resource never blocks the others.
var ErrCleanupFailed = errors.New("resource cleanup failed")

// ErrShutdownTimeout is returned when graceful shutdown does not complete
// within its deadline and the coordinator escalates to emergency cleanup.
var ErrShutdownTimeout = errors.New("graceful shutdown timed out")

// ErrSessionNotFound is returned by the session store for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")
