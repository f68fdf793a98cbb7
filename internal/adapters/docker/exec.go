package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// execEngine is the slice of the Docker client the exec manager uses.
type execEngine interface {
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config types.ExecStartCheck) error
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecResize(ctx context.Context, execID string, options container.ResizeOptions) error
}

// execSession is one tracked exec. active is true only between a successful
// start and the terminal event; once terminal, the key accepts no more I/O.
type execSession struct {
	key    string
	execID string
	spec   domain.ExecSpec
	hijack *types.HijackedResponse
	active bool
}

// ExecManager attaches interactive command streams into one running
// container and fans stream events out to registered observers. Observers
// are invoked after the internal state mutation they describe.
type ExecManager struct {
	cli         execEngine
	containerID string
	log         logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*execSession

	obsMu     sync.RWMutex
	outputFns []func(key string, chunk []byte)
	errorFns  []func(key string, err error)
	endFns    []func(key string)
}

// NewExecManager creates an exec manager bound to a running container id.
func NewExecManager(cli execEngine, containerID string, log logrus.FieldLogger) *ExecManager {
	return &ExecManager{
		cli:         cli,
		containerID: containerID,
		log: log.WithFields(logrus.Fields{
			"component":    "exec",
			"container_id": shortID(containerID),
		}),
		sessions: make(map[string]*execSession),
	}
}

// OnOutput registers an observer for stream output chunks.
func (m *ExecManager) OnOutput(fn func(key string, chunk []byte)) {
	m.obsMu.Lock()
	m.outputFns = append(m.outputFns, fn)
	m.obsMu.Unlock()
}

// OnError registers an observer for stream faults.
func (m *ExecManager) OnError(fn func(key string, err error)) {
	m.obsMu.Lock()
	m.errorFns = append(m.errorFns, fn)
	m.obsMu.Unlock()
}

// OnEnd registers an observer for stream end.
func (m *ExecManager) OnEnd(fn func(key string)) {
	m.obsMu.Lock()
	m.endFns = append(m.endFns, fn)
	m.obsMu.Unlock()
}

// CreateSession registers an inactive exec session bound to the manager's
// container. The exec instance is allocated on the engine but not started.
func (m *ExecManager) CreateSession(ctx context.Context, key string, spec domain.ExecSpec) error {
	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("exec session %s already exists", key)
	}
	m.mu.Unlock()

	resp, err := m.cli.ContainerExecCreate(ctx, m.containerID, types.ExecConfig{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Tty:          spec.TTY,
		AttachStdin:  spec.AttachStdin,
		AttachStdout: spec.AttachStdout,
		AttachStderr: spec.AttachStderr,
	})
	if err != nil {
		return fmt.Errorf("exec create for session %s: %w", key, err)
	}

	m.mu.Lock()
	m.sessions[key] = &execSession{key: key, execID: resp.ID, spec: spec}
	m.mu.Unlock()

	m.log.WithField("session", key).Debug("Exec session created")
	return nil
}

// StartSession attaches a hijacked duplex stream to the exec and marks the
// session active. Stream output, faults, and end are delivered to the
// registered observers; faults and end both trigger session cleanup.
func (m *ExecManager) StartSession(ctx context.Context, key string) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrExecSessionNotFound, key)
	}
	if sess.active {
		m.mu.Unlock()
		return fmt.Errorf("exec session %s already started", key)
	}
	execID, tty := sess.execID, sess.spec.TTY
	m.mu.Unlock()

	hijack, err := m.cli.ContainerExecAttach(ctx, execID, types.ExecStartCheck{Tty: tty})
	if err != nil {
		m.Cleanup(key)
		return fmt.Errorf("exec attach for session %s: %w", key, err)
	}

	m.mu.Lock()
	if cur, still := m.sessions[key]; !still || cur != sess {
		// Cleaned up while the attach was in flight; the session is gone and
		// must not come back to life holding an unreachable stream.
		m.mu.Unlock()
		hijack.Close()
		return fmt.Errorf("%w: %s", domain.ErrExecSessionNotFound, key)
	}
	sess.hijack = &hijack
	sess.active = true
	m.mu.Unlock()

	go m.pump(key, &hijack, tty)

	m.log.WithField("session", key).Info("Exec session started")
	return nil
}

// pump reads the hijacked stream until EOF or fault, re-emitting every chunk
// to the output observers. TTY streams are raw; non-TTY streams are
// stdcopy-multiplexed and demuxed into the same output path.
func (m *ExecManager) pump(key string, hijack *types.HijackedResponse, tty bool) {
	var err error
	if tty {
		buf := make([]byte, 32*1024)
		for {
			var n int
			n, err = hijack.Reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				m.emitOutput(key, chunk)
			}
			if err != nil {
				break
			}
		}
	} else {
		w := outputWriter{m: m, key: key}
		_, err = stdcopy.StdCopy(w, w, hijack.Reader)
		if err == nil {
			err = io.EOF
		}
	}

	m.markInactive(key)
	if errors.Is(err, io.EOF) {
		m.emitEnd(key)
	} else {
		m.emitError(key, fmt.Errorf("%w: session %s: %w", domain.ErrStreamFault, key, err))
	}
	m.Cleanup(key)
}

// outputWriter adapts observer fan-out to the io.Writer stdcopy expects.
type outputWriter struct {
	m   *ExecManager
	key string
}

func (w outputWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.m.emitOutput(w.key, chunk)
	return len(p), nil
}

// Write forwards bytes to an active session's stdin. Missing or inactive
// sessions yield false with no error; otherwise the underlying write's
// acceptance is returned as a back-pressure signal.
func (m *ExecManager) Write(key string, data []byte) bool {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok || !sess.active || sess.hijack == nil {
		m.mu.Unlock()
		return false
	}
	conn := sess.hijack.Conn
	m.mu.Unlock()

	if _, err := conn.Write(data); err != nil {
		m.log.WithFields(logrus.Fields{
			"session": key,
			"error":   err,
		}).Warn("Exec stdin write failed")
		return false
	}
	return true
}

// Resize requests a TTY geometry change. Inactive sessions log a warning and
// return nil.
func (m *ExecManager) Resize(ctx context.Context, key string, cols, rows uint) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok || !sess.active {
		m.mu.Unlock()
		m.log.WithField("session", key).Warn("Resize on inactive exec session ignored")
		return nil
	}
	execID := sess.execID
	m.mu.Unlock()

	if err := m.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{Height: rows, Width: cols}); err != nil {
		return fmt.Errorf("resize session %s: %w", key, err)
	}
	return nil
}

// Kill delivers a signal to the session's process group best-effort and
// always cleans the session up, whether or not delivery succeeded. The
// engine has no per-exec kill, so delivery runs a one-shot detached exec.
func (m *ExecManager) Kill(ctx context.Context, key string, signal string) error {
	defer m.Cleanup(key)

	if signal == "" {
		signal = "SIGTERM"
	}

	m.mu.Lock()
	sess, ok := m.sessions[key]
	active := ok && sess.active
	m.mu.Unlock()
	if !active {
		return nil
	}

	resp, err := m.cli.ContainerExecCreate(ctx, m.containerID, types.ExecConfig{
		Cmd:    []string{"kill", "-s", signal, "-1"},
		Detach: true,
	})
	if err == nil {
		err = m.cli.ContainerExecStart(ctx, resp.ID, types.ExecStartCheck{Detach: true})
	}
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"session": key,
			"signal":  signal,
			"error":   err,
		}).Warn("Signal delivery failed")
		return fmt.Errorf("deliver %s to session %s: %w", signal, key, err)
	}
	return nil
}

// Cleanup marks the session inactive, ends the stream best-effort, and
// removes the session from the registry. Calling it on an already-removed
// key is a no-op.
func (m *ExecManager) Cleanup(key string) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.active = false
	hijack := sess.hijack
	delete(m.sessions, key)
	m.mu.Unlock()

	if hijack != nil {
		if err := hijack.CloseWrite(); err != nil {
			m.log.WithFields(logrus.Fields{
				"session": key,
				"error":   err,
			}).Debug("Exec stream close-write failed")
		}
		hijack.Close()
	}
	m.log.WithField("session", key).Debug("Exec session cleaned up")
}

// CleanupAll cleans every tracked session. Used at shutdown.
func (m *ExecManager) CleanupAll() {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.Cleanup(key)
	}
}

// markInactive flips the active flag without removing the session, so the
// terminal observers fire while the key is still known.
func (m *ExecManager) markInactive(key string) {
	m.mu.Lock()
	if sess, ok := m.sessions[key]; ok {
		sess.active = false
	}
	m.mu.Unlock()
}

func (m *ExecManager) emitOutput(key string, chunk []byte) {
	m.obsMu.RLock()
	fns := m.outputFns
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(key, chunk)
	}
}

func (m *ExecManager) emitError(key string, err error) {
	m.obsMu.RLock()
	fns := m.errorFns
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(key, err)
	}
}

func (m *ExecManager) emitEnd(key string) {
	m.obsMu.RLock()
	fns := m.endFns
	m.obsMu.RUnlock()
	for _, fn := range fns {
		fn(key)
	}
}
