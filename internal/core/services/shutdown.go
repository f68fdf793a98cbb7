package services

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Exit codes reported by the coordinator.
const (
	ExitGraceful  = 0 // ordered teardown finished within the deadline
	ExitEmergency = 1 // emergency path taken: timeout, failure, or fatal error
	ExitForced    = 2 // repeated termination signal forced an immediate exit
)

// shutdownSignals are the OS signals that trigger shutdown.
var shutdownSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

// Coordinator owns process-signal handling and sequences graceful versus
// emergency shutdown through the cleanup registry. The first trigger, whether
// a signal or a fatal error, latches the process into shutdown; a second
// signal while shutting down forces an immediate exit after a short grace
// window.
type Coordinator struct {
	registry *Registry
	log      logrus.FieldLogger

	// gracefulTimeout bounds the ordered teardown; emergencyTimeout bounds
	// the fallback; forceGrace is the pause before a forced exit.
	gracefulTimeout  time.Duration
	emergencyTimeout time.Duration
	forceGrace       time.Duration

	// exit is swappable for tests; defaults to os.Exit.
	exit func(code int)

	// beforeShutdown hooks run once, before the registry pass (stopping
	// tickers and accept loops that are not registry resources).
	hookMu         sync.Mutex
	beforeShutdown []func()

	shuttingDown atomic.Bool
	once         sync.Once
	fatalCh      chan error
}

// NewCoordinator creates a shutdown coordinator over the registry.
func NewCoordinator(registry *Registry, gracefulTimeout, emergencyTimeout time.Duration, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		registry:         registry,
		log:              log.WithField("component", "shutdown"),
		gracefulTimeout:  gracefulTimeout,
		emergencyTimeout: emergencyTimeout,
		forceGrace:       time.Second,
		exit:             os.Exit,
		fatalCh:          make(chan error, 1),
	}
}

// BeforeShutdown registers a hook to run before resource teardown begins.
func (c *Coordinator) BeforeShutdown(fn func()) {
	c.hookMu.Lock()
	c.beforeShutdown = append(c.beforeShutdown, fn)
	c.hookMu.Unlock()
}

// Fatal reports an unrecoverable in-process error. The coordinator treats it
// like a first termination signal, except the process exits non-zero even if
// teardown succeeds.
func (c *Coordinator) Fatal(err error) {
	select {
	case c.fatalCh <- err:
	default:
	}
}

// Listen installs the signal handlers and blocks, driving shutdown when a
// signal or fatal error arrives. It never returns; the process exits inside.
func (c *Coordinator) Listen() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, shutdownSignals...)

	for {
		select {
		case sig := <-sigCh:
			if c.shuttingDown.Load() {
				c.forceExit(sig)
				continue
			}
			c.log.WithField("signal", sig.String()).Info("Shutdown signal received")
			go c.Trigger(false)
		case err := <-c.fatalCh:
			if c.shuttingDown.Load() {
				continue
			}
			c.log.WithField("error", err).Error("Fatal error, shutting down")
			go c.Trigger(true)
		}
	}
}

// forceExit handles a repeated termination signal: short grace, then exit 2,
// independent of whatever the graceful or emergency path is doing.
func (c *Coordinator) forceExit(sig os.Signal) {
	c.log.WithField("signal", sig.String()).Warn("Second signal during shutdown, forcing exit")
	time.Sleep(c.forceGrace)
	c.exit(ExitForced)
}

// Trigger runs the shutdown sequence at most once: race the registry's
// ordered teardown against the graceful deadline; on timeout or failure fall
// back to emergency cleanup raced against its own shorter deadline, then
// exit 1 regardless of the emergency outcome. The losing teardown is not
// cancelled and may keep running until the process exits; emergency cleanup
// clears the registry unconditionally, so nothing is double-tracked.
func (c *Coordinator) Trigger(fatal bool) {
	c.once.Do(func() {
		c.shuttingDown.Store(true)

		c.hookMu.Lock()
		hooks := c.beforeShutdown
		c.hookMu.Unlock()
		for _, fn := range hooks {
			fn()
		}

		code := c.run(fatal)
		c.exit(code)
	})
}

func (c *Coordinator) run(fatal bool) int {
	ctx := context.Background()

	done := make(chan *ShutdownReport, 1)
	go func() {
		done <- c.registry.Shutdown(ctx)
	}()

	select {
	case report := <-done:
		if report.Failed == 0 {
			c.log.WithField("resources", report.Succeeded).Info("Graceful shutdown complete")
			if fatal {
				return ExitEmergency
			}
			return ExitGraceful
		}
		c.log.WithFields(logrus.Fields{
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		}).Error("Graceful shutdown had failures, running emergency cleanup")
	case <-time.After(c.gracefulTimeout):
		c.log.WithField("timeout", c.gracefulTimeout).Error("Graceful shutdown timed out, running emergency cleanup")
	}

	emergencyDone := make(chan *ShutdownReport, 1)
	go func() {
		emergencyDone <- c.registry.EmergencyCleanup(ctx)
	}()
	select {
	case <-emergencyDone:
	case <-time.After(c.emergencyTimeout):
		c.log.WithField("timeout", c.emergencyTimeout).Error("Emergency cleanup timed out, exiting anyway")
	}
	return ExitEmergency
}
