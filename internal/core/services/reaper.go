package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
	"github.com/melih/lighthouse-sandbox/internal/core/ports"
)

// reaperEventBuffer is the size of the reaper's event channel. Events are
// emitted with a non-blocking send; a slow consumer loses events rather than
// stalling cleanup.
const reaperEventBuffer = 64

// Reaper periodically scans the session store for expired sessions and
// drives their cleanup through the container lifecycle manager. Batches run
// strictly in sequence; sessions within a batch are cleaned concurrently,
// with per-session failures isolated.
type Reaper struct {
	store      ports.SessionStore
	containers ports.ContainerService
	log        logrus.FieldLogger

	interval  time.Duration
	batchSize int

	events chan domain.ReaperEvent

	// stateMu guards the two latch flags. stopping blocks new reaper
	// goroutines from launching once Stop has begun; closed marks the event
	// channel closed so late emits are dropped instead of panicking.
	stateMu  sync.RWMutex
	stopping bool
	closed   bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewReaper creates a reaper over the given store and lifecycle manager.
func NewReaper(store ports.SessionStore, containers ports.ContainerService, interval time.Duration, batchSize int, log logrus.FieldLogger) *Reaper {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Reaper{
		store:      store,
		containers: containers,
		log:        log.WithField("component", "reaper"),
		interval:   interval,
		batchSize:  batchSize,
		events:     make(chan domain.ReaperEvent, reaperEventBuffer),
		stop:       make(chan struct{}),
	}
}

// Events returns the reaper's event stream. The channel is closed by Stop.
func (r *Reaper) Events() <-chan domain.ReaperEvent {
	return r.events
}

// launch adds one goroutine to the tracked set unless Stop has already begun.
// The flag check and wg.Add happen under the same lock Stop uses to flip the
// flag, so no goroutine can slip in between Stop's latch and its Wait.
func (r *Reaper) launch(fn func()) bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if r.stopping {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

// Start launches the periodic reap loop. Safe to call once.
func (r *Reaper) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.launch(func() {
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.RunCycle(ctx)
				case <-r.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		})
	})
}

// Stop halts the loop, waits for in-flight work, and closes the event stream.
// Notifications arriving after Stop are declined; late emits are dropped.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		r.stateMu.Lock()
		r.stopping = true
		r.stateMu.Unlock()

		close(r.stop)
		r.wg.Wait()

		r.stateMu.Lock()
		r.closed = true
		close(r.events)
		r.stateMu.Unlock()
	})
}

// RunCycle performs one scan-and-clean pass. Exposed for the timer loop and
// for operator-triggered sweeps. A no-op once Stop has begun.
func (r *Reaper) RunCycle(ctx context.Context) {
	r.stateMu.RLock()
	stopping := r.stopping
	r.stateMu.RUnlock()
	if stopping {
		return
	}

	expired, err := r.store.Expired(ctx, time.Now())
	if err != nil {
		r.log.WithField("error", err).Error("Expired session scan failed")
		r.emit(domain.ReaperEvent{Type: domain.EventCleanupError, Err: err, Time: time.Now()})
		return
	}
	if len(expired) == 0 {
		return
	}

	r.log.WithField("sessions", len(expired)).Info("Reaping expired sessions")

	var cleaned, failed int
	for start := 0; start < len(expired); start += r.batchSize {
		end := start + r.batchSize
		if end > len(expired) {
			end = len(expired)
		}
		ok, bad := r.cleanBatch(ctx, expired[start:end])
		cleaned += ok
		failed += bad
	}

	r.emit(domain.ReaperEvent{
		Type:    domain.EventCleanupCompleted,
		Cleaned: cleaned,
		Failed:  failed,
		Time:    time.Now(),
	})
}

// cleanBatch cleans every session in the batch concurrently. One session's
// failure is recorded but never aborts the batch.
func (r *Reaper) cleanBatch(ctx context.Context, batch []*domain.Session) (cleaned, failed int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, sess := range batch {
		wg.Add(1)
		go func(sess *domain.Session) {
			defer wg.Done()
			err := r.cleanSession(ctx, sess)
			mu.Lock()
			if err != nil {
				failed++
			} else {
				cleaned++
			}
			mu.Unlock()
		}(sess)
	}
	wg.Wait()
	return cleaned, failed
}

// cleanSession tears one session down: mark stopping, remove the container,
// delete the record. On failure the record stays (status error, counter
// bumped) so a later cycle retries.
func (r *Reaper) cleanSession(ctx context.Context, sess *domain.Session) error {
	log := r.log.WithField("session_id", sess.ID)

	if err := r.store.Update(ctx, sess.ID, func(s *domain.Session) {
		s.Status = domain.SessionStopping
	}); err != nil {
		log.WithField("error", err).Error("Session cleanup failed")
		r.emit(domain.ReaperEvent{Type: domain.EventSessionCleanupError, SessionID: sess.ID, Err: err, Time: time.Now()})
		return err
	}

	if sess.ContainerID != "" {
		if err := r.containers.Stop(ctx, sess.ContainerID); err != nil {
			r.recordFailure(ctx, sess.ID, err)
			return err
		}
	}

	if err := r.store.Delete(ctx, sess.ID); err != nil {
		r.recordFailure(ctx, sess.ID, err)
		return err
	}

	log.Info("Expired session cleaned")
	r.emit(domain.ReaperEvent{Type: domain.EventSessionCleaned, SessionID: sess.ID, Time: time.Now()})
	return nil
}

// recordFailure marks the session errored, bumps its error counter, and
// emits a cleanup-error event. The record is left for a later retry.
func (r *Reaper) recordFailure(ctx context.Context, sessionID string, cause error) {
	if err := r.store.Update(ctx, sessionID, func(s *domain.Session) {
		s.Status = domain.SessionError
		s.IncrementErrorCount()
	}); err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      err,
		}).Warn("Could not record cleanup failure on session")
	}
	r.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"error":      cause,
	}).Error("Session cleanup failed")
	r.emit(domain.ReaperEvent{Type: domain.EventSessionCleanupError, SessionID: sessionID, Err: cause, Time: time.Now()})
}

// HandleSessionExpired schedules an asynchronous cleanup of one session in
// response to an external expiry notification, without waiting for the next
// timer cycle.
func (r *Reaper) HandleSessionExpired(ctx context.Context, sessionID string) {
	ok := r.launch(func() {
		sess, err := r.store.Get(ctx, sessionID)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"session_id": sessionID,
				"error":      err,
			}).Warn("Expired-session notification for unknown session")
			return
		}
		_ = r.cleanSession(ctx, sess)
	})
	if !ok {
		r.log.WithField("session_id", sessionID).Warn("Expired-session notification after stop ignored")
	}
}

// HandleOrphanedContainer schedules asynchronous teardown of a container
// whose session record is already gone.
func (r *Reaper) HandleOrphanedContainer(ctx context.Context, containerID string) {
	ok := r.launch(func() {
		if err := r.containers.Stop(ctx, containerID); err != nil {
			r.log.WithFields(logrus.Fields{
				"container_id": containerID,
				"error":        err,
			}).Warn("Orphaned container teardown failed")
		}
	})
	if !ok {
		r.log.WithField("container_id", containerID).Warn("Orphaned-container notification after stop ignored")
	}
}

// emit publishes an event without blocking; slow consumers lose events, and
// emits after the stream has closed are dropped.
func (r *Reaper) emit(e domain.ReaperEvent) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
	}
}
