// Package scheduler provides background drain scheduling for the synchronizer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mwren/tillpoint/internal/connectivity"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/queue"
	syncpkg "github.com/mwren/tillpoint/internal/sync"
)

// Drainer is the slice of the synchronizer the scheduler drives.
type Drainer interface {
	Drain(ctx context.Context) (*syncpkg.DrainResult, error)
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // periodic drain while online
	BackoffBase  time.Duration // first retry delay after a transient failure
	BackoffMax   time.Duration // retry delay cap
	Retention    time.Duration // purge synced sales older than this; 0 disables
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		BackoffBase:  2 * time.Second,
		BackoffMax:   60 * time.Second,
	}
}

// Scheduler owns the drain triggers: reconnect, app start with a non-empty
// queue, a periodic tick while online, and backoff-timed retries after a
// transient failure. The synchronizer itself enforces single-flight, so an
// overlapping trigger is simply swallowed.
type Scheduler struct {
	drainer Drainer
	queue   *queue.SaleQueue
	monitor *connectivity.Monitor
	cfg     *Config

	backoff *backoff.ExponentialBackOff

	mu         sync.Mutex
	isRunning  bool
	retryTimer *time.Timer
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates a Scheduler. It subscribes to the connectivity monitor once,
// here at construction: an offline-to-online transition fires a drain,
// offline transitions fire nothing (new sales just queue up).
func New(drainer Drainer, q *queue.SaleQueue, monitor *connectivity.Monitor, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.BackoffBase
	expo.MaxInterval = cfg.BackoffMax
	expo.MaxElapsedTime = 0 // retry forever; a recorded sale is never dropped
	expo.Reset()

	s := &Scheduler{
		drainer: drainer,
		queue:   q,
		monitor: monitor,
		cfg:     cfg,
		backoff: expo,
		stopCh:  make(chan struct{}),
	}

	monitor.Subscribe(func(online bool) {
		if online {
			s.TriggerDrain(context.Background())
		}
	})

	return s
}

// Start starts the background loops. If sales are already pending (the app
// restarted with an undrained queue), a drain fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicLoop(ctx)

	if s.cfg.Retention > 0 {
		s.wg.Add(1)
		go s.retentionLoop(ctx)
	}

	if depth, err := s.queue.PendingDepth(); err == nil && depth > 0 {
		logging.Info("pending sales found at startup", map[string]interface{}{
			"pending": depth,
		})
		s.TriggerDrain(ctx)
	}

	logging.Info("sync scheduler started", map[string]interface{}{
		"interval": s.cfg.SyncInterval.String(),
	})
}

// Stop stops the scheduler gracefully. A drain in flight is not cancelled:
// a submission already sent must complete so its idempotency key is recorded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped", nil)
}

// TriggerDrain runs a drain in the background. A no-op while one is already
// running (single-flight lives in the synchronizer).
func (s *Scheduler) TriggerDrain(ctx context.Context) {
	go s.runDrain(ctx)
}

func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.Online() {
				continue
			}
			s.TriggerDrain(ctx)
		}
	}
}

func (s *Scheduler) retentionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.queue.PurgeSynced(s.cfg.Retention); err != nil {
				logging.Error("retention purge failed", err, nil)
			}
		}
	}
}

func (s *Scheduler) runDrain(ctx context.Context) {
	result, err := s.drainer.Drain(ctx)
	if err != nil {
		if result == nil {
			// Drain already in progress; this trigger is a no-op.
			return
		}
		s.scheduleRetry(ctx)
		return
	}

	if result.Clean {
		s.backoff.Reset()
		return
	}

	s.scheduleRetry(ctx)
}

// scheduleRetry arms the next drain attempt per the exponential backoff.
// A newer schedule replaces an armed one rather than stacking timers.
func (s *Scheduler) scheduleRetry(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	delay := s.backoff.NextBackOff()

	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(delay, func() {
		s.TriggerDrain(ctx)
	})

	logging.Debug("drain retry scheduled", map[string]interface{}{
		"delay": delay.String(),
	})
}
