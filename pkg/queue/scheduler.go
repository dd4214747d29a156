package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/metrics"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// Runner ticks the queue whenever the persisted NextRunAt has passed
type Runner struct {
	manager  *Manager
	interval time.Duration
	log      *logrus.Entry
}

// NewRunner creates a Runner polling at manager's configured poll interval
func NewRunner(manager *Manager) *Runner {
	interval := manager.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{manager: manager, interval: interval, log: manager.log.WithField("loop", "runner")}
}

// Run blocks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.log.Infof("Queue runner started, polling every %s", FormatInterval(r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Queue runner shutting down...")
			return nil
		case <-ticker.C:
			r.runIfDue(ctx)
		}
	}
}

func (r *Runner) runIfDue(ctx context.Context) {
	state, err := r.manager.State(ctx)
	if err != nil {
		r.log.Errorf("Reading queue state failed: %v", err)
		return
	}
	if !state.Due(r.manager.now()) {
		return
	}
	if _, err := r.manager.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) && ctx.Err() == nil {
		r.log.Errorf("Queue tick failed: %s", utils.RedactError(err))
	}
}

// Watchdog forces a tick when an active queue has not ticked for the configured stall window
type Watchdog struct {
	manager    *Manager
	interval   time.Duration
	stallAfter time.Duration
	log        *logrus.Entry
}

// NewWatchdog creates a Watchdog from manager's queue config
func NewWatchdog(manager *Manager) *Watchdog {
	w := &Watchdog{
		manager:    manager,
		interval:   manager.cfg.WatchdogInterval,
		stallAfter: manager.cfg.StallAfter,
		log:        manager.log.WithField("loop", "watchdog"),
	}
	if w.interval <= 0 {
		w.interval = 30 * time.Second
	}
	if w.stallAfter <= 0 {
		w.stallAfter = 90 * time.Second
	}
	return w
}

// Check forces a tick if the queue is stalled. Reports whether it did.
func (w *Watchdog) Check(ctx context.Context) bool {
	state, err := w.manager.State(ctx)
	if err != nil {
		w.log.Errorf("Reading queue state failed: %v", err)
		return false
	}
	if !state.Stalled(w.manager.now(), w.stallAfter) {
		return false
	}
	w.log.WithField("run_id", state.RunID).Warnf("Queue silent for %s, forcing a tick", FormatInterval(w.stallAfter))
	metrics.WatchdogKick()
	if _, err := w.manager.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		w.log.Errorf("Forced tick failed: %s", utils.RedactError(err))
	}
	return true
}

// Run blocks until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
