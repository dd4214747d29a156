// Package queue runs the single background alt-text queue: a persisted QueueState advanced
// one batch per tick, a Runner that ticks when the state says so, and a Watchdog that
// forces a tick when the queue has gone quiet.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/metrics"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/notify"
	"github.com/Sriram-PR/alt-text-gen/pkg/pipeline"
	"github.com/Sriram-PR/alt-text-gen/pkg/storage"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

const (
	// maxBatchRetries caps consecutive API-error reschedules of one batch
	maxBatchRetries = 3
	// minRetryDelay is the floor of the reschedule delay; it also scales with the retry count
	minRetryDelay = 5 * time.Second
)

var (
	ErrTickInProgress = errors.New("a queue tick is already running")
	ErrInvalidScope   = errors.New("invalid queue scope")
)

// Processor is implemented by *pipeline.Pipeline
type Processor interface {
	GenerateAndReview(ctx context.Context, assetID int64, source models.Source) (*pipeline.Outcome, error)
}

// Manager owns the queue state machine: idle, running, then completed or halted
type Manager struct {
	tickMu sync.Mutex // Held for the duration of a tick

	assets   storage.AssetStore
	states   storage.StateStore
	proc     Processor
	notifier notify.Notifier
	cfg      config.QueueConfig
	now      func() time.Time
	log      *logrus.Entry
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(assets storage.AssetStore, states storage.StateStore, proc Processor, notifier notify.Notifier, cfg config.QueueConfig, log *logrus.Entry) *Manager {
	return &Manager{
		assets:   assets,
		states:   states,
		proc:     proc,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      log.WithField("component", "queue"),
	}
}

// Start begins a new run, replacing any active one, and runs the first tick synchronously.
func (m *Manager) Start(ctx context.Context, scope models.QueueScope, batch int) (*models.QueueState, error) {
	if !scope.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if batch <= 0 {
		batch = m.cfg.BatchSize
	}
	batch = config.ClampBatchSize(batch)

	if prev, err := m.states.LoadQueueState(ctx); err != nil {
		return nil, err
	} else if prev != nil && prev.Active {
		m.log.WithField("run_id", prev.RunID).Warn("Replacing active queue run")
	}

	total, err := m.scopeTotal(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	state := &models.QueueState{
		RunID:     uuid.NewString(),
		Scope:     scope,
		BatchSize: batch,
		Total:     total,
		StartedAt: now,
		NextRunAt: now,
		Active:    true,
		Status:    models.QueueRunning,
	}
	state.AddMessage(fmt.Sprintf("Started %s queue over %d images, batch %d", scope, total, batch))
	if err := m.states.SaveQueueState(ctx, state); err != nil {
		return nil, err
	}
	metrics.QueueTransition(string(models.QueueRunning), true)
	m.log.WithFields(logrus.Fields{"run_id": state.RunID, "scope": scope, "batch": batch, "total": total}).Info("Queue started")

	after, err := m.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		// The tick in flight will see the new run id and stop; the runner picks this run up
		return state, nil
	case err != nil:
		return nil, err
	case after != nil:
		return after, nil
	}
	// Cancelled or replaced during the first batch
	return m.State(ctx)
}

func (m *Manager) scopeTotal(ctx context.Context, scope models.QueueScope) (int, error) {
	if scope == models.ScopeAll {
		return m.assets.CountImages(ctx)
	}
	stats, err := m.assets.MediaStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Missing, nil
}

// Cancel clears the queue state and notifies if a run was active
func (m *Manager) Cancel(ctx context.Context) error {
	prev, err := m.states.LoadQueueState(ctx)
	if err != nil {
		return err
	}
	if err := m.states.ClearQueueState(ctx); err != nil {
		return err
	}
	if prev == nil || !prev.Active {
		return nil
	}
	metrics.QueueTransition(string(models.QueueIdle), false)
	m.log.WithField("run_id", prev.RunID).Info("Queue cancelled")
	m.notify(ctx, "Alt text queue cancelled",
		fmt.Sprintf("Run %s cancelled after %d processed, %d errors.", prev.RunID, prev.Processed, prev.Errors))
	return nil
}

// State returns the persisted state, or an idle state when nothing is stored
func (m *Manager) State(ctx context.Context) (*models.QueueState, error) {
	state, err := m.states.LoadQueueState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &models.QueueState{Status: models.QueueIdle}, nil
	}
	return state, nil
}

// outcome classifies one item result
type outcome int

const (
	outcomeOK outcome = iota
	outcomeItemError
	outcomeRetryable
	outcomeFatal
)

func classify(err error) outcome {
	if err == nil || utils.IsDryRun(err) {
		return outcomeOK
	}
	ge, ok := utils.AsGenError(err)
	if !ok {
		return outcomeItemError
	}
	switch {
	case ge.Fatal():
		return outcomeFatal
	case ge.Kind == utils.KindAPIError, ge.Kind == utils.KindRateLimited, ge.Kind == utils.KindTransport:
		return outcomeRetryable
	}
	return outcomeItemError
}

// RetryDelay is the reschedule delay after the n-th consecutive API error
func RetryDelay(retryCount int) time.Duration {
	d := time.Duration(retryCount) * minRetryDelay
	if d < minRetryDelay {
		d = minRetryDelay
	}
	return d
}

// Tick processes one batch of the active run. It returns nil, nil when no run is active and
// ErrTickInProgress when another tick holds the lock.
func (m *Manager) Tick(ctx context.Context) (*models.QueueState, error) {
	if !m.tickMu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer m.tickMu.Unlock()

	state, err := m.states.LoadQueueState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil || !state.Active {
		return state, nil
	}
	tickLog := m.log.WithFields(logrus.Fields{"run_id": state.RunID, "scope": state.Scope, "cursor": state.Cursor})

	ids, err := m.candidates(ctx, state)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return state, m.complete(ctx, state)
	}
	tickLog.Debugf("Tick over %d candidates", len(ids))

	handled, successes, failures := 0, 0, 0
	for _, id := range ids {
		if stop, err := m.superseded(ctx, state.RunID); err != nil || stop {
			tickLog.Info("Run cancelled or replaced mid-batch, stopping")
			return nil, err
		}

		_, itemErr := m.proc.GenerateAndReview(ctx, id, models.SourceQueue)
		if ctx.Err() != nil {
			m.advance(state, handled)
			state.LastRunAt = m.now().UTC()
			_ = m.states.SaveQueueState(context.WithoutCancel(ctx), state)
			return state, ctx.Err()
		}
		state.Attempted++

		switch classify(itemErr) {
		case outcomeOK:
			m.markHandled(state, id)
			state.Processed++
			state.RetryCount = 0
			successes++
			handled++
			metrics.QueueItem(string(state.Scope), "ok")

		case outcomeFatal:
			metrics.QueueItem(string(state.Scope), "fatal")
			m.advance(state, handled)
			return state, m.halt(ctx, state, fmt.Sprintf("ID %d: %s", id, utils.RedactError(itemErr)))

		case outcomeRetryable:
			metrics.QueueItem(string(state.Scope), "retry")
			msg := fmt.Sprintf("ID %d: %s", id, utils.RedactError(itemErr))
			state.AddMessage(msg)
			m.advance(state, handled)
			if state.RetryCount >= maxBatchRetries {
				return state, m.halt(ctx, state, fmt.Sprintf("Giving up after %d retries. %s", state.RetryCount, msg))
			}
			state.RetryCount++
			delay := RetryDelay(state.RetryCount)
			now := m.now().UTC()
			state.LastRunAt = now
			state.NextRunAt = now.Add(delay)
			state.AddMessage(fmt.Sprintf("Retrying batch in %s (attempt %d/%d)", FormatInterval(delay), state.RetryCount, maxBatchRetries))
			tickLog.Warnf("API error, batch rescheduled in %v", delay)
			return state, m.states.SaveQueueState(ctx, state)

		default:
			m.markHandled(state, id)
			state.Errors++
			failures++
			handled++
			state.AddMessage(fmt.Sprintf("ID %d: %s", id, utils.RedactError(itemErr)))
			metrics.QueueItem(string(state.Scope), "error")
		}
	}

	m.advance(state, handled)
	now := m.now().UTC()
	state.LastRunAt = now

	done, err := m.satisfied(ctx, state)
	if err != nil {
		return nil, err
	}
	if done {
		return state, m.complete(ctx, state)
	}
	if successes == 0 && failures == len(ids) {
		return state, m.halt(ctx, state, fmt.Sprintf("Every item in the batch failed (%d errors)", failures))
	}

	state.NextRunAt = now.Add(m.cfg.TickInterval)
	state.AddMessage(fmt.Sprintf("Processed %d of %d images", state.Processed, state.Total))
	return state, m.states.SaveQueueState(ctx, state)
}

// candidates returns the next batch of IDs for the run's scope
func (m *Manager) candidates(ctx context.Context, state *models.QueueState) ([]int64, error) {
	if state.Scope == models.ScopeAll {
		return m.assets.ListAllImageIDs(ctx, state.BatchSize, state.Cursor)
	}
	return m.untried(ctx, state, state.BatchSize)
}

// untried lists up to limit images without alt text that this run has not handled yet.
// Dry runs and item errors leave alt text empty, so those IDs would otherwise come back every tick.
func (m *Manager) untried(ctx context.Context, state *models.QueueState, limit int) ([]int64, error) {
	ids, err := m.assets.ListMissingAltIDs(ctx, limit+len(state.Tried))
	if err != nil {
		return nil, err
	}
	tried := state.TriedSet()
	out := make([]int64, 0, limit)
	for _, id := range ids {
		if tried[id] {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// markHandled keeps a missing-scope item from being picked again in this run
func (m *Manager) markHandled(state *models.QueueState, id int64) {
	if state.Scope == models.ScopeMissing {
		state.MarkTried(id)
	}
}

// advance moves the "all" cursor past handled items; the missing scope is self-selecting
func (m *Manager) advance(state *models.QueueState, handled int) {
	if state.Scope == models.ScopeAll {
		state.Cursor += handled
	}
}

func (m *Manager) satisfied(ctx context.Context, state *models.QueueState) (bool, error) {
	if state.Scope == models.ScopeAll {
		total, err := m.assets.CountImages(ctx)
		if err != nil {
			return false, err
		}
		return state.Cursor >= total, nil
	}
	left, err := m.untried(ctx, state, 1)
	if err != nil {
		return false, err
	}
	return len(left) == 0, nil
}

// superseded reports whether the stored run no longer matches runID
func (m *Manager) superseded(ctx context.Context, runID string) (bool, error) {
	current, err := m.states.LoadQueueState(ctx)
	if err != nil {
		return true, err
	}
	return current == nil || !current.Active || current.RunID != runID, nil
}

func (m *Manager) complete(ctx context.Context, state *models.QueueState) error {
	state.Active = false
	state.Status = models.QueueCompleted
	state.LastRunAt = m.now().UTC()
	state.NextRunAt = time.Time{}
	summary := fmt.Sprintf("Processed %d images with %d errors.", state.Processed, state.Errors)
	state.AddMessage("Completed. " + summary)
	if err := m.states.SaveQueueState(ctx, state); err != nil {
		return err
	}
	metrics.QueueTransition(string(models.QueueCompleted), false)
	m.log.WithField("run_id", state.RunID).Info("Queue completed")
	m.notify(ctx, "Alt text queue completed", summary)
	return nil
}

func (m *Manager) halt(ctx context.Context, state *models.QueueState, reason string) error {
	state.Active = false
	state.Status = models.QueueHalted
	state.LastRunAt = m.now().UTC()
	state.NextRunAt = time.Time{}
	state.AddMessage("Halted: " + reason)
	if err := m.states.SaveQueueState(ctx, state); err != nil {
		return err
	}
	metrics.QueueTransition(string(models.QueueHalted), false)
	m.log.WithField("run_id", state.RunID).Errorf("Queue halted: %s", reason)
	m.notify(ctx, "Alt text queue halted", reason)
	return nil
}

func (m *Manager) notify(ctx context.Context, subject, body string) {
	if m.notifier == nil {
		return
	}
	_ = m.notifier.Notify(context.WithoutCancel(ctx), subject, body)
}
