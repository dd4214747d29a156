// Package usage keeps the cumulative token ledger and its one-shot threshold alert.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/metrics"
	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/notify"
	"github.com/Sriram-PR/alt-text-gen/pkg/storage"
)

const persistTimeout = 5 * time.Second

// Ledger accumulates provider usage. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	state    models.UsageLedger // Last value read from or written to the store
	store    storage.StateStore
	cfg      config.Source
	notifier notify.Notifier
	now      func() time.Time
	log      *logrus.Entry
}

// NewLedger creates a Ledger. store and notifier may be nil; without a store the ledger lives in memory.
func NewLedger(store storage.StateStore, cfg config.Source, notifier notify.Notifier, log *logrus.Entry) *Ledger {
	return &Ledger{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
		log:      log.WithField("component", "usage"),
	}
}

// load re-reads the persisted ledger so concurrent processes sharing the store see each
// other's updates. On error the cached state is left untouched. Caller holds mu.
func (l *Ledger) load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	saved, err := l.store.LoadUsageLedger(ctx)
	if err != nil {
		return fmt.Errorf("loading usage ledger: %w", err)
	}
	if saved == nil {
		l.state = models.UsageLedger{}
		return nil
	}
	l.state = *saved
	return nil
}

// syncThreshold adopts the configured threshold; a changed value re-arms the alert. Caller holds mu.
func (l *Ledger) syncThreshold() bool {
	if l.cfg == nil {
		return false
	}
	threshold := l.cfg.Current().UsageAlertThreshold
	if threshold == l.state.AlertThreshold {
		return false
	}
	l.log.Infof("Usage alert threshold changed %d -> %d, alert re-armed", l.state.AlertThreshold, threshold)
	l.state.AlertThreshold = threshold
	l.state.AlertSent = false
	return true
}

// Record adds u to the ledger. Zero usage is ignored.
func (l *Ledger) Record(u models.Usage) error {
	if u.IsZero() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	l.mu.Lock()
	if err := l.load(ctx); err != nil {
		l.mu.Unlock()
		l.log.Errorf("Usage not recorded, %d tokens lost: %v", u.TotalTokens, err)
		return err
	}
	l.syncThreshold()

	l.state.PromptTokens += int64(u.PromptTokens)
	l.state.CompletionTokens += int64(u.CompletionTokens)
	l.state.TotalTokens += int64(u.TotalTokens)
	l.state.Requests++
	l.state.LastRequestAt = l.now().UTC()

	fire := l.state.AlertThreshold > 0 && !l.state.AlertSent && l.state.TotalTokens >= l.state.AlertThreshold
	if fire {
		l.state.AlertSent = true
	}
	snapshot := l.state
	err := l.persist(ctx)
	l.mu.Unlock()

	metrics.ObserveUsage(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	if fire {
		metrics.UsageAlertFired()
		l.alert(ctx, snapshot)
	}
	return err
}

func (l *Ledger) alert(ctx context.Context, s models.UsageLedger) {
	l.log.WithFields(logrus.Fields{"total_tokens": s.TotalTokens, "threshold": s.AlertThreshold}).Warn("Usage alert threshold crossed")
	if l.notifier == nil {
		return
	}
	body := fmt.Sprintf("Cumulative token usage reached %d (threshold %d) across %d requests. Prompt %d, completion %d.",
		s.TotalTokens, s.AlertThreshold, s.Requests, s.PromptTokens, s.CompletionTokens)
	_ = l.notifier.Notify(ctx, "Alt text usage alert", body)
}

// persist writes the whole ledger. Caller holds mu.
func (l *Ledger) persist(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	state := l.state
	if err := l.store.SaveUsageLedger(ctx, &state); err != nil {
		l.log.Errorf("Saving usage ledger failed: %v", err)
		return err
	}
	return nil
}

// Snapshot returns a copy of the ledger with the current threshold applied. When the store
// cannot be read the last known state is returned and nothing is written.
func (l *Ledger) Snapshot(ctx context.Context) models.UsageLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(ctx); err != nil {
		l.log.Warnf("Serving cached usage ledger: %v", err)
		return l.state
	}
	if l.syncThreshold() {
		_ = l.persist(ctx)
	}
	return l.state
}

// Reset zeroes the counters and re-arms the alert, keeping the threshold
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(ctx); err != nil {
		l.log.Warnf("Resetting without the persisted threshold: %v", err)
	}
	l.state = models.UsageLedger{AlertThreshold: l.state.AlertThreshold}
	l.syncThreshold()
	return l.persist(ctx)
}
