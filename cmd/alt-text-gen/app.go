package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	"github.com/Sriram-PR/alt-text-gen/pkg/fetch"
	"github.com/Sriram-PR/alt-text-gen/pkg/generate"
	applog "github.com/Sriram-PR/alt-text-gen/pkg/log"
	"github.com/Sriram-PR/alt-text-gen/pkg/metrics"
	"github.com/Sriram-PR/alt-text-gen/pkg/notify"
	"github.com/Sriram-PR/alt-text-gen/pkg/payload"
	"github.com/Sriram-PR/alt-text-gen/pkg/pipeline"
	"github.com/Sriram-PR/alt-text-gen/pkg/provider"
	"github.com/Sriram-PR/alt-text-gen/pkg/queue"
	"github.com/Sriram-PR/alt-text-gen/pkg/review"
	"github.com/Sriram-PR/alt-text-gen/pkg/storage"
	"github.com/Sriram-PR/alt-text-gen/pkg/tokens"
	"github.com/Sriram-PR/alt-text-gen/pkg/usage"
)

// app is the fully wired set of components shared by every subcommand
type app struct {
	cfg      *config.AppConfig
	log      *logrus.Logger
	store    *storage.BadgerStore
	states   storage.StateStore
	genCfg   *config.Static
	ledger   *usage.Ledger
	pipeline *pipeline.Pipeline
	queue    *queue.Manager
	notifier *notify.Dispatcher
	closers  []func() error
}

// newApp opens storage and builds the generation stack. Callers must Close the result.
func newApp(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger) (*app, error) {
	entry := logrus.NewEntry(log)
	metrics.MustRegister()

	// --- Storage ---
	store, err := storage.NewBadgerStore(cfg.StateDir, entry)
	if err != nil {
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	a := &app{cfg: cfg, log: log, store: store, states: store}
	a.closers = append(a.closers, store.Close)

	if cfg.StateBackend == "redis" {
		redis.SetLogger(applog.NewRedisLogrusAdapter(entry))
		kv, err := storage.NewRedisKV(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		rs := storage.NewRedisStateStore(kv, cfg.Redis.KeyPrefix, entry)
		a.states = rs
		a.closers = append(a.closers, rs.Close)
		log.Infof("Queue and usage state kept in redis at %s", cfg.Redis.Addr)
	}

	// --- HTTP ---
	httpClient := fetch.NewClient(cfg.HTTPClientSettings, entry)
	rateLimiter := fetch.NewRateLimiter(cfg.Payload.DelayPerHost, entry)
	executor := fetch.NewExecutor(httpClient, cfg, entry)

	var robots payload.RobotsPolicy
	if cfg.Payload.RobotsAreRespected() {
		robots = fetch.NewRobotsChecker(httpClient, rateLimiter, cfg.Payload.UserAgent, cfg.Payload.DelayPerHost, entry)
	}
	resolver := payload.NewResolver(cfg.Payload, httpClient, rateLimiter, robots, entry)

	// --- Ledger and notifications ---
	a.genCfg = config.NewStatic(cfg.Generation)
	a.notifier = notify.FromConfig(cfg.Notify, httpClient, entry)
	a.ledger = usage.NewLedger(a.states, a.genCfg, a.notifier, entry)

	// --- Generation ---
	chat := provider.NewClient(executor, entry)
	orchestrator := generate.NewOrchestrator(chat, resolver, a.ledger, tokens.NewEstimator(), entry)
	reviewer := review.NewReviewer(review.NewModelReviewer(chat, entry), a.ledger, entry)
	a.pipeline = pipeline.New(store, orchestrator, reviewer, a.genCfg, entry)
	a.queue = queue.NewManager(store, a.states, a.pipeline, a.notifier, cfg.Queue, entry)

	return a, nil
}

// Close releases storage in reverse order of opening
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Errorf("Close failed: %v", err)
		}
	}
	a.closers = nil
}
