// Package api exposes the pipeline, queue and usage ledger over a small JSON HTTP surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/pipeline"
)

// Generator is implemented by *pipeline.Pipeline
type Generator interface {
	GenerateAndReview(ctx context.Context, assetID int64, source models.Source) (*pipeline.Outcome, error)
	GenerateOnUpload(ctx context.Context, assetID int64) (*pipeline.Outcome, error)
	GenerateBulk(ctx context.Context, ids []int64, source models.Source) []pipeline.BulkItem
}

// Queue is implemented by *queue.Manager
type Queue interface {
	Start(ctx context.Context, scope models.QueueScope, batch int) (*models.QueueState, error)
	Cancel(ctx context.Context) error
	Tick(ctx context.Context) (*models.QueueState, error)
	State(ctx context.Context) (*models.QueueState, error)
}

// Usage is implemented by *usage.Ledger
type Usage interface {
	Snapshot(ctx context.Context) models.UsageLedger
}

// Stats is implemented by any storage.AssetStore
type Stats interface {
	MediaStats(ctx context.Context) (models.MediaStats, error)
}

// Server holds the handler dependencies
type Server struct {
	gen   Generator
	queue Queue
	usage Usage
	stats Stats
	log   *logrus.Entry
}

// NewServer creates a Server
func NewServer(gen Generator, queue Queue, usage Usage, stats Stats, log *logrus.Entry) *Server {
	return &Server{
		gen:   gen,
		queue: queue,
		usage: usage,
		stats: stats,
		log:   log.WithField("component", "api"),
	}
}

// Router builds the chi router with all routes and middleware
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/assets/{id}/generate", s.handleGenerate)
		r.Post("/assets/{id}/uploaded", s.handleUploaded)
		r.Post("/assets/bulk", s.handleBulk)

		r.Get("/queue", s.handleQueueState)
		r.Post("/queue", s.handleQueueStart)
		r.Delete("/queue", s.handleQueueCancel)
		r.Post("/queue/tick", s.handleQueueTick)

		r.Get("/usage", s.handleUsage)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.log.Errorf("Failed to write health check response: %v", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger logs one line per request through logrus
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}
