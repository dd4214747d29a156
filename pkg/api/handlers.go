package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/pipeline"
	"github.com/Sriram-PR/alt-text-gen/pkg/queue"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

var validate = validator.New()

// maxBulkIDs bounds one bulk request; larger jobs belong on the queue
const maxBulkIDs = 100

// GenerateRequest is the optional body of POST /v1/assets/{id}/generate
type GenerateRequest struct {
	Source string `json:"source,omitempty"`
}

// BulkRequest is the body of POST /v1/assets/bulk
type BulkRequest struct {
	IDs    []int64 `json:"ids" validate:"required,min=1,max=100,dive,gt=0"`
	Source string  `json:"source,omitempty"`
}

// QueueStartRequest is the body of POST /v1/queue
type QueueStartRequest struct {
	Scope     string `json:"scope" validate:"required,oneof=missing all"`
	BatchSize int    `json:"batch_size,omitempty" validate:"omitempty,min=1"`
}

// OutcomeResponse describes what a generation persisted
type OutcomeResponse struct {
	AssetID    int64                     `json:"asset_id"`
	AltText    string                    `json:"alt_text,omitempty"`
	Retried    bool                      `json:"retried"`
	Meta       *models.GenerationMeta    `json:"meta,omitempty"`
	Assessment *models.QualityAssessment `json:"assessment,omitempty"`
	DryRun     bool                      `json:"dry_run,omitempty"`
	Prompt     string                    `json:"prompt,omitempty"`
	Skipped    string                    `json:"skipped,omitempty"`
	Error      string                    `json:"error,omitempty"`
	ErrorKind  string                    `json:"error_kind,omitempty"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.assetID(w, r)
	if !ok {
		return
	}
	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid JSON body", "")
			return
		}
	}
	source := models.NormalizeSource(req.Source)
	if req.Source == "" {
		source = models.SourceAPI
	}

	out, err := s.gen.GenerateAndReview(r.Context(), id, source)
	if utils.IsDryRun(err) {
		s.respondJSON(w, http.StatusOK, dryRunResponse(id, err))
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, outcomeResponse(out))
}

func (s *Server) handleUploaded(w http.ResponseWriter, r *http.Request) {
	id, ok := s.assetID(w, r)
	if !ok {
		return
	}
	out, err := s.gen.GenerateOnUpload(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrSkipped):
		s.respondJSON(w, http.StatusOK, OutcomeResponse{AssetID: id, Skipped: err.Error()})
	case utils.IsDryRun(err):
		s.respondJSON(w, http.StatusOK, dryRunResponse(id, err))
	case err != nil:
		s.respondErr(w, err)
	default:
		s.respondJSON(w, http.StatusOK, outcomeResponse(out))
	}
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("ids must hold 1 to %d positive asset IDs", maxBulkIDs), "")
		return
	}
	source := models.NormalizeSource(req.Source)
	if req.Source == "" {
		source = models.SourceBulk
	}

	items := s.gen.GenerateBulk(r.Context(), req.IDs, source)
	resp := make([]OutcomeResponse, 0, len(items))
	for _, item := range items {
		switch {
		case item.Err == nil:
			resp = append(resp, outcomeResponse(item.Outcome))
		case utils.IsDryRun(item.Err):
			resp = append(resp, dryRunResponse(item.AssetID, item.Err))
		default:
			resp = append(resp, OutcomeResponse{
				AssetID:   item.AssetID,
				Error:     utils.RedactError(item.Err),
				ErrorKind: errorKind(item.Err),
			})
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(req.IDs),
		"handled":   len(items),
		"items":     resp,
	})
}

func (s *Server) handleQueueState(w http.ResponseWriter, r *http.Request) {
	state, err := s.queue.State(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleQueueStart(w http.ResponseWriter, r *http.Request) {
	var req QueueStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "scope must be 'missing' or 'all'", "")
		return
	}
	state, err := s.queue.Start(r.Context(), models.QueueScope(req.Scope), req.BatchSize)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, state)
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Cancel(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueTick(w http.ResponseWriter, r *http.Request) {
	state, err := s.queue.Tick(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if state == nil {
		state, err = s.queue.State(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.usage.Snapshot(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.MediaStats(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// assetID parses the {id} path parameter, writing a 400 when it is not a positive integer
func (s *Server) assetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "asset id must be a positive integer", "")
		return 0, false
	}
	return id, true
}

func outcomeResponse(out *pipeline.Outcome) OutcomeResponse {
	if out == nil {
		return OutcomeResponse{}
	}
	meta := out.Meta
	return OutcomeResponse{
		AssetID:    out.AssetID,
		AltText:    out.AltText,
		Retried:    out.Retried,
		Meta:       &meta,
		Assessment: out.Assessment,
	}
}

func dryRunResponse(id int64, err error) OutcomeResponse {
	resp := OutcomeResponse{AssetID: id, DryRun: true}
	if ge, ok := utils.AsGenError(err); ok {
		resp.Prompt = ge.Prompt
	}
	return resp
}

func errorKind(err error) string {
	if ge, ok := utils.AsGenError(err); ok {
		return string(ge.Kind)
	}
	return ""
}

// StatusFor maps pipeline and queue errors onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidScope),
		errors.Is(err, utils.ErrNotAnImage),
		errors.Is(err, utils.ErrConfigValidation):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrTickInProgress),
		errors.Is(err, utils.ErrDuplicateAlt):
		return http.StatusConflict
	case errors.Is(err, utils.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, utils.ErrMissingCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrAPI),
		errors.Is(err, utils.ErrTransport),
		errors.Is(err, utils.ErrImageUnavailable),
		errors.Is(err, utils.ErrImageTooLarge):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := utils.RedactError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithField("category", utils.CategorizeError(err)).Errorf("Request failed: %s", msg)
	} else {
		s.log.Debugf("Request rejected (%d): %s", status, msg)
	}
	s.respondError(w, status, msg, errorKind(err))
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg, kind string) {
	s.respondJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}
