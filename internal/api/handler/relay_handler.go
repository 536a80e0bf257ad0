package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/creator-relay/internal/api/middleware"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/service"
)

// RelayHandler serves queue and mapping administration endpoints.
type RelayHandler struct {
	svc    *service.RelayService
	logger *zap.Logger
}

func NewRelayHandler(svc *service.RelayService, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{svc: svc, logger: logger}
}

// Drain handles POST /api/v1/queue/drain
//
// @Summary  Drain the pending queue now
// @Tags     queue
// @Produce  json
// @Success  202  {object}  processor.Report
// @Failure  409  {object}  map[string]string  "A drain is already running"
// @Router   /api/v1/queue/drain [post]
func (h *RelayHandler) Drain(w http.ResponseWriter, r *http.Request) {
	// The drain must finish its current job even if the caller disconnects.
	ctx := context.WithoutCancel(r.Context())
	rep, err := h.svc.DrainNow(ctx)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("manual drain not run", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, rep)
}

// ListJobs handles GET /api/v1/jobs
//
// @Summary  List queue jobs, newest first
// @Tags     queue
// @Produce  json
// @Param    status  query     string  false  "pending, done or failed"
// @Param    limit   query     int     false  "Items (default 20, max 100)"
// @Success  200     {object}  map[string]any
// @Failure  422     {object}  map[string]string
// @Router   /api/v1/jobs [get]
func (h *RelayHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f domain.JobFilter
	if l, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.JobStatus(s)
		f.Status = &st
	}

	jobs, err := h.svc.ListJobs(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.QueueJob{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": jobs, "count": len(jobs)})
}

// GetJob handles GET /api/v1/jobs/{id}
//
// @Summary  Get a queue job by ID
// @Tags     queue
// @Produce  json
// @Param    id   path      string  true  "Job UUID"
// @Success  200  {object}  domain.QueueJob
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/jobs/{id} [get]
func (h *RelayHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// ListMappings handles GET /api/v1/mappings
//
// @Summary  List destination mappings
// @Tags     mappings
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/mappings [get]
func (h *RelayHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.svc.ListMappings(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	if mappings == nil {
		mappings = []*domain.DestinationMapping{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": mappings, "count": len(mappings)})
}

// GetMapping handles GET /api/v1/mappings/{username}
//
// @Summary  Get one destination mapping
// @Tags     mappings
// @Produce  json
// @Param    username  path      string  true  "Creator username"
// @Success  200       {object}  domain.DestinationMapping
// @Failure  404       {object}  map[string]string
// @Router   /api/v1/mappings/{username} [get]
func (h *RelayHandler) GetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMapping(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// UpsertMapping handles PUT /api/v1/mappings/{username}
//
// @Summary  Create or repoint a destination mapping
// @Tags     mappings
// @Accept   json
// @Produce  json
// @Param    username  path      string                       true  "Creator username"
// @Param    body      body      domain.UpsertMappingRequest  true  "Destination"
// @Success  200       {object}  domain.DestinationMapping
// @Failure  422       {object}  map[string]string
// @Router   /api/v1/mappings/{username} [put]
func (h *RelayHandler) UpsertMapping(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := h.svc.UpsertMapping(r.Context(), chi.URLParam(r, "username"), req)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("upsert mapping failed",
			zap.String("username", chi.URLParam(r, "username")),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}
