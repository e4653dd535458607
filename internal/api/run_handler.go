package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/repo"
)

const defaultListLimit = 50

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline_id=...&organization_id=...&status=...&instrument=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		Status:     domain.RunStatus(q.Get("status")),
		Instrument: q.Get("instrument"),
		Limit:      queryInt(q.Get("limit"), defaultListLimit),
		Offset:     queryInt(q.Get("offset"), 0),
	}

	if s := q.Get("pipeline_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &id
	}
	if s := q.Get("organization_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			BadRequest(w, "invalid organization_id")
			return
		}
		filter.OrganizationID = &id
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт QUEUED run для pipeline.
//
// Конфигурация выбранной версии проверяется повторно: run с невалидной
// конфигурацией не создаётся (422).
// POST /api/v1/pipelines/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Instrument == "" || req.Timeframe == "" {
		BadRequest(w, "instrument and timeframe are required")
		return
	}

	pipeline, err := h.pipelines.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}
	if !pipeline.IsActive {
		InvalidState(w, "pipeline is inactive")
		return
	}

	var version *domain.PipelineVersion
	if req.Version != nil {
		version, err = h.pipelines.GetVersion(r.Context(), pipelineID, *req.Version)
		if HandleRepoError(w, h.logger, err, "pipeline version not found") {
			return
		}
	} else {
		version, err = h.pipelines.GetLatestVersion(r.Context(), pipelineID)
		if HandleRepoError(w, h.logger, err, "pipeline has no versions") {
			return
		}
	}

	if err := engine.Validate(&version.Config); err != nil {
		InvalidConfig(w, err)
		return
	}

	if req.IdempotencyKey != "" {
		existing, err := h.runs.GetByIdempotencyKey(r.Context(), pipelineID, req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	run := &domain.Run{
		ID:             uuid.New(),
		PipelineID:     pipelineID,
		Version:        version.Version,
		OrganizationID: pipeline.OrganizationID,
		UserID:         req.UserID,
		Instrument:     req.Instrument,
		Timeframe:      req.Timeframe,
		Status:         domain.RunStatusQueued,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	if err := h.runs.Create(r.Context(), run); HandleRepoError(w, h.logger, err, "") {
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunQueued(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.queued", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// ListRunSteps возвращает записи шагов run по order.
// GET /api/v1/runs/{id}/steps
func (h *Handler) ListRunSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if _, err := h.runs.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	records, err := h.steps.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]StepResponse, len(records))
	for i, s := range records {
		result[i] = StepFromDomain(s)
	}

	List(w, result, len(result))
}

// queryInt парсит неотрицательное число из query, иначе возвращает def.
func queryInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
