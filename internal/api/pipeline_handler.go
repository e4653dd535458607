package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
)

// ListPipelines возвращает список pipelines.
// GET /api/v1/pipelines?organization_id=...
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	var orgID *uuid.UUID
	if s := r.URL.Query().Get("organization_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			BadRequest(w, "invalid organization_id")
			return
		}
		orgID = &id
	}

	pipelines, err := h.pipelines.List(r.Context(), orgID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePipeline создаёт новый pipeline.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if req.OrganizationID == uuid.Nil {
		BadRequest(w, "organization_id is required")
		return
	}

	p := &domain.Pipeline{
		ID:             uuid.New(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		IsActive:       true,
		CreatedAt:      time.Now(),
	}

	if err := h.pipelines.Create(r.Context(), p); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, PipelineFromDomain(*p))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	p, err := h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*p))
}

// UpdatePipeline включает/выключает pipeline.
// PUT /api/v1/pipelines/{id}
func (h *Handler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req UpdatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.IsActive != nil {
		if err := h.pipelines.SetActive(r.Context(), id, *req.IsActive); HandleRepoError(w, h.logger, err, "pipeline not found") {
			return
		}
	}

	p, err := h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*p))
}

// DeletePipeline удаляет pipeline.
// DELETE /api/v1/pipelines/{id}
func (h *Handler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if err := h.pipelines.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	NoContent(w)
}

// ListPipelineVersions возвращает версии pipeline.
// GET /api/v1/pipelines/{id}/versions
func (h *Handler) ListPipelineVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	if _, err := h.pipelines.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	versions, err := h.pipelines.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = PipelineVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// CreatePipelineVersion сохраняет новую версию конфигурации.
// Невалидная конфигурация отклоняется с 422, версия не создаётся.
// POST /api/v1/pipelines/{id}/versions
func (h *Handler) CreatePipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreatePipelineVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := engine.Validate(&req.Config); err != nil {
		InvalidConfig(w, err)
		return
	}

	v := &domain.PipelineVersion{
		PipelineID: id,
		Config:     req.Config,
		CreatedAt:  time.Now(),
	}

	if err := h.pipelines.CreateVersion(r.Context(), v); HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	h.logger.Info("pipeline version created", "pipeline_id", id, "version", v.Version, "steps", len(v.Config.Steps))
	Created(w, PipelineVersionFromDomain(*v))
}

// GetPipelineVersion возвращает конкретную версию.
// GET /api/v1/pipelines/{id}/versions/{version}
func (h *Handler) GetPipelineVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		BadRequest(w, "invalid version")
		return
	}

	v, err := h.pipelines.GetVersion(r.Context(), id, version)
	if HandleRepoError(w, h.logger, err, "pipeline version not found") {
		return
	}

	Success(w, PipelineVersionFromDomain(*v))
}

// ValidatePipelineConfig проверяет конфигурацию без сохранения.
// POST /api/v1/pipelines/validate
func (h *Handler) ValidatePipelineConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.PipelineConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := engine.Validate(&cfg); err != nil {
		InvalidConfig(w, err)
		return
	}

	Success(w, ValidateResponse{Valid: true, Steps: len(cfg.Steps)})
}
