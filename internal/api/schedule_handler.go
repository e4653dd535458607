package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/scheduler"
)

// ListSchedules возвращает список schedules с фильтрацией.
// GET /api/v1/schedules?pipeline_id=...&instrument=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.ScheduleFilter{
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

	if s := q.Get("enabled"); s != "" {
		enabled := s == "true"
		filter.Enabled = &enabled
	}

	schedules, err := h.schedules.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт новый schedule для pipeline.
// POST /api/v1/pipelines/{id}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Instrument == "" || req.Timeframe == "" {
		BadRequest(w, "instrument and timeframe are required")
		return
	}
	if req.Name == "" {
		req.Name = req.Instrument + " " + req.Timeframe
	}

	pipeline, err := h.pipelines.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	now := time.Now()
	schedule := &domain.Schedule{
		ID:             uuid.New(),
		PipelineID:     pipelineID,
		OrganizationID: pipeline.OrganizationID,
		Instrument:     req.Instrument,
		Timeframe:      req.Timeframe,
		Name:           req.Name,
		CronExpr:       req.CronExpr,
		IntervalSec:    req.IntervalSec,
		Timezone:       timezone,
		Enabled:        req.Enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if !h.applyTrigger(w, schedule) {
		return
	}

	if err := h.schedules.Create(r.Context(), schedule); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, ScheduleFromDomain(schedule))
}

// GetSchedule возвращает schedule по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// UpdateSchedule обновляет schedule.
// Изменение триггера пересчитывает next_due_at.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.Instrument != nil {
		schedule.Instrument = *req.Instrument
	}
	if req.Timeframe != nil {
		schedule.Timeframe = *req.Timeframe
	}

	triggerChanged := req.CronExpr != nil || req.IntervalSec != nil || req.Timezone != nil
	if req.CronExpr != nil {
		schedule.CronExpr = *req.CronExpr
	}
	if req.IntervalSec != nil {
		schedule.IntervalSec = *req.IntervalSec
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}
	if triggerChanged && !h.applyTrigger(w, schedule) {
		return
	}

	schedule.UpdatedAt = time.Now()
	if err := h.schedules.Update(r.Context(), schedule); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule удаляет schedule.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if err := h.schedules.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает schedule.
// Срабатывания, пропущенные за время паузы, не догоняются: при включении
// просроченный next_due_at переносится на ближайшее будущее срабатывание.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	if !req.Enabled {
		if err := h.schedules.SetEnabled(r.Context(), id, false); HandleRepoError(w, h.logger, err, "schedule not found") {
			return
		}
		schedule.Enabled = false
		Success(w, ScheduleFromDomain(schedule))
		return
	}

	now := time.Now()
	schedule.Enabled = true
	schedule.UpdatedAt = now
	if schedule.NextDueAt == nil || schedule.NextDueAt.Before(now) {
		next, err := scheduler.CalculateNextDue(schedule, now)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		schedule.NextDueAt = &next
	}

	if err := h.schedules.Update(r.Context(), schedule); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// applyTrigger проверяет cron/interval/timezone и вычисляет next_due_at.
// При ошибке пишет 400 и возвращает false.
func (h *Handler) applyTrigger(w http.ResponseWriter, schedule *domain.Schedule) bool {
	if schedule.CronExpr == "" && schedule.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return false
	}
	if schedule.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(schedule.CronExpr); err != nil {
			BadRequest(w, err.Error())
			return false
		}
	}
	if err := scheduler.ValidateTimezone(schedule.Timezone); err != nil {
		BadRequest(w, err.Error())
		return false
	}

	next, err := scheduler.CalculateInitialNextDue(schedule)
	if err != nil {
		BadRequest(w, err.Error())
		return false
	}
	schedule.NextDueAt = &next
	return true
}
