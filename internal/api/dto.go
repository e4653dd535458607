package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на создание pipeline.
type CreatePipelineRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
}

// UpdatePipelineRequest — запрос на обновление pipeline.
type UpdatePipelineRequest struct {
	IsActive *bool `json:"is_active,omitempty"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		IsActive:       p.IsActive,
		CreatedAt:      p.CreatedAt,
	}
}

// PipelineVersion DTOs

// CreatePipelineVersionRequest — запрос на создание версии pipeline.
type CreatePipelineVersionRequest struct {
	Config domain.PipelineConfig `json:"config"`
}

// PipelineVersionResponse — ответ с версией pipeline.
type PipelineVersionResponse struct {
	PipelineID uuid.UUID             `json:"pipeline_id"`
	Version    int                   `json:"version"`
	Config     domain.PipelineConfig `json:"config"`
	CreatedAt  time.Time             `json:"created_at"`
}

// PipelineVersionFromDomain конвертирует domain.PipelineVersion в PipelineVersionResponse.
func PipelineVersionFromDomain(v domain.PipelineVersion) PipelineVersionResponse {
	return PipelineVersionResponse{
		PipelineID: v.PipelineID,
		Version:    v.Version,
		Config:     v.Config,
		CreatedAt:  v.CreatedAt,
	}
}

// ValidateResponse — результат проверки конфигурации без сохранения.
type ValidateResponse struct {
	Valid bool `json:"valid"`
	Steps int  `json:"steps"`
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Instrument     string     `json:"instrument"`
	Timeframe      string     `json:"timeframe"`
	Version        *int       `json:"version,omitempty"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID  `json:"id"`
	PipelineID     uuid.UUID  `json:"pipeline_id"`
	Version        int        `json:"version"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	Instrument     string     `json:"instrument"`
	Timeframe      string     `json:"timeframe"`
	Status         string     `json:"status"`
	CostEstTotal   float64    `json:"cost_est_total"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		PipelineID:     r.PipelineID,
		Version:        r.Version,
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		Instrument:     r.Instrument,
		Timeframe:      r.Timeframe,
		Status:         string(r.Status),
		CostEstTotal:   r.CostEstTotal,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

// Step DTOs

// StepResponse — ответ с записью шага.
type StepResponse struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	StepName     string    `json:"step_name"`
	StepOrder    int       `json:"step_order"`
	Status       string    `json:"status"`
	InputBlob    string    `json:"input_blob"`
	OutputBlob   string    `json:"output_blob,omitempty"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostEst      float64   `json:"cost_est"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Annotations  []string  `json:"annotations,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// StepFromDomain конвертирует domain.StepRecord в StepResponse.
func StepFromDomain(s domain.StepRecord) StepResponse {
	return StepResponse{
		ID:           s.ID,
		RunID:        s.RunID,
		StepName:     s.StepName,
		StepOrder:    s.StepOrder,
		Status:       string(s.Status),
		InputBlob:    s.InputBlob,
		OutputBlob:   s.OutputBlob,
		Model:        s.Model,
		Provider:     s.Provider,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		CostEst:      s.CostEst,
		Error:        s.Error,
		ErrorKind:    string(s.ErrorKind),
		Annotations:  s.Annotations,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	Instrument  string `json:"instrument"`
	Timeframe   string `json:"timeframe"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Instrument  *string `json:"instrument,omitempty"`
	Timeframe   *string `json:"timeframe,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID             uuid.UUID  `json:"id"`
	PipelineID     uuid.UUID  `json:"pipeline_id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Name           string     `json:"name"`
	Instrument     string     `json:"instrument"`
	Timeframe      string     `json:"timeframe"`
	CronExpr       string     `json:"cron_expr,omitempty"`
	IntervalSec    int        `json:"interval_sec,omitempty"`
	Timezone       string     `json:"timezone"`
	Enabled        bool       `json:"enabled"`
	NextDueAt      *time.Time `json:"next_due_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastRunID      *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:             s.ID,
		PipelineID:     s.PipelineID,
		OrganizationID: s.OrganizationID,
		Name:           s.Name,
		Instrument:     s.Instrument,
		Timeframe:      s.Timeframe,
		CronExpr:       s.CronExpr,
		IntervalSec:    s.IntervalSec,
		Timezone:       s.Timezone,
		Enabled:        s.Enabled,
		NextDueAt:      s.NextDueAt,
		LastRunAt:      s.LastRunAt,
		LastRunID:      s.LastRunID,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
