package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition — попытка перевести run в недопустимый статус.
var ErrInvalidTransition = errors.New("invalid run status transition")

// Run — экземпляр выполнения версии pipeline для пары (instrument, timeframe).
//
// Run создаётся когда:
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// После создания run изменяет только orchestrator.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — версия pipeline, зафиксированная на момент создания.
	Version int `json:"version"`

	// OrganizationID — организация-владелец.
	OrganizationID uuid.UUID `json:"organization_id"`

	// UserID — пользователь, инициировавший запуск. Nil для запусков по расписанию.
	UserID *uuid.UUID `json:"user_id,omitempty"`

	// Instrument — инструмент рынка, например "BTCUSDT".
	Instrument string `json:"instrument"`

	// Timeframe — таймфрейм свечей, например "1h".
	Timeframe string `json:"timeframe"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// CostEstTotal — сумма cost_est по всем записям шагов (USD).
	CostEstTotal float64 `json:"cost_est_total"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — сводка ошибок для FAILED и MODEL_FAILURE.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности.
	// Для scheduled runs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run из QUEUED в RUNNING.
func (r *Run) MarkRunning() error {
	if r.Status != RunStatusQueued {
		return ErrInvalidTransition
	}
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	return nil
}

// Finish переводит run в финальный статус и фиксирует итоговую стоимость.
// Повторный вызов для завершённого run возвращает ErrInvalidTransition.
func (r *Run) Finish(status RunStatus, costTotal float64, errMsg string) error {
	if r.Status.IsTerminal() || !status.IsTerminal() {
		return ErrInvalidTransition
	}
	now := time.Now()
	r.Status = status
	r.CostEstTotal = costTotal
	r.Error = errMsg
	r.FinishedAt = &now
	return nil
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(costTotal float64, err string) error {
	return r.Finish(RunStatusFailed, costTotal, err)
}
