package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepRecord — запись о выполнении одного шага pipeline внутри run.
//
// Запись вставляется один раз, когда исход шага известен, и больше
// не изменяется. Повтор шага — это новый run.
type StepRecord struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// StepName — имя шага из StepSpec.
	StepName string `json:"step_name"`

	// StepOrder — позиция шага в pipeline.
	StepOrder int `json:"step_order"`

	// Status — SUCCEEDED или FAILED.
	Status StepStatus `json:"status"`

	// InputBlob — итоговый user prompt после подстановок.
	InputBlob string `json:"input_blob"`

	// OutputBlob — сырой ответ модели.
	OutputBlob string `json:"output_blob,omitempty"`

	// Model — использованная модель.
	Model string `json:"model"`

	// Provider — провайдер модели.
	Provider string `json:"provider"`

	// InputTokens — токены prompt.
	InputTokens int `json:"input_tokens"`

	// OutputTokens — токены ответа.
	OutputTokens int `json:"output_tokens"`

	// CostEst — оценка стоимости шага (USD).
	CostEst float64 `json:"cost_est"`

	// Error — текст ошибки для FAILED.
	Error string `json:"error,omitempty"`

	// ErrorKind — класс ошибки для FAILED.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Annotations — заметки о деградации входных данных
	// (например, необязательный tool не ответил).
	Annotations []string `json:"annotations,omitempty"`

	// StartedAt — время начала выполнения шага.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения шага.
	FinishedAt time.Time `json:"finished_at"`

	// CreatedAt — время вставки записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewStepRecord создаёт запись для шага, начавшегося сейчас.
func NewStepRecord(runID uuid.UUID, step *StepSpec) *StepRecord {
	return &StepRecord{
		ID:        uuid.New(),
		RunID:     runID,
		StepName:  step.StepName,
		StepOrder: step.Order,
		Model:     step.Model,
		Provider:  step.ProviderOrDefault(),
		StartedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (s *StepRecord) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// MarkSucceeded фиксирует успешный ответ модели.
func (s *StepRecord) MarkSucceeded(output string, inputTokens, outputTokens int, cost float64) {
	s.Status = StepStatusSucceeded
	s.OutputBlob = output
	s.InputTokens = inputTokens
	s.OutputTokens = outputTokens
	s.CostEst = cost
	s.FinishedAt = time.Now()
}

// MarkFailed фиксирует ошибку шага. Токены и стоимость остаются нулевыми.
func (s *StepRecord) MarkFailed(kind ErrorKind, err string) {
	s.Status = StepStatusFailed
	s.ErrorKind = kind
	s.Error = err
	s.FinishedAt = time.Now()
}

// Annotate добавляет заметку о деградации входных данных.
func (s *StepRecord) Annotate(note string) {
	s.Annotations = append(s.Annotations, note)
}
