package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule периодически ставит в очередь последнюю версию pipeline
// для пары (Instrument, Timeframe).
//
// Срабатывание задаётся либо CronExpr (в часовом поясе Timezone),
// либо IntervalSec; при обоих побеждает cron.
type Schedule struct {
	ID             uuid.UUID `json:"id"`
	PipelineID     uuid.UUID `json:"pipeline_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name,omitempty"`

	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`

	CronExpr    string `json:"cron_expr,omitempty"`    // "минуты часы дни месяцы дни_недели"
	IntervalSec int    `json:"interval_sec,omitempty"` // если CronExpr пуст
	Timezone    string `json:"timezone"`               // IANA, по умолчанию UTC

	Enabled bool `json:"enabled"`

	// NextDueAt nil у schedule, для которого не удалось посчитать срабатывание.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Schedule) IsCron() bool     { return s.CronExpr != "" }
func (s *Schedule) IsInterval() bool { return s.CronExpr == "" && s.IntervalSec > 0 }

// IsDue — включён и NextDueAt не позже now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextDueAt != nil && !now.Before(*s.NextDueAt)
}

// IdempotencyKey — "{schedule_id}_{next_due_at_unix}": одно срабатывание
// даёт не больше одного run, даже если тик повторился.
func (s *Schedule) IdempotencyKey() string {
	var due int64
	if s.NextDueAt != nil {
		due = s.NextDueAt.Unix()
	}
	return fmt.Sprintf("%s_%d", s.ID, due)
}

// NewRun собирает QUEUED run текущего срабатывания для версии pipeline.
func (s *Schedule) NewRun(version int, now time.Time) *Run {
	return &Run{
		ID:             uuid.New(),
		PipelineID:     s.PipelineID,
		Version:        version,
		OrganizationID: s.OrganizationID,
		Instrument:     s.Instrument,
		Timeframe:      s.Timeframe,
		Status:         RunStatusQueued,
		IdempotencyKey: s.IdempotencyKey(),
		CreatedAt:      now,
	}
}

// Advance переносит schedule на следующее срабатывание.
// runID == uuid.Nil: срабатывание пропущено, история запусков не меняется.
func (s *Schedule) Advance(next time.Time, runID uuid.UUID, now time.Time) {
	s.NextDueAt = &next
	s.UpdatedAt = now
	if runID != uuid.Nil {
		s.LastRunAt = &now
		s.LastRunID = &runID
	}
}
