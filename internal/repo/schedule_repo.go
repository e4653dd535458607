package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Analytica/internal/domain"
)

// Необязательные текстовые и числовые колонки читаются через COALESCE,
// чтобы сканировать их прямо в поля domain.Schedule.
const selectSchedule = `
	SELECT id, pipeline_id, organization_id, instrument, timeframe,
	       COALESCE(name, ''), COALESCE(cron_expr, ''), COALESCE(interval_sec, 0),
	       timezone, enabled, next_due_at, last_run_at, last_run_id, created_at, updated_at
	FROM schedules`

// ScheduleFilter — фильтр списка schedules; nil и пустые поля не фильтруют.
type ScheduleFilter struct {
	PipelineID *uuid.UUID
	Instrument string
	Enabled    *bool
	Limit      int
	Offset     int
}

// ScheduleRepo хранит schedules в PostgreSQL.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

func (r *ScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedules (id, pipeline_id, organization_id, instrument, timeframe, name,
		                       cron_expr, interval_sec, timezone, enabled, next_due_at,
		                       created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.PipelineID, s.OrganizationID, s.Instrument, s.Timeframe,
		nullString(s.Name), nullString(s.CronExpr), nullInt(s.IntervalSec),
		s.Timezone, s.Enabled, s.NextDueAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectSchedule+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scheduleRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}

func (r *ScheduleRepo) List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectSchedule+`
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2 = '' OR instrument = $2)
		  AND ($3::boolean IS NULL OR enabled = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		nullUUID(filter.PipelineID), filter.Instrument, filter.Enabled, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// ListDue возвращает включённые schedules с next_due_at <= now,
// самые просроченные первыми.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectSchedule+`
		WHERE enabled AND next_due_at <= $1
		ORDER BY next_due_at
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return collectSchedules(rows)
}

// Update перезаписывает изменяемые поля, включая историю запусков.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.Schedule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET instrument = $2, timeframe = $3, name = $4, cron_expr = $5, interval_sec = $6,
		    timezone = $7, enabled = $8, next_due_at = $9, last_run_at = $10,
		    last_run_id = $11, updated_at = $12
		WHERE id = $1`,
		s.ID, s.Instrument, s.Timeframe,
		nullString(s.Name), nullString(s.CronExpr), nullInt(s.IntervalSec),
		s.Timezone, s.Enabled, s.NextDueAt, s.LastRunAt, s.LastRunID, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return expectOne(tag)
}

func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return expectOne(tag)
}

func (r *ScheduleRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schedules SET enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	return expectOne(tag)
}

func collectSchedules(rows pgx.Rows) ([]domain.Schedule, error) {
	schedules, err := pgx.CollectRows(rows, scheduleRow)
	if err != nil {
		return nil, fmt.Errorf("scan schedules: %w", err)
	}
	return schedules, nil
}

func scheduleRow(row pgx.CollectableRow) (domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(
		&s.ID, &s.PipelineID, &s.OrganizationID, &s.Instrument, &s.Timeframe,
		&s.Name, &s.CronExpr, &s.IntervalSec,
		&s.Timezone, &s.Enabled, &s.NextDueAt, &s.LastRunAt, &s.LastRunID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
