package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Analytica/internal/domain"
)

const runColumns = `
	id, pipeline_id, version, organization_id, user_id, instrument, timeframe,
	status, cost_est_total, started_at, finished_at, error, idempotency_key, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
// Повтор ключа идемпотентности возвращает ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (id, pipeline_id, version, organization_id, user_id, instrument,
		                  timeframe, status, cost_est_total, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		run.Version,
		run.OrganizationID,
		run.UserID,
		run.Instrument,
		run.Timeframe,
		run.Status,
		run.CostEstTotal,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	query := `SELECT` + runColumns + ` FROM runs WHERE pipeline_id = $1 AND idempotency_key = $2`
	return scanRun(r.pool.QueryRow(ctx, query, pipelineID, key))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `SELECT` + runColumns + `
		FROM runs
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::uuid IS NULL OR organization_id = $2)
		  AND ($3::text IS NULL OR status = $3::run_status)
		  AND ($4::text IS NULL OR instrument = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.PipelineID),
		nullUUID(filter.OrganizationID),
		nullString(string(filter.Status)),
		nullString(filter.Instrument),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListByStatus возвращает runs в указанном статусе, старые первыми.
func (r *RunRepo) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	query := `SELECT` + runColumns + `
		FROM runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	return collectRuns(rows)
}

// MarkRunning сохраняет переход QUEUED → RUNNING.
//
// Обновление условное: если run уже не QUEUED (взят другим процессом),
// возвращается ErrInvalidState.
func (r *RunRepo) MarkRunning(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = 'QUEUED'
	`
	result, err := r.pool.Exec(ctx, query, run.ID, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, run.ID)
	}
	return nil
}

// Finish сохраняет финальный статус, стоимость, ошибку и finished_at.
// Завершённый run не изменяется: возвращается ErrInvalidState.
func (r *RunRepo) Finish(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, cost_est_total = $3, error = $4, finished_at = $5
		WHERE id = $1 AND status IN ('QUEUED', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.CostEstTotal,
		nullString(run.Error),
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrInvalid(ctx, run.ID)
	}
	return nil
}

// missingOrInvalid различает отсутствующий run и run в неподходящем статусе.
func (r *RunRepo) missingOrInvalid(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineID     *uuid.UUID
	OrganizationID *uuid.UUID
	Status         domain.RunStatus
	Instrument     string
	Limit          int
	Offset         int
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует одну строку в Run. pgx.Rows тоже реализует pgx.Row.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var idempotencyKey *string
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Version,
		&run.OrganizationID,
		&run.UserID,
		&run.Instrument,
		&run.Timeframe,
		&run.Status,
		&run.CostEstTotal,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
