package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Analytica/internal/domain"
)

// StepRepo — репозиторий записей шагов (run_steps). Записи только добавляются.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// CreateStep вставляет запись шага.
// Повторная вставка того же шага run возвращает ErrAlreadyExists.
func (r *StepRepo) CreateStep(ctx context.Context, s *domain.StepRecord) error {
	query := `
		INSERT INTO run_steps (id, run_id, step_name, step_order, status, input_blob, output_blob,
		                       model, provider, input_tokens, output_tokens, cost_est,
		                       error, error_kind, annotations, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at
	`
	annotations := s.Annotations
	if annotations == nil {
		annotations = []string{}
	}

	err := r.pool.QueryRow(ctx, query,
		s.ID,
		s.RunID,
		s.StepName,
		s.StepOrder,
		s.Status,
		s.InputBlob,
		nullString(s.OutputBlob),
		s.Model,
		s.Provider,
		s.InputTokens,
		s.OutputTokens,
		s.CostEst,
		nullString(s.Error),
		nullString(string(s.ErrorKind)),
		annotations,
		s.StartedAt,
		s.FinishedAt,
	).Scan(&s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

// ListByRunID возвращает записи шагов run по возрастанию step_order.
func (r *StepRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.StepRecord, error) {
	query := `
		SELECT id, run_id, step_name, step_order, status, input_blob, output_blob,
		       model, provider, input_tokens, output_tokens, cost_est,
		       error, error_kind, annotations, started_at, finished_at, created_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY step_order ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list step records: %w", err)
	}
	defer rows.Close()

	var records []domain.StepRecord
	for rows.Next() {
		var s domain.StepRecord
		var outputBlob, stepError, errorKind *string

		if err := rows.Scan(
			&s.ID,
			&s.RunID,
			&s.StepName,
			&s.StepOrder,
			&s.Status,
			&s.InputBlob,
			&outputBlob,
			&s.Model,
			&s.Provider,
			&s.InputTokens,
			&s.OutputTokens,
			&s.CostEst,
			&stepError,
			&errorKind,
			&s.Annotations,
			&s.StartedAt,
			&s.FinishedAt,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}

		if outputBlob != nil {
			s.OutputBlob = *outputBlob
		}
		if stepError != nil {
			s.Error = *stepError
		}
		if errorKind != nil {
			s.ErrorKind = domain.ErrorKind(*errorKind)
		}
		records = append(records, s)
	}
	return records, rows.Err()
}

