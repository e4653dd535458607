package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Analytica/internal/domain"
)

// PipelineRepo — репозиторий для работы с pipelines и pipeline_versions.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// --- Pipeline CRUD ---

// Create создаёт новый pipeline. Имя уникально в пределах организации.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) error {
	query := `
		INSERT INTO pipelines (id, organization_id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, p.ID, p.OrganizationID, p.Name, p.IsActive, p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetByID возвращает pipeline по ID.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := `
		SELECT id, organization_id, name, is_active, created_at
		FROM pipelines
		WHERE id = $1
	`
	var p domain.Pipeline
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&p.IsActive,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline by id: %w", err)
	}
	return &p, nil
}

// List возвращает pipelines организации. orgID == nil — все pipelines.
func (r *PipelineRepo) List(ctx context.Context, orgID *uuid.UUID) ([]domain.Pipeline, error) {
	query := `
		SELECT id, organization_id, name, is_active, created_at
		FROM pipelines
		WHERE ($1::uuid IS NULL OR organization_id = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, nullUUID(orgID))
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		var p domain.Pipeline
		if err := rows.Scan(
			&p.ID,
			&p.OrganizationID,
			&p.Name,
			&p.IsActive,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// SetActive включает/выключает pipeline.
func (r *PipelineRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx, `UPDATE pipelines SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set pipeline active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет pipeline (каскадно удалит versions, runs, schedules).
func (r *PipelineRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- PipelineVersion ---

// CreateVersion сохраняет новую версию с номером max(version)+1.
// Номер записывается в v.Version.
func (r *PipelineRepo) CreateVersion(ctx context.Context, v *domain.PipelineVersion) error {
	configJSON, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Блокируем pipeline, чтобы параллельные версии не получили один номер
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM pipelines WHERE id = $1 FOR UPDATE`, v.PipelineID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock pipeline: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO pipeline_versions (pipeline_id, version, config, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3
		FROM pipeline_versions
		WHERE pipeline_id = $1
		RETURNING version
	`, v.PipelineID, configJSON, v.CreatedAt).Scan(&v.Version)
	if err != nil {
		return fmt.Errorf("insert pipeline version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetVersion возвращает конкретную версию pipeline.
func (r *PipelineRepo) GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error) {
	query := `
		SELECT pipeline_id, version, config, created_at
		FROM pipeline_versions
		WHERE pipeline_id = $1 AND version = $2
	`
	return scanVersion(r.pool.QueryRow(ctx, query, pipelineID, version))
}

// GetLatestVersion возвращает последнюю версию pipeline.
func (r *PipelineRepo) GetLatestVersion(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineVersion, error) {
	query := `
		SELECT pipeline_id, version, config, created_at
		FROM pipeline_versions
		WHERE pipeline_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanVersion(r.pool.QueryRow(ctx, query, pipelineID))
}

// ListVersions возвращает версии pipeline, новые первыми.
func (r *PipelineRepo) ListVersions(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineVersion, error) {
	query := `
		SELECT pipeline_id, version, config, created_at
		FROM pipeline_versions
		WHERE pipeline_id = $1
		ORDER BY version DESC
	`
	rows, err := r.pool.Query(ctx, query, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list pipeline versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.PipelineVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func scanVersion(row pgx.Row) (*domain.PipelineVersion, error) {
	var v domain.PipelineVersion
	var configJSON []byte

	err := row.Scan(&v.PipelineID, &v.Version, &configJSON, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline version: %w", err)
	}

	if err := json.Unmarshal(configJSON, &v.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &v, nil
}
