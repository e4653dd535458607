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

// ToolRepo — репозиторий пользовательских tools.
type ToolRepo struct {
	pool *pgxpool.Pool
}

// NewToolRepo создаёт новый ToolRepo.
func NewToolRepo(pool *pgxpool.Pool) *ToolRepo {
	return &ToolRepo{pool: pool}
}

// Create создаёт tool.
func (r *ToolRepo) Create(ctx context.Context, t *domain.Tool) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal tool config: %w", err)
	}

	query := `
		INSERT INTO tools (id, organization_id, name, kind, config, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		t.ID,
		t.OrganizationID,
		t.Name,
		t.Kind,
		configJSON,
		t.IsActive,
		t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert tool: %w", err)
	}
	return nil
}

// GetTool возвращает tool по ID.
func (r *ToolRepo) GetTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error) {
	query := `
		SELECT id, organization_id, name, kind, config, is_active, created_at
		FROM tools
		WHERE id = $1
	`
	var t domain.Tool
	var configJSON []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.OrganizationID,
		&t.Name,
		&t.Kind,
		&configJSON,
		&t.IsActive,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &t.Config); err != nil {
			return nil, fmt.Errorf("unmarshal tool config: %w", err)
		}
	}
	return &t, nil
}
