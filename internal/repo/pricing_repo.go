package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/pricing"
)

// PricingRepo — таблица цен моделей (model_pricing).
type PricingRepo struct {
	pool *pgxpool.Pool
}

// NewPricingRepo создаёт новый PricingRepo.
func NewPricingRepo(pool *pgxpool.Pool) *PricingRepo {
	return &PricingRepo{pool: pool}
}

// ListPricing возвращает всю таблицу цен.
func (r *PricingRepo) ListPricing(ctx context.Context) ([]domain.ModelPricing, error) {
	query := `
		SELECT model, provider, cost_per_1k_input, cost_per_1k_output, updated_at
		FROM model_pricing
		ORDER BY model, provider
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pricing: %w", err)
	}
	defer rows.Close()

	var result []domain.ModelPricing
	for rows.Next() {
		var p domain.ModelPricing
		if err := rows.Scan(&p.Model, &p.Provider, &p.CostPer1KInput, &p.CostPer1KOutput, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pricing: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetModelPricing возвращает цену модели у провайдера.
// Если цены нет, возвращает pricing.ErrNotFound.
func (r *PricingRepo) GetModelPricing(ctx context.Context, model, provider string) (domain.ModelPricing, error) {
	query := `
		SELECT model, provider, cost_per_1k_input, cost_per_1k_output, updated_at
		FROM model_pricing
		WHERE lower(model) = lower($1) AND (provider = '' OR lower(provider) = lower($2))
		ORDER BY provider DESC
		LIMIT 1
	`
	var p domain.ModelPricing
	err := r.pool.QueryRow(ctx, query, model, provider).Scan(
		&p.Model, &p.Provider, &p.CostPer1KInput, &p.CostPer1KOutput, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ModelPricing{}, pricing.ErrNotFound
	}
	if err != nil {
		return domain.ModelPricing{}, fmt.Errorf("get model pricing: %w", err)
	}
	return p, nil
}

// Upsert добавляет или обновляет цену модели.
func (r *PricingRepo) Upsert(ctx context.Context, p domain.ModelPricing) error {
	query := `
		INSERT INTO model_pricing (model, provider, cost_per_1k_input, cost_per_1k_output, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (model, provider)
		DO UPDATE SET cost_per_1k_input = EXCLUDED.cost_per_1k_input,
		              cost_per_1k_output = EXCLUDED.cost_per_1k_output,
		              updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, p.Model, p.Provider, p.CostPer1KInput, p.CostPer1KOutput); err != nil {
		return fmt.Errorf("upsert pricing: %w", err)
	}
	return nil
}
