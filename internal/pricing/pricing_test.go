package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Analytica/internal/domain"
)

type listerFunc func(ctx context.Context) ([]domain.ModelPricing, error)

func (f listerFunc) ListPricing(ctx context.Context) ([]domain.ModelPricing, error) {
	return f(ctx)
}

func testTable() *Table {
	return NewTable([]domain.ModelPricing{
		{Model: "openai/gpt-4o-mini", Provider: "openrouter", CostPer1KInput: 0.00015, CostPer1KOutput: 0.0006},
		{Model: "anthropic/claude-sonnet-4", Provider: "", CostPer1KInput: 0.003, CostPer1KOutput: 0.015},
	})
}

func TestTable_GetModelPricing(t *testing.T) {
	table := testTable()
	ctx := context.Background()

	p, err := table.GetModelPricing(ctx, "OpenAI/GPT-4o-mini", "OpenRouter")
	require.NoError(t, err)
	assert.Equal(t, 0.00015, p.CostPer1KInput)

	// Запись без провайдера подходит любому провайдеру
	p, err = table.GetModelPricing(ctx, "anthropic/claude-sonnet-4", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, 0.015, p.CostPer1KOutput)

	_, err = table.GetModelPricing(ctx, "openai/gpt-4o-mini", "azure")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, table.Len())
}

func TestSnapshot(t *testing.T) {
	table, err := Snapshot(context.Background(), listerFunc(func(ctx context.Context) ([]domain.ModelPricing, error) {
		return []domain.ModelPricing{{Model: "m", CostPer1KInput: 1}}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	boom := errors.New("db down")
	_, err = Snapshot(context.Background(), listerFunc(func(ctx context.Context) ([]domain.ModelPricing, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
}

func TestCalculator_Cost(t *testing.T) {
	calc := NewCalculator(testTable(), 0.002)
	ctx := context.Background()

	tests := []struct {
		name     string
		model    string
		in, out  int
		reported float64
		want     float64
		source   Source
	}{
		{
			name:  "pricing table",
			model: "anthropic/claude-sonnet-4",
			in:    2000, out: 1000,
			reported: 0.9,
			want:     2*0.003 + 1*0.015,
			source:   SourceTable,
		},
		{
			name:  "provider reported",
			model: "unknown/model",
			in:    2000, out: 1000,
			reported: 0.07,
			want:     0.07,
			source:   SourceProvider,
		},
		{
			name:  "flat fallback",
			model: "unknown/model",
			in:    1500, out: 500,
			want:   2 * 0.002,
			source: SourceFallback,
		},
		{
			name:   "zero tokens",
			model:  "unknown/model",
			want:   0,
			source: SourceFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, source := calc.Cost(ctx, tt.model, "openrouter", tt.in, tt.out, tt.reported)
			assert.InDelta(t, tt.want, cost, 1e-12)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestCalculator_DefaultFallback(t *testing.T) {
	calc := NewCalculator(nil, 0)
	cost, source := calc.Cost(context.Background(), "m", "p", 1000, 0, 0)
	assert.InDelta(t, DefaultFallbackPer1K, cost, 1e-12)
	assert.Equal(t, SourceFallback, source)
}
