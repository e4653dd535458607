// Package pricing считает стоимость вызовов модели.
//
// Таблица цен загружается один раз на run (Snapshot) и дальше только читается.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Analytica/internal/domain"
)

// DefaultFallbackPer1K — консервативная цена за 1000 токенов,
// когда модели нет в таблице и провайдер не сообщил стоимость.
const DefaultFallbackPer1K = 0.01

// ErrNotFound — цена модели не найдена.
var ErrNotFound = errors.New("model pricing not found")

// Lookup возвращает цену модели.
type Lookup interface {
	GetModelPricing(ctx context.Context, model, provider string) (domain.ModelPricing, error)
}

// Lister возвращает все цены. Реализуется репозиторием.
type Lister interface {
	ListPricing(ctx context.Context) ([]domain.ModelPricing, error)
}

type key struct {
	model    string
	provider string
}

// Table — неизменяемый снимок таблицы цен.
type Table struct {
	entries map[key]domain.ModelPricing
}

// NewTable создаёт снимок из списка цен.
func NewTable(entries []domain.ModelPricing) *Table {
	t := &Table{entries: make(map[key]domain.ModelPricing, len(entries))}
	for _, e := range entries {
		t.entries[key{model: strings.ToLower(e.Model), provider: strings.ToLower(e.Provider)}] = e
	}
	return t
}

// Snapshot загружает таблицу цен для одного run.
func Snapshot(ctx context.Context, lister Lister) (*Table, error) {
	entries, err := lister.ListPricing(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}
	return NewTable(entries), nil
}

// GetModelPricing ищет цену по (model, provider), затем по модели без провайдера.
func (t *Table) GetModelPricing(_ context.Context, model, provider string) (domain.ModelPricing, error) {
	m := strings.ToLower(model)
	if p, ok := t.entries[key{model: m, provider: strings.ToLower(provider)}]; ok {
		return p, nil
	}
	if p, ok := t.entries[key{model: m}]; ok {
		return p, nil
	}
	return domain.ModelPricing{}, ErrNotFound
}

// Len возвращает количество записей.
func (t *Table) Len() int {
	return len(t.entries)
}

// Source — откуда взята стоимость шага.
type Source string

const (
	SourceTable    Source = "pricing_table"
	SourceProvider Source = "provider_reported"
	SourceFallback Source = "flat_fallback"
)

// Calculator считает стоимость шага.
//
// Порядок: таблица цен → стоимость от провайдера (если > 0) → плоская ставка.
type Calculator struct {
	lookup        Lookup
	fallbackPer1K float64
}

// NewCalculator создаёт Calculator. fallbackPer1K <= 0 заменяется на DefaultFallbackPer1K.
func NewCalculator(lookup Lookup, fallbackPer1K float64) *Calculator {
	if fallbackPer1K <= 0 {
		fallbackPer1K = DefaultFallbackPer1K
	}
	return &Calculator{lookup: lookup, fallbackPer1K: fallbackPer1K}
}

// Cost возвращает стоимость вызова и её источник.
// Ошибка поиска цены, отличная от ErrNotFound, тоже ведёт к fallback.
func (c *Calculator) Cost(ctx context.Context, model, provider string, inputTokens, outputTokens int, reported float64) (float64, Source) {
	if c.lookup != nil {
		if p, err := c.lookup.GetModelPricing(ctx, model, provider); err == nil {
			return p.Cost(inputTokens, outputTokens), SourceTable
		}
	}
	if reported > 0 {
		return reported, SourceProvider
	}
	return float64(inputTokens+outputTokens) / 1000 * c.fallbackPer1K, SourceFallback
}
