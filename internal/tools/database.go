package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Analytica/internal/domain"
)

const defaultMaxRows = 100

// TxBeginner открывает транзакцию. Реализуется *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// DatabaseRunner — tool типа database.
//
// Выполняет SQL запрос tool в read-only транзакции и возвращает строки
// как JSON массив объектов. Параметры ссылки передаются как $1..$n
// в порядке сортировки ключей.
type DatabaseRunner struct {
	db TxBeginner
}

// NewDatabaseRunner создаёт DatabaseRunner.
func NewDatabaseRunner(db TxBeginner) *DatabaseRunner {
	return &DatabaseRunner{db: db}
}

// Kind возвращает тип tool.
func (r *DatabaseRunner) Kind() domain.ToolKind {
	return domain.ToolKindDatabase
}

// Run выполняет запрос.
func (r *DatabaseRunner) Run(ctx context.Context, tool *domain.Tool, params map[string]string) (string, error) {
	if tool.Config.Query == "" {
		return "", fmt.Errorf("%w: database: query is required", ErrInvalidConfig)
	}

	maxRows := tool.Config.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return "", fmt.Errorf("begin read-only tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, tool.Config.Query, QueryArgs(params)...)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	result := make([]map[string]any, 0)
	for rows.Next() {
		if len(result) == maxRows {
			break
		}
		row, err := pgx.RowToMap(rows)
		if err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate rows: %w", err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	return string(out), nil
}

// QueryArgs возвращает значения параметров в порядке сортировки ключей.
func QueryArgs(params map[string]string) []any {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, params[k])
	}
	return args
}
