package tools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
)

// Ошибки tools.
var (
	// ErrToolNotFound — tool не найден или принадлежит другой организации.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolInactive — tool выключен.
	ErrToolInactive = errors.New("tool is inactive")

	// ErrToolKindUnsupported — для типа tool нет исполнителя.
	ErrToolKindUnsupported = errors.New("tool kind not supported")

	// ErrInvalidConfig — невалидная конфигурация tool.
	ErrInvalidConfig = errors.New("invalid tool config")

	// ErrExtraction — не удалось извлечь значение из результата.
	ErrExtraction = errors.New("extraction failed")
)

// Runner — исполнитель одного типа tool (api, database).
type Runner interface {
	// Kind возвращает тип tool.
	Kind() domain.ToolKind

	// Run вызывает tool и возвращает сырой результат.
	// Runner должен уважать ctx.Done().
	Run(ctx context.Context, tool *domain.Tool, params map[string]string) (string, error)
}

// Store читает настройки tools. Реализуется repo.ToolRepo.
type Store interface {
	GetTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error)
}

// Executor вызывает пользовательский tool и применяет извлечение.
type Executor interface {
	Execute(ctx context.Context, orgID uuid.UUID, ref domain.ToolReference) (string, error)
}

// DefaultTimeout — таймаут одного источника данных.
const DefaultTimeout = 20 * time.Second
