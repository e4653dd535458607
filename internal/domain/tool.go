package domain

import (
	"time"

	"github.com/google/uuid"
)

// ToolKind — тип пользовательского tool.
type ToolKind string

const (
	// ToolKindAPI — HTTP запрос к внешнему API.
	ToolKindAPI ToolKind = "api"

	// ToolKindDatabase — read-only SQL запрос.
	ToolKindDatabase ToolKind = "database"

	// ToolKindRAG — поиск по документам. Выполнение не поддерживается движком.
	ToolKindRAG ToolKind = "rag"
)

// Tool — настроенный пользователем внешний источник данных.
type Tool struct {
	// ID — уникальный идентификатор tool.
	ID uuid.UUID `json:"id"`

	// OrganizationID — организация-владелец.
	OrganizationID uuid.UUID `json:"organization_id"`

	// Name — имя tool.
	Name string `json:"name"`

	// Kind — api, database или rag.
	Kind ToolKind `json:"kind"`

	// Config — параметры вызова (JSONB поле config).
	Config ToolConfig `json:"config"`

	// IsActive — неактивные tools не вызываются.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// ToolConfig — параметры вызова tool.
type ToolConfig struct {
	// URL — адрес для api.
	URL string `json:"url,omitempty"`

	// Method — HTTP метод для api. По умолчанию GET.
	Method string `json:"method,omitempty"`

	// Headers — HTTP заголовки для api.
	Headers map[string]string `json:"headers,omitempty"`

	// Query — SQL запрос для database. Параметры передаются как $1..$n
	// в порядке ключей ExtractionConfig.Params.
	Query string `json:"query,omitempty"`

	// MaxRows — лимит строк результата для database.
	MaxRows int `json:"max_rows,omitempty"`
}
