package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultProvider — провайдер модели, если в шаге не указан.
const DefaultProvider = "openrouter"

// Pipeline — именованный pipeline анализа.
//
// Один pipeline может иметь множество версий (PipelineVersion).
// Каждый run выполняет конкретную версию.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// OrganizationID — организация-владелец.
	OrganizationID uuid.UUID `json:"organization_id"`

	// Name — имя pipeline (например, "wyckoff-smc-daily").
	Name string `json:"name"`

	// IsActive — неактивные pipelines не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineVersion — неизменяемая версия конфигурации pipeline.
type PipelineVersion struct {
	// PipelineID — ссылка на pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Config — список шагов (JSONB поле config).
	Config PipelineConfig `json:"config"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// PipelineConfig — упорядоченный список шагов.
type PipelineConfig struct {
	// Description — описание назначения pipeline.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Steps — шаги в порядке Order.
	Steps []StepSpec `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// StepByName возвращает шаг по имени или nil.
func (c *PipelineConfig) StepByName(name string) *StepSpec {
	for i := range c.Steps {
		if c.Steps[i].StepName == name {
			return &c.Steps[i]
		}
	}
	return nil
}

// StepSpec — определение одного LLM-шага.
type StepSpec struct {
	// StepName — уникальный в pipeline идентификатор ("wyckoff", "merge").
	StepName string `json:"step_name" yaml:"step_name" validate:"required,stepname,max=64"`

	// Order — позиция выполнения, начиная с 1.
	Order int `json:"order" yaml:"order" validate:"min=1"`

	// Model — идентификатор модели, например "openai/gpt-4o-mini".
	Model string `json:"model" yaml:"model" validate:"required"`

	// Provider — провайдер модели. По умолчанию DefaultProvider.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// SystemPrompt — системный prompt.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// UserPromptTemplate — шаблон user prompt с токенами {wyckoff_output}, {instrument}.
	UserPromptTemplate string `json:"user_prompt_template" yaml:"user_prompt_template" validate:"required"`

	// Temperature — температура сэмплирования.
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`

	// MaxTokens — лимит токенов ответа. 0 — значение провайдера.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`

	// DataSources — внешние данные, нужные шагу.
	DataSources []DataSource `json:"data_sources,omitempty" yaml:"data_sources,omitempty" validate:"dive"`

	// IncludeContext — какие выходы предыдущих шагов вставить в prompt.
	IncludeContext *IncludeContext `json:"include_context,omitempty" yaml:"include_context,omitempty"`

	// ToolReferences — привязка результатов tools к переменным шаблона.
	ToolReferences []ToolReference `json:"tool_references,omitempty" yaml:"tool_references,omitempty" validate:"dive"`

	// PublishToTelegram — флаг для публикации результата шага.
	// Движок только передаёт его в событии run.finished.
	PublishToTelegram bool `json:"publish_to_telegram,omitempty" yaml:"publish_to_telegram,omitempty"`

	// TimeoutSec — бюджет вызова LLM для шага. 0 — значение по умолчанию.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty" validate:"gte=0,lte=3600"`
}

// ProviderOrDefault возвращает провайдера шага.
func (s *StepSpec) ProviderOrDefault() string {
	if s.Provider == "" {
		return DefaultProvider
	}
	return s.Provider
}

// OutputVariable возвращает имя токена, под которым выход шага доступен
// в шаблонах следующих шагов.
func (s *StepSpec) OutputVariable() string {
	return s.StepName + OutputSuffix
}

// OutputSuffix — суффикс токена ссылки на выход шага.
const OutputSuffix = "_output"

// Placement — куда вставлять блоки контекста.
type Placement string

const (
	PlacementBefore Placement = "before"
	PlacementAfter  Placement = "after"
)

// ContextFormat — как вставлять выход шага.
type ContextFormat string

const (
	// ContextFormatSummary — выход обрезается до бюджета символов.
	ContextFormatSummary ContextFormat = "summary"

	// ContextFormatFull — выход вставляется целиком.
	ContextFormatFull ContextFormat = "full"
)

// IncludeContext — директива вставки выходов предыдущих шагов.
type IncludeContext struct {
	// Steps — имена шагов, выходы которых вставляются.
	Steps []string `json:"steps" yaml:"steps" validate:"required,min=1,dive,required"`

	// Placement — before или after. По умолчанию before.
	Placement Placement `json:"placement,omitempty" yaml:"placement,omitempty" validate:"omitempty,oneof=before after"`

	// Format — summary или full. По умолчанию summary.
	Format ContextFormat `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=summary full"`
}

// PlacementOrDefault возвращает placement с учётом значения по умолчанию.
func (c *IncludeContext) PlacementOrDefault() Placement {
	if c.Placement == "" {
		return PlacementBefore
	}
	return c.Placement
}

// FormatOrDefault возвращает format с учётом значения по умолчанию.
func (c *IncludeContext) FormatOrDefault() ContextFormat {
	if c.Format == "" {
		return ContextFormatSummary
	}
	return c.Format
}

// DataSourceTypeMarketData — свечи инструмента run.
const DataSourceTypeMarketData = "market_data"

// DataSource — именованное требование к рыночным данным.
type DataSource struct {
	// Name — имя переменной шаблона, например "market_data".
	Name string `json:"name" yaml:"name" validate:"required,stepname"`

	// Type — тип источника. Сейчас только market_data.
	Type string `json:"type" yaml:"type" validate:"required,oneof=market_data"`

	// NumCandles — сколько последних свечей загрузить.
	NumCandles int `json:"num_candles" yaml:"num_candles" validate:"min=1,max=5000"`

	// Timeframe — переопределяет timeframe run.
	Timeframe string `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`

	// Required — если true, ошибка загрузки валит шаг.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// Методы извлечения данных из результата tool.
const (
	ExtractionRaw      = "raw"
	ExtractionJSONPath = "json_path"
	ExtractionRegex    = "regex"
	ExtractionTruncate = "truncate"
)

// ToolReference — привязка результата tool к переменной шаблона.
type ToolReference struct {
	// ToolID — идентификатор настроенного tool.
	ToolID uuid.UUID `json:"tool_id" yaml:"tool_id" validate:"required"`

	// VariableName — имя переменной шаблона.
	VariableName string `json:"variable_name" yaml:"variable_name" validate:"required,stepname"`

	// ExtractionMethod — raw, json_path, regex или truncate. По умолчанию raw.
	ExtractionMethod string `json:"extraction_method,omitempty" yaml:"extraction_method,omitempty" validate:"omitempty,oneof=raw json_path regex truncate"`

	// ExtractionConfig — параметры метода извлечения.
	ExtractionConfig ExtractionConfig `json:"extraction_config,omitempty" yaml:"extraction_config,omitempty"`

	// Required — если true, ошибка tool валит шаг.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// ExtractionConfig — параметры извлечения из результата tool.
type ExtractionConfig struct {
	// Path — путь для json_path: "data.items.0.price".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Pattern — регулярное выражение для regex.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Group — именованная группа для regex. Пусто — всё совпадение.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// MaxChars — лимит символов для truncate.
	MaxChars int `json:"max_chars,omitempty" yaml:"max_chars,omitempty" validate:"gte=0"`

	// Params — параметры запроса, передаваемые tool (query string или SQL аргументы).
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}
