package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/repo"
)

// PipelineStore — pipelines и версии. Реализуется repo.PipelineRepo.
type PipelineStore interface {
	Create(ctx context.Context, p *domain.Pipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	List(ctx context.Context, orgID *uuid.UUID) ([]domain.Pipeline, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	CreateVersion(ctx context.Context, v *domain.PipelineVersion) error
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
	GetLatestVersion(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineVersion, error)
	ListVersions(ctx context.Context, pipelineID uuid.UUID) ([]domain.PipelineVersion, error)
}

// RunStore — runs. Реализуется repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// StepStore — записи шагов. Реализуется repo.StepRepo.
type StepStore interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.StepRecord, error)
}

// ScheduleStore — schedules. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// RunPublisher уведомляет orchestrator о новом run. Реализуется mq.Publisher.
type RunPublisher interface {
	PublishRunQueued(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelines PipelineStore
	runs      RunStore
	steps     StepStore
	schedules ScheduleStore
	publisher RunPublisher
	logger    *slog.Logger

	rateLimitRPS   float64
	rateLimitBurst int
}

// Config — конфигурация для создания Handler.
type Config struct {
	Pipelines PipelineStore
	Runs      RunStore
	Steps     StepStore
	Schedules ScheduleStore
	Publisher RunPublisher // nil — orchestrator найдёт run через polling
	Logger    *slog.Logger

	// RateLimitRPS <= 0 отключает ограничение запросов.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		pipelines: cfg.Pipelines,
		runs:      cfg.Runs,
		steps:     cfg.Steps,
		schedules: cfg.Schedules,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,

		rateLimitRPS:   cfg.RateLimitRPS,
		rateLimitBurst: cfg.RateLimitBurst,
	}
}
