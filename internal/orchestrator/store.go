package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/executor"
	"github.com/shaiso/Analytica/internal/mq"
)

// RunStore — хранилище runs. Реализуется repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error)

	// MarkRunning переводит run из QUEUED в RUNNING.
	// Возвращает repo.ErrInvalidState, если run уже не QUEUED.
	MarkRunning(ctx context.Context, run *domain.Run) error

	// Finish записывает финальный статус, стоимость, ошибку и finished_at.
	Finish(ctx context.Context, run *domain.Run) error
}

// StepStore — хранилище записей шагов. Реализуется repo.StepRepo.
type StepStore interface {
	executor.StepStore
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.StepRecord, error)
}

// VersionStore возвращает версии pipeline. Реализуется repo.PipelineRepo.
type VersionStore interface {
	GetVersion(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineVersion, error)
}

// PricingStore возвращает таблицу цен. Реализуется repo.PricingRepo.
type PricingStore interface {
	ListPricing(ctx context.Context) ([]domain.ModelPricing, error)
}

// StepExecutor выполняет один шаг. Реализуется executor.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*domain.StepRecord, error)
}

// EventPublisher публикует события runs. Реализуется mq.Publisher.
type EventPublisher interface {
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}
