package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/telemetry"
)

// ScheduleStore — хранилище schedules. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
}

// RunStore — создание runs. Реализуется repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error)
}

// PipelineStore — pipelines и их версии. Реализуется repo.PipelineRepo.
type PipelineStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetLatestVersion(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineVersion, error)
}

// RunPublisher уведомляет orchestrator о новом run. Реализуется mq.Publisher.
type RunPublisher interface {
	PublishRunQueued(ctx context.Context, runID uuid.UUID) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules ScheduleStore
	runs      RunStore
	pipelines PipelineStore
	publisher RunPublisher
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleStore
	Runs      RunStore
	Pipelines PipelineStore
	Publisher RunPublisher // nil — orchestrator найдёт run через polling
	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		runs:      cfg.Runs,
		pipelines: cfg.Pipelines,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт QUEUED run
// 3. Обновляет next_due_at
// 4. Публикует run.queued в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает одно срабатывание schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	logger := s.logger.With("schedule_id", sched.ID, "pipeline_id", sched.PipelineID)

	if !sched.IsDue(now) {
		// schedule выключили или перенесли между ListDue и обработкой
		logger.Debug("schedule no longer due, skipping")
		return false, nil
	}

	runID, runCreated, err := s.ensureRun(ctx, sched, now, logger)
	if err != nil {
		return false, err
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// next_due_at не трогаем: schedule останется due до исправления
		logger.Error("failed to calculate next due", "error", err)
		return runCreated, nil
	}

	sched.Advance(nextDue, runID, now)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	if s.publisher != nil && runCreated {
		if err := s.publisher.PublishRunQueued(ctx, runID); err != nil {
			// run уже в БД, orchestrator заберёт его через polling
			logger.Warn("failed to publish run.queued", "run_id", runID, "error", err)
		}
	}

	return runCreated, nil
}

// ensureRun создаёт run для текущего срабатывания schedule.
//
// Возвращает uuid.Nil, если run создавать не нужно: pipeline выключен,
// не имеет версий или последняя версия не проходит валидацию.
func (s *Scheduler) ensureRun(ctx context.Context, sched *domain.Schedule, now time.Time, logger *slog.Logger) (uuid.UUID, bool, error) {
	pipeline, err := s.pipelines.GetByID(ctx, sched.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("pipeline not found for schedule, skipping")
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("get pipeline: %w", err)
	}
	if !pipeline.IsActive {
		logger.Debug("pipeline inactive, skipping")
		return uuid.Nil, false, nil
	}

	version, err := s.pipelines.GetLatestVersion(ctx, sched.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("pipeline has no versions, skipping")
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("get latest pipeline version: %w", err)
	}
	if err := engine.Validate(&version.Config); err != nil {
		logger.Warn("latest pipeline version is invalid, skipping", "version", version.Version, "error", err)
		return uuid.Nil, false, nil
	}

	run := sched.NewRun(version.Version, now)

	existing, err := s.runs.GetByIdempotencyKey(ctx, sched.PipelineID, run.IdempotencyKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return uuid.Nil, false, fmt.Errorf("check idempotency: %w", err)
	}
	if existing != nil {
		logger.Debug("run already exists (idempotency)", "run_id", existing.ID, "idempotency_key", run.IdempotencyKey)
		return existing.ID, false, nil
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return uuid.Nil, false, fmt.Errorf("create run: %w", err)
	}

	telemetry.ScheduledRuns.Inc()
	logger.Info("created run from schedule",
		"run_id", run.ID,
		"schedule_name", sched.Name,
		"version", version.Version,
		"instrument", run.Instrument,
		"timeframe", run.Timeframe,
	)

	return run.ID, true, nil
}
