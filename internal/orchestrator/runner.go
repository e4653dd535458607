package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/executor"
	"github.com/shaiso/Analytica/internal/mq"
	"github.com/shaiso/Analytica/internal/pricing"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/telemetry"
)

const finalizeTimeout = 15 * time.Second

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	Runs     RunStore
	Versions VersionStore
	Pricing  PricingStore
	Executor StepExecutor

	// Publisher — получатель run.finished. nil — события не публикуются.
	Publisher EventPublisher

	// FallbackPer1K — плоская ставка для моделей без цены.
	FallbackPer1K float64

	Logger *slog.Logger
}

// Runner выполняет один run от QUEUED до финального статуса.
//
// Шаги выполняются последовательно по order. Шаг, который ссылается
// (токеном шаблона или include_context) на упавший или пропущенный шаг,
// пропускается и не получает записи. Остальные шаги выполняются.
// Инфраструктурная ошибка прерывает run со статусом FAILED.
type Runner struct {
	runs          RunStore
	versions      VersionStore
	pricing       PricingStore
	executor      StepExecutor
	publisher     EventPublisher
	fallbackPer1K float64
	logger        *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		runs:          cfg.Runs,
		versions:      cfg.Versions,
		pricing:       cfg.Pricing,
		executor:      cfg.Executor,
		publisher:     cfg.Publisher,
		fallbackPer1K: cfg.FallbackPer1K,
		logger:        cfg.Logger,
	}
}

// Execute выполняет run.
//
// Возвращает ErrRunNotQueued, если run уже взят другим процессом.
// Ошибки шагов не возвращаются: они отражаются в статусе run.
func (r *Runner) Execute(ctx context.Context, run *domain.Run) error {
	logger := telemetry.ForRun(r.logger, run.ID)

	if run.Status != domain.RunStatusQueued {
		return fmt.Errorf("%w: %s", ErrRunNotQueued, run.Status)
	}

	// 1. Конфигурация версии
	graph, err := r.loadGraph(ctx, run)
	if err != nil {
		if errors.Is(err, ErrVersionNotFound) || errors.Is(err, ErrInvalidConfig) {
			return r.failQueued(ctx, run, err, logger)
		}
		return err
	}

	// 2. Снимок цен на весь run
	calc := r.calculator(ctx, logger)

	// 3. QUEUED → RUNNING
	if err := run.MarkRunning(); err != nil {
		return fmt.Errorf("%w: %v", ErrRunNotQueued, err)
	}
	if err := r.runs.MarkRunning(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrRunNotQueued
		}
		return fmt.Errorf("mark run running: %w", err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "run.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("pipeline.id", run.PipelineID.String()),
		attribute.Int("pipeline.version", run.Version),
		attribute.String("run.instrument", run.Instrument),
	)

	telemetry.RunsActive.Inc()
	defer telemetry.RunsActive.Dec()

	logger.Info("run started",
		"pipeline_id", run.PipelineID,
		"version", run.Version,
		"instrument", run.Instrument,
		"timeframe", run.Timeframe,
		"steps", graph.Size(),
	)

	state := NewRunState(run, graph)

	// 4. Финализация на любом пути выхода, включая панику
	defer func() {
		if p := recover(); p != nil {
			state.Abort(fmt.Errorf("panic: %v", p))
		}
		r.finalize(ctx, state, logger)

		status, _ := state.Outcome()
		if status != domain.RunStatusSucceeded {
			span.SetStatus(codes.Error, string(status))
		}
	}()

	// 5. Шаги по order
	for _, node := range graph.Order {
		name := node.Name()

		if err := ctx.Err(); err != nil {
			state.Abort(fmt.Errorf("run interrupted before step %s: %w", name, err))
			return nil
		}

		if blocker, blocked := graph.BlockedBy(name, state.Unavailable()); blocked {
			state.Skip(name, blocker)
			logger.Warn("step skipped", "step", name, "depends_on", blocker)
			continue
		}

		rec, err := r.executor.Execute(ctx, executor.Request{
			Run:     run,
			Step:    node.Step,
			Outputs: state.Outputs(),
			Pricing: calc,
		})

		if executor.IsFatal(err) {
			// Запись могла не сохраниться; в сумму идут только сохранённые
			state.Abort(err)
			return nil
		}
		if rec != nil {
			state.Record(rec)
		}
	}

	return nil
}

// loadGraph загружает версию pipeline и строит граф шагов.
func (r *Runner) loadGraph(ctx context.Context, run *domain.Run) (*engine.Graph, error) {
	version, err := r.versions.GetVersion(ctx, run.PipelineID, run.Version)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, run.PipelineID, run.Version)
		}
		return nil, fmt.Errorf("get pipeline version: %w", err)
	}

	graph, err := engine.BuildGraph(&version.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return graph, nil
}

// calculator строит калькулятор на снимке таблицы цен.
// Если таблица недоступна, стоимость считается по провайдеру и плоской ставке.
func (r *Runner) calculator(ctx context.Context, logger *slog.Logger) *pricing.Calculator {
	if r.pricing == nil {
		return pricing.NewCalculator(nil, r.fallbackPer1K)
	}
	table, err := pricing.Snapshot(ctx, r.pricing)
	if err != nil {
		logger.Warn("pricing table unavailable, using fallback", "error", err)
		return pricing.NewCalculator(nil, r.fallbackPer1K)
	}
	return pricing.NewCalculator(table, r.fallbackPer1K)
}

// failQueued завершает run, который не смог стартовать.
func (r *Runner) failQueued(ctx context.Context, run *domain.Run, cause error, logger *slog.Logger) error {
	if err := run.MarkFailed(0, cause.Error()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := r.runs.Finish(ctx, run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	logger.Warn("run failed before start", "error", cause)
	r.publish(ctx, run, nil, logger)
	return nil
}

// finalize записывает финальный статус, стоимость и finished_at.
func (r *Runner) finalize(ctx context.Context, state *RunState, logger *slog.Logger) {
	run := state.Run
	status, errMsg := state.Outcome()

	if err := run.Finish(status, state.CostTotal(), errMsg); err != nil {
		logger.Error("invalid final transition", "status", status, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := r.runs.Finish(ctx, run); err != nil {
		// Run останется RUNNING и будет закрыт при следующем старте
		logger.Error("failed to persist run result", "status", status, "error", err)
		return
	}

	telemetry.RunsFinished.WithLabelValues(string(status)).Inc()

	stats := state.Stats()
	logger.Info("run finished",
		"status", status,
		"cost_est_total", run.CostEstTotal,
		"succeeded", stats.SucceededSteps,
		"failed", stats.FailedSteps,
		"skipped", stats.SkippedSteps,
		"duration", run.Duration(),
	)

	r.publish(ctx, run, state, logger)
}

// publish отправляет run.finished с выходами шагов publish_to_telegram.
func (r *Runner) publish(ctx context.Context, run *domain.Run, state *RunState, logger *slog.Logger) {
	if r.publisher == nil {
		return
	}

	payload := mq.RunFinishedPayload{
		RunID:          run.ID,
		PipelineID:     run.PipelineID,
		OrganizationID: run.OrganizationID,
		Instrument:     run.Instrument,
		Timeframe:      run.Timeframe,
		Status:         string(run.Status),
		CostEstTotal:   run.CostEstTotal,
		Error:          run.Error,
		Outputs:        publishedOutputs(state),
	}

	if err := r.publisher.PublishRunFinished(ctx, payload); err != nil {
		logger.Warn("failed to publish run.finished", "error", err)
	}
}

// publishedOutputs возвращает успешные выходы шагов с publish_to_telegram по order.
func publishedOutputs(state *RunState) []mq.PublishedOutput {
	if state == nil {
		return nil
	}
	var out []mq.PublishedOutput
	for _, rec := range state.Records() {
		node, ok := state.Graph.Nodes[rec.StepName]
		if !ok || !node.Step.PublishToTelegram || rec.Status != domain.StepStatusSucceeded {
			continue
		}
		out = append(out, mq.PublishedOutput{StepName: rec.StepName, Output: rec.OutputBlob})
	}
	return out
}
