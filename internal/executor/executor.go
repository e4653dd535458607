package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/llm"
	"github.com/shaiso/Analytica/internal/pricing"
	"github.com/shaiso/Analytica/internal/telemetry"
	"github.com/shaiso/Analytica/internal/tools"
)

// Default configuration values.
const (
	DefaultStepTimeout = 120 * time.Second
	persistTimeout     = 10 * time.Second
)

// StepStore сохраняет записи шагов. Реализуется repo.StepRepo.
type StepStore interface {
	CreateStep(ctx context.Context, step *domain.StepRecord) error
}

// DataFetcher загружает внешние данные шага. Реализуется tools.Fetcher.
type DataFetcher interface {
	Fetch(ctx context.Context, req tools.FetchRequest) (*tools.FetchResult, error)
}

// Config — конфигурация Executor.
type Config struct {
	Fetcher  DataFetcher
	Resolver *engine.Resolver
	LLM      llm.Client
	Steps    StepStore

	// StepTimeout — бюджет вызова модели, если в шаге не задан timeout_sec.
	StepTimeout time.Duration

	// FallbackPer1K — плоская ставка, когда цена модели неизвестна.
	FallbackPer1K float64

	Logger *slog.Logger
}

// Executor выполняет один шаг run.
type Executor struct {
	fetcher     DataFetcher
	resolver    *engine.Resolver
	llm         llm.Client
	steps       StepStore
	stepTimeout time.Duration
	fallback    *pricing.Calculator
	logger      *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = engine.NewResolver(engine.ResolverConfig{Logger: cfg.Logger})
	}
	return &Executor{
		fetcher:     cfg.Fetcher,
		resolver:    cfg.Resolver,
		llm:         cfg.LLM,
		steps:       cfg.Steps,
		stepTimeout: cfg.StepTimeout,
		fallback:    pricing.NewCalculator(nil, cfg.FallbackPer1K),
		logger:      cfg.Logger,
	}
}

// Request — один шаг для выполнения.
type Request struct {
	Run  *domain.Run
	Step *domain.StepSpec

	// Outputs — выходы уже выполненных шагов run (step_name → текст).
	Outputs map[string]string

	// Pricing — калькулятор на снимке таблицы цен run.
	// nil — только плоская ставка.
	Pricing *pricing.Calculator
}

// Execute выполняет шаг и сохраняет его запись.
//
// Возвращает запись шага в любом случае, когда она была сформирована.
// Ошибка всегда *StepError.
func (e *Executor) Execute(ctx context.Context, req Request) (*domain.StepRecord, error) {
	step := req.Step
	logger := telemetry.ForStep(e.logger, req.Run, step)

	ctx, span := telemetry.Tracer().Start(ctx, "step.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", req.Run.ID.String()),
		attribute.String("step.name", step.StepName),
		attribute.Int("step.order", step.Order),
		attribute.String("llm.model", step.Model),
	)

	rec := domain.NewStepRecord(req.Run.ID, step)

	// 1. Внешние данные
	vars := engine.RunVariables(req.Run)
	if e.fetcher != nil && (len(step.DataSources) > 0 || len(step.ToolReferences) > 0) {
		fetched, err := e.fetcher.Fetch(ctx, tools.FetchRequest{
			OrganizationID: req.Run.OrganizationID,
			Instrument:     req.Run.Instrument,
			Timeframe:      req.Run.Timeframe,
			Step:           step,
		})
		if err != nil {
			return e.fail(ctx, rec, domain.ErrorKindTool, err, logger)
		}
		for k, v := range fetched.Vars {
			vars[k] = v
		}
		for _, note := range fetched.Annotations {
			rec.Annotate(note)
		}
	}

	// 2. Prompt
	prompt := e.resolver.Resolve(step, req.Outputs, vars)
	rec.InputBlob = prompt.Text
	for _, w := range prompt.Warnings {
		rec.Annotate(w)
	}

	// 3. Вызов модели
	timeout := e.stepTimeout
	if step.TimeoutSec > 0 {
		timeout = time.Duration(step.TimeoutSec) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := e.llm.Complete(callCtx, llm.Request{
		Model:        step.Model,
		SystemPrompt: step.SystemPrompt,
		UserPrompt:   prompt.Text,
		Temperature:  step.Temperature,
		MaxTokens:    step.MaxTokens,
	})
	deadline := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return e.fail(ctx, rec, domain.ErrorKindInfrastructure, fmt.Errorf("run interrupted: %w", err), logger)
		}
		if deadline || llm.IsKind(err, llm.KindTimeout) {
			return e.fail(ctx, rec, domain.ErrorKindTimeout, fmt.Errorf("model call exceeded %s: %w", timeout, err), logger)
		}
		return e.fail(ctx, rec, domain.ErrorKindModel, err, logger)
	}
	if resp.Provider != "" {
		rec.Provider = resp.Provider
	}

	// 4. Стоимость
	calc := req.Pricing
	if calc == nil {
		calc = e.fallback
	}
	cost, source := calc.Cost(ctx, step.Model, rec.Provider, resp.InputTokens, resp.OutputTokens, resp.CostEst)
	rec.MarkSucceeded(resp.Content, resp.InputTokens, resp.OutputTokens, cost)

	telemetry.Tokens.WithLabelValues(step.Model, "input").Add(float64(resp.InputTokens))
	telemetry.Tokens.WithLabelValues(step.Model, "output").Add(float64(resp.OutputTokens))
	telemetry.CostUSD.WithLabelValues(step.Model, string(source)).Add(cost)

	// 5. Запись
	if err := e.persist(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist step")
		return rec, &StepError{Kind: domain.ErrorKindInfrastructure, Step: step.StepName, Err: err}
	}

	telemetry.StepDuration.WithLabelValues(step.Model, string(rec.Status)).Observe(rec.Duration().Seconds())
	span.SetAttributes(
		attribute.Int("llm.input_tokens", rec.InputTokens),
		attribute.Int("llm.output_tokens", rec.OutputTokens),
		attribute.Float64("llm.cost_usd", rec.CostEst),
	)

	logger.Info("step succeeded",
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"cost_est", rec.CostEst,
		"cost_source", source,
		"duration", rec.Duration(),
	)

	return rec, nil
}

// fail фиксирует ошибку шага, сохраняет запись и возвращает *StepError.
func (e *Executor) fail(ctx context.Context, rec *domain.StepRecord, kind domain.ErrorKind, cause error, logger *slog.Logger) (*domain.StepRecord, error) {
	rec.MarkFailed(kind, cause.Error())

	telemetry.StepErrors.WithLabelValues(string(kind)).Inc()
	telemetry.StepDuration.WithLabelValues(rec.Model, string(rec.Status)).Observe(rec.Duration().Seconds())

	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(kind))

	logger.Warn("step failed", "kind", kind, "error", cause)

	if err := e.persist(ctx, rec); err != nil {
		return rec, &StepError{
			Kind: domain.ErrorKindInfrastructure,
			Step: rec.StepName,
			Err:  errors.Join(cause, err),
		}
	}

	return rec, &StepError{Kind: kind, Step: rec.StepName, Err: cause}
}

// persist сохраняет запись шага. Запись сохраняется и после отмены ctx.
func (e *Executor) persist(ctx context.Context, rec *domain.StepRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.steps.CreateStep(ctx, rec); err != nil {
		return fmt.Errorf("create step record: %w", err)
	}
	return nil
}
