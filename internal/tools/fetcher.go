package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/marketdata"
	"github.com/shaiso/Analytica/internal/telemetry"
)

// FetchError — обязательный источник данных не загрузился.
// Шаг завершается ошибкой класса tool до вызова модели.
type FetchError struct {
	// Variable — имя переменной шаблона.
	Variable string

	// Source — "market_data" или "tool <id>".
	Source string

	Err error
}

// Error реализует интерфейс error.
func (e *FetchError) Error() string {
	return fmt.Sprintf("required %s (%s): %v", e.Source, e.Variable, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetcherConfig — конфигурация Fetcher.
type FetcherConfig struct {
	// Market — провайдер свечей для data_sources.
	Market marketdata.Provider

	// Tools — исполнитель tool_references.
	Tools Executor

	// Timeout — таймаут одного источника. По умолчанию DefaultTimeout.
	Timeout time.Duration

	// MaxParallel — сколько источников одного шага грузится одновременно.
	MaxParallel int

	Logger *slog.Logger
}

// Fetcher загружает данные шага: data_sources и tool_references.
type Fetcher struct {
	market      marketdata.Provider
	tools       Executor
	timeout     time.Duration
	maxParallel int
	logger      *slog.Logger
}

// NewFetcher создаёт Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		market:      cfg.Market,
		tools:       cfg.Tools,
		timeout:     cfg.Timeout,
		maxParallel: cfg.MaxParallel,
		logger:      cfg.Logger,
	}
}

// FetchRequest — данные run, нужные для загрузки.
type FetchRequest struct {
	OrganizationID uuid.UUID
	Instrument     string
	Timeframe      string
	Step           *domain.StepSpec
}

// FetchResult — загруженные переменные шага.
type FetchResult struct {
	// Vars — имя переменной → текст. Для упавших необязательных источников "".
	Vars map[string]string

	// Annotations — заметки об упавших необязательных источниках,
	// в порядке объявления.
	Annotations []string
}

// job — загрузка одного источника.
type job struct {
	variable string
	source   string
	required bool
	fetch    func(ctx context.Context) (string, error)
}

type outcome struct {
	value string
	err   error
}

// Fetch загружает все источники шага параллельно, каждый со своим таймаутом.
//
// Ошибка необязательного источника даёт пустую переменную и аннотацию.
// Ошибка обязательного источника возвращается как *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	jobs := f.jobs(req)
	result := &FetchResult{Vars: make(map[string]string, len(jobs))}
	if len(jobs) == 0 {
		return result, nil
	}

	outcomes := make([]outcome, len(jobs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxParallel)

	for i, j := range jobs {
		g.Go(func() error {
			jobCtx, cancel := context.WithTimeout(gCtx, f.timeout)
			defer cancel()

			jobCtx, span := telemetry.Tracer().Start(jobCtx, "tools.fetch", trace.WithAttributes(
				attribute.String("fetch.variable", j.variable),
				attribute.String("fetch.source", j.source),
				attribute.Bool("fetch.required", j.required),
			))
			defer span.End()

			value, err := j.fetch(jobCtx)
			if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("timed out after %s: %w", f.timeout, err)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "fetch failed")
			}
			outcomes[i] = outcome{value: value, err: err}

			if err != nil && j.required {
				return &FetchError{Variable: j.variable, Source: j.source, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			telemetry.ToolFetchFailures.WithLabelValues(sourceLabel(fetchErr.Source), "true").Inc()
		}
		return nil, err
	}

	for i, j := range jobs {
		o := outcomes[i]
		if o.err != nil {
			telemetry.ToolFetchFailures.WithLabelValues(sourceLabel(j.source), "false").Inc()
			note := fmt.Sprintf("%s (%s): %v", j.source, j.variable, o.err)
			result.Annotations = append(result.Annotations, note)
			result.Vars[j.variable] = ""
			f.logger.Warn("optional data source failed", "step", req.Step.StepName, "variable", j.variable, "error", o.err)
			continue
		}
		result.Vars[j.variable] = o.value
	}

	return result, nil
}

// jobs строит список загрузок в порядке объявления.
func (f *Fetcher) jobs(req FetchRequest) []job {
	step := req.Step
	jobs := make([]job, 0, len(step.DataSources)+len(step.ToolReferences))

	for _, ds := range step.DataSources {
		timeframe := ds.Timeframe
		if timeframe == "" {
			timeframe = req.Timeframe
		}
		jobs = append(jobs, job{
			variable: ds.Name,
			source:   domain.DataSourceTypeMarketData,
			required: ds.Required,
			fetch: func(ctx context.Context) (string, error) {
				if f.market == nil {
					return "", marketdata.ErrDataUnavailable
				}
				candles, err := f.market.FetchCandles(ctx, req.Instrument, timeframe, ds.NumCandles)
				if err != nil {
					return "", err
				}
				return marketdata.FormatCandles(req.Instrument, timeframe, candles), nil
			},
		})
	}

	for _, ref := range step.ToolReferences {
		jobs = append(jobs, job{
			variable: ref.VariableName,
			source:   "tool " + ref.ToolID.String(),
			required: ref.Required,
			fetch: func(ctx context.Context) (string, error) {
				if f.tools == nil {
					return "", ErrToolKindUnsupported
				}
				return f.tools.Execute(ctx, req.OrganizationID, ref)
			},
		})
	}

	return jobs
}

// sourceLabel убирает id tool из метки метрики.
func sourceLabel(source string) string {
	if source == domain.DataSourceTypeMarketData {
		return source
	}
	return "tool"
}
