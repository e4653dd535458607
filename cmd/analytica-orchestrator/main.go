// Analytica Orchestrator — выполняет runs.
//
// Orchestrator:
//   - Получает новые runs из RabbitMQ и через polling
//   - Выполняет шаги pipeline по order: данные, prompt, вызов модели
//   - Считает стоимость и финализирует runs
//   - Публикует run.finished для доставки результатов
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Analytica/internal/config"
	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/executor"
	"github.com/shaiso/Analytica/internal/llm"
	"github.com/shaiso/Analytica/internal/marketdata"
	"github.com/shaiso/Analytica/internal/mq"
	"github.com/shaiso/Analytica/internal/orchestrator"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/telemetry"
	"github.com/shaiso/Analytica/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format).With("service", "analytica-orchestrator")
	logger.Info("starting analytica-orchestrator")

	if cfg.LLM.APIKey == "" {
		logger.Warn("ANALYTICA_LLM_API_KEY is empty, model calls will fail with auth errors")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(telemetry.TracingConfig{
		ServiceName: "analytica-orchestrator",
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	pool, err := repo.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	runRepo := repo.NewRunRepo(pool)
	stepRepo := repo.NewStepRepo(pool)

	// Внешние данные шагов
	httpClient := &http.Client{Timeout: cfg.Engine.ToolTimeout}

	registry := tools.NewRegistry()
	registry.Register(tools.NewAPIRunner(httpClient))
	registry.Register(tools.NewDatabaseRunner(pool))

	fetcher := tools.NewFetcher(tools.FetcherConfig{
		Market: marketdata.NewHTTPProvider(marketdata.HTTPConfig{
			BaseURL:           cfg.MarketData.BaseURL,
			RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
			HTTPClient:        httpClient,
			Logger:            logger,
		}),
		Tools:       tools.NewToolRunner(repo.NewToolRepo(pool), registry),
		Timeout:     cfg.Engine.ToolTimeout,
		MaxParallel: cfg.Engine.FetchParallelism,
		Logger:      logger,
	})

	// Вызовы моделей: таймаут задаётся контекстом шага.
	model := llm.NewOpenRouterClient(llm.OpenRouterConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		HTTPClient:        &http.Client{},
		Logger:            logger,
	})

	stepExecutor := executor.New(executor.Config{
		Fetcher: fetcher,
		Resolver: engine.NewResolver(engine.ResolverConfig{
			SummaryCharBudget: cfg.Engine.SummaryCharBudget,
			Logger:            logger,
		}),
		LLM:           model,
		Steps:         stepRepo,
		StepTimeout:   cfg.Engine.StepTimeout,
		FallbackPer1K: cfg.Engine.FallbackPer1K,
		Logger:        logger,
	})

	runnerCfg := orchestrator.RunnerConfig{
		Runs:          runRepo,
		Versions:      repo.NewPipelineRepo(pool),
		Pricing:       repo.NewPricingRepo(pool),
		Executor:      stepExecutor,
		FallbackPer1K: cfg.Engine.FallbackPer1K,
		Logger:        logger,
	}

	// RabbitMQ опционален: без него работает только polling
	// и события run.finished не публикуются.
	var mqConn *mq.Connection
	if cfg.MQ.URL != "" {
		mqConn, err = mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			runnerCfg.Publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Runs:              runRepo,
		Steps:             stepRepo,
		Runner:            orchestrator.NewRunner(runnerCfg),
		Conn:              mqConn,
		PollInterval:      cfg.Orchestrator.PollInterval,
		BatchSize:         cfg.Orchestrator.BatchSize,
		MaxConcurrentRuns: cfg.Orchestrator.MaxConcurrentRuns,
		Logger:            logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	checks := map[string]telemetry.Check{"db": pool.Ping}
	if mqConn != nil {
		checks["amqp"] = mqConn.Ping
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Orchestrator.MetricsPort),
		Handler:           telemetry.AdminMux(checks),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// Stop дожидается runs в работе: они финализируются даже при остановке.
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("analytica-orchestrator stopped")
}
