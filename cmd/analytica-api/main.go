// Analytica API — HTTP API для pipelines, runs и schedules.
//
// API проверяет конфигурации pipelines, ставит runs в очередь
// (QUEUED + событие run.queued) и отдаёт результаты шагов.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Analytica/internal/api"
	"github.com/shaiso/Analytica/internal/config"
	"github.com/shaiso/Analytica/internal/mq"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format).With("service", "analytica-api")
	logger.Info("starting analytica-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(telemetry.TracingConfig{
		ServiceName: "analytica-api",
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
	logger.Info("connected to database")

	handlerCfg := api.Config{
		Pipelines: repo.NewPipelineRepo(pool),
		Runs:      repo.NewRunRepo(pool),
		Steps:     repo.NewStepRepo(pool),
		Schedules: repo.NewScheduleRepo(pool),
		Logger:    logger,

		RateLimitRPS:   cfg.API.RateLimitRPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
	}

	// Без RabbitMQ runs всё равно создаются, orchestrator найдёт их через polling.
	if cfg.MQ.URL != "" {
		conn, err := mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			handlerCfg.Publisher = mq.NewPublisher(conn, logger)
		}
	}

	mux := http.NewServeMux()
	api.NewHandler(handlerCfg).RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      mux,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("analytica-api stopped")
}
