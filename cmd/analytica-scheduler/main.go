// Analytica Scheduler — создаёт runs по расписанию.
//
// Одновременно работает только один экземпляр: лидер держит
// advisory lock PostgreSQL, остальные пропускают тики.
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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Analytica/internal/config"
	"github.com/shaiso/Analytica/internal/mq"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/scheduler"
	"github.com/shaiso/Analytica/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format).With("service", "analytica-scheduler")
	logger.Info("starting analytica-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	schedCfg := scheduler.Config{
		Schedules: repo.NewScheduleRepo(pool),
		Runs:      repo.NewRunRepo(pool),
		Pipelines: repo.NewPipelineRepo(pool),
		Logger:    logger,
		BatchSize: cfg.Scheduler.BatchSize,
	}

	checks := map[string]telemetry.Check{"db": pool.Ping}

	if cfg.MQ.URL != "" {
		conn, err := mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
		} else {
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			schedCfg.Publisher = mq.NewPublisher(conn, logger)
			checks["amqp"] = conn.Ping
		}
	}

	sched := scheduler.New(schedCfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Scheduler.MetricsPort),
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

	loop(ctx, pool, sched, cfg.Scheduler.TickInterval, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("analytica-scheduler stopped")
}

// loop выполняет тики, пока процесс держит лидерство.
//
// Advisory lock привязан к сессии, поэтому для него берётся отдельное
// соединение из пула и держится до выхода.
func loop(ctx context.Context, pool *pgxpool.Pool, sched *scheduler.Scheduler, every time.Duration, logger *slog.Logger) {
	lockConn, err := pool.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire lock connection", "error", err)
		return
	}
	defer lockConn.Release()

	var hasLock bool
	defer func() {
		if hasLock {
			_, _ = lockConn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
		}
	}()

	tk := time.NewTicker(every)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			if !hasLock {
				if err := lockConn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&hasLock); err != nil {
					logger.Warn("leader lock failed", "error", err)
					continue
				}
				if !hasLock {
					continue
				}
				logger.Info("acquired scheduler leadership")
			}

			if err := sched.Tick(ctx); err != nil {
				logger.Error("scheduler tick failed", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
