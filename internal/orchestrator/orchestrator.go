package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval      = 10 * time.Second
	defaultBatchSize         = 100
	defaultMaxConcurrentRuns = 4
)

// Orchestrator принимает QUEUED runs и выполняет их через Runner.
//
// Orchestrator:
//   - Получает новые runs из очереди runs.queued (event-driven)
//   - Периодически проверяет QUEUED runs в БД (polling fallback)
//   - Ограничивает число одновременно выполняемых runs
//   - При старте закрывает runs, оставшиеся в RUNNING после падения процесса
type Orchestrator struct {
	runs   RunStore
	steps  StepStore
	runner *Runner

	conn *mq.Connection

	// activeRuns — runs, выполняемые этим процессом.
	activeRuns map[uuid.UUID]struct{}
	mu         sync.Mutex

	sem         *semaphore.Weighted
	maxParallel int64

	consumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Runs   RunStore
	Steps  StepStore
	Runner *Runner

	// Conn — соединение с RabbitMQ. nil — только polling.
	Conn *mq.Connection

	PollInterval      time.Duration // интервал polling (default: 10s)
	BatchSize         int           // runs за один poll (default: 100)
	MaxConcurrentRuns int           // одновременно выполняемые runs (default: 4)

	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		runs:         cfg.Runs,
		steps:        cfg.Steps,
		runner:       cfg.Runner,
		conn:         cfg.Conn,
		activeRuns:   make(map[uuid.UUID]struct{}),
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		maxParallel:  int64(cfg.MaxConcurrentRuns),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		logger:       cfg.Logger,
	}
}

// Start запускает Orchestrator.
//
// Сначала закрывает runs, брошенные в RUNNING, затем запускает
// consumer runs.queued (если есть соединение) и polling.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"max_concurrent_runs", o.maxParallel,
	)

	if err := o.recoverInterrupted(ctx); err != nil {
		cancel()
		return err
	}

	if o.conn != nil {
		o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsQueued),
			Handler:  o.handleRunQueued,
			Prefetch: int(o.maxParallel),
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("run consumer error", "error", err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает приём runs и ждёт завершения выполняемых.
// Выполняемые runs не прерываются.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем runs, созданные пока процесс был выключен
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll запускает QUEUED runs из БД.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runs.ListByStatus(ctx, domain.RunStatusQueued, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list queued runs", "error", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found queued runs", "count", len(runs))

	for i := range runs {
		if err := o.dispatch(ctx, runs[i].ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if !errors.Is(err, ErrRunAlreadyActive) {
				o.logger.Error("failed to dispatch run from poll", "run_id", runs[i].ID, "error", err)
			}
		}
	}
}

// dispatch ждёт свободный слот и запускает run в отдельной горутине.
func (o *Orchestrator) dispatch(ctx context.Context, runID uuid.UUID) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}
	if !o.addActiveRun(runID) {
		return ErrRunAlreadyActive
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.removeActiveRun(runID)
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.sem.Release(1)
		defer o.removeActiveRun(runID)

		// Начатый run доводится до конца и при остановке процесса
		if err := o.processRun(context.WithoutCancel(ctx), runID); err != nil {
			if errors.Is(err, ErrRunNotQueued) || errors.Is(err, ErrRunNotFound) {
				o.logger.Debug("run not processed", "run_id", runID, "reason", err)
				return
			}
			o.logger.Error("failed to process run", "run_id", runID, "error", err)
		}
	}()

	return nil
}

// Wait блокирует до завершения всех запущенных runs.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// addActiveRun регистрирует run. false — run уже выполняется.
func (o *Orchestrator) addActiveRun(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[runID]; exists {
		return false
	}
	o.activeRuns[runID] = struct{}{}
	return true
}

func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество выполняемых runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.activeRuns)
}
