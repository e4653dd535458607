package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/mq"
	"github.com/shaiso/Analytica/internal/repo"
	"github.com/shaiso/Analytica/internal/telemetry"
)

// recoverBatchSize — сколько брошенных runs закрывается за один проход.
const recoverBatchSize = 500

// handleRunQueued обрабатывает событие run.queued.
func (o *Orchestrator) handleRunQueued(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunQueuedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.queued payload", "error", err)
		return err
	}

	o.logger.Debug("received run.queued event", "run_id", payload.RunID)

	if err := o.dispatch(ctx, payload.RunID); err != nil {
		// Уже выполняется или процесс останавливается: poll подхватит позже
		if errors.Is(err, ErrRunAlreadyActive) || errors.Is(err, ErrOrchestratorStopped) || errors.Is(err, context.Canceled) {
			o.logger.Debug("run not dispatched", "run_id", payload.RunID, "reason", err)
			return nil
		}
		return err
	}

	return nil
}

// processRun загружает run и выполняет его.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusQueued {
		return ErrRunNotQueued
	}

	ctx = telemetry.WithLogger(ctx, telemetry.ForRun(o.logger, runID))
	return o.runner.Execute(ctx, run)
}

// recoverInterrupted закрывает runs, оставшиеся в RUNNING после падения процесса.
//
// Такой run не продолжается: он получает FAILED, стоимость по уже
// сохранённым записям шагов и finished_at.
func (o *Orchestrator) recoverInterrupted(ctx context.Context) error {
	runs, err := o.runs.ListByStatus(ctx, domain.RunStatusRunning, recoverBatchSize)
	if err != nil {
		return fmt.Errorf("list interrupted runs: %w", err)
	}

	for i := range runs {
		run := &runs[i]

		steps, err := o.steps.ListByRunID(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("list steps of run %s: %w", run.ID, err)
		}

		var cost float64
		for _, s := range steps {
			cost += s.CostEst
		}

		if err := run.MarkFailed(cost, errRestarted); err != nil {
			return err
		}
		if err := o.runs.Finish(ctx, run); err != nil {
			return fmt.Errorf("finish interrupted run %s: %w", run.ID, err)
		}

		telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
		o.logger.Warn("interrupted run marked failed",
			"run_id", run.ID,
			"steps_recorded", len(steps),
			"cost_est_total", cost,
		)
	}

	return nil
}
