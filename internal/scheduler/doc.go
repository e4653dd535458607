// Package scheduler создаёт runs по расписанию.
//
// Каждый тик берёт schedules с истекшим next_due_at и ставит в очередь
// последнюю валидную версию pipeline для (instrument, timeframe) schedule.
// Ключ идемпотентности "{schedule_id}_{next_due_at}" не даёт одному
// срабатыванию породить два run, даже если тик повторился после сбоя.
//
// Структура:
//   - scheduler.go — Tick и обработка одного schedule
//   - cron.go      — cron-выражения и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Runs:      runRepo,
//	    Pipelines: pipelineRepo,
//	    Publisher: publisher,  // опционально
//	    Logger:    logger,
//	})
//
//	if err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
package scheduler
