// Package orchestrator управляет выполнением runs.
//
// Orchestrator отвечает за:
//   - Получение QUEUED runs из очереди RabbitMQ и из БД (polling)
//   - Переход QUEUED → RUNNING ровно один раз
//   - Последовательное выполнение шагов по order через executor
//   - Пропуск шагов, зависящих от упавших шагов
//   - Финализацию run (SUCCEEDED/FAILED/MODEL_FAILURE) на любом пути выхода
//   - Публикацию события run.finished
//
// Runner выполняет один run, Orchestrator распределяет runs по горутинам.
package orchestrator
