package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotQueued — run не в статусе QUEUED (уже взят или завершён).
	ErrRunNotQueued = errors.New("run is not in QUEUED status")

	// ErrRunAlreadyActive — run уже выполняется этим процессом.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrVersionNotFound — версия pipeline не найдена.
	ErrVersionNotFound = errors.New("pipeline version not found")

	// ErrInvalidConfig — конфигурация версии не прошла валидацию.
	ErrInvalidConfig = errors.New("invalid pipeline config")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

// errRestarted — сообщение для runs, найденных в RUNNING при старте.
const errRestarted = "orchestrator restarted"
