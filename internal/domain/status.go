package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED
//	                 ↘ MODEL_FAILURE
//
// RUNNING выставляется ровно один раз. Из финального статуса выхода нет.
type RunStatus string

const (
	// RunStatusQueued — run создан API или scheduler'ом и ждёт orchestrator.
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusRunning — run выполняется.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все шаги выполнены успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run прерван инфраструктурной ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusModelFailure — хотя бы один шаг упал на стороне модели
	// или обязательного источника данных.
	RunStatusModelFailure RunStatus = "MODEL_FAILURE"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusModelFailure:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusModelFailure:
		return true
	default:
		return false
	}
}

// StepStatus — статус записи шага.
//
// Запись шага создаётся один раз, когда исход шага известен,
// поэтому промежуточных статусов нет.
type StepStatus string

const (
	// StepStatusSucceeded — LLM вернула ответ.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — шаг завершился ошибкой.
	StepStatusFailed StepStatus = "FAILED"
)

// ErrorKind — класс ошибки шага.
type ErrorKind string

const (
	// ErrorKindModel — ошибка провайдера LLM (auth, rate limit, модель не найдена, policy).
	ErrorKindModel ErrorKind = "model"

	// ErrorKindTimeout — вызов LLM превысил бюджет шага.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindTool — не удалось получить обязательный источник данных.
	ErrorKindTool ErrorKind = "tool"

	// ErrorKindInfrastructure — ошибка БД или неожиданная ошибка рантайма.
	ErrorKindInfrastructure ErrorKind = "infrastructure"
)
