package engine

import "errors"

// Ошибки валидации PipelineConfig.
var (
	// ErrEmptySteps — pipeline не содержит шагов.
	ErrEmptySteps = errors.New("pipeline config has no steps")

	// ErrInvalidField — поле не прошло проверку структуры.
	ErrInvalidField = errors.New("invalid field value")

	// ErrDuplicateStepName — несколько шагов с одинаковым именем.
	ErrDuplicateStepName = errors.New("duplicate step name")

	// ErrDuplicateOrder — несколько шагов с одинаковым order.
	ErrDuplicateOrder = errors.New("duplicate step order")

	// ErrOrderGap — order не образуют последовательность 1..n.
	ErrOrderGap = errors.New("step orders are not contiguous")

	// ErrUnknownStepReference — ссылка на несуществующий шаг.
	ErrUnknownStepReference = errors.New("reference to unknown step")

	// ErrSelfReference — шаг ссылается на собственный выход.
	ErrSelfReference = errors.New("step references its own output")

	// ErrForwardReference — шаг ссылается на шаг с большим или равным order.
	ErrForwardReference = errors.New("step references a later step")

	// ErrDuplicateVariable — две переменные шага с одинаковым именем.
	ErrDuplicateVariable = errors.New("duplicate template variable")

	// ErrReservedVariable — переменная совпадает со встроенной
	// или оканчивается на _output.
	ErrReservedVariable = errors.New("variable name is reserved")

	// ErrInvalidExtraction — параметры метода извлечения не подходят к методу.
	ErrInvalidExtraction = errors.New("invalid extraction config")
)

// ValidationError — ошибка валидации с контекстом.
//
// Возвращается до создания run, run с невалидной конфигурацией не создаётся.
type ValidationError struct {
	StepName string // имя шага, где произошла ошибка
	Field    string // поле, вызвавшее ошибку
	Message  string // описание ошибки
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepName != "" {
		return "step " + e.StepName + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepName, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepName: stepName,
		Field:    field,
		Message:  message,
		Err:      err,
	}
}
