package executor

import (
	"errors"
	"fmt"

	"github.com/shaiso/Analytica/internal/domain"
)

// StepError — классифицированная ошибка шага.
type StepError struct {
	Kind domain.ErrorKind
	Step string
	Err  error
}

// Error реализует интерфейс error.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s failure: %v", e.Step, e.Kind, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *StepError) Unwrap() error {
	return e.Err
}

// KindOf возвращает класс ошибки шага.
// Ошибки без классификации считаются инфраструктурными.
func KindOf(err error) domain.ErrorKind {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}
	return domain.ErrorKindInfrastructure
}

// IsFatal сообщает, должен ли run прерваться со статусом FAILED.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == domain.ErrorKindInfrastructure
}
