package orchestrator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shaiso/Analytica/internal/domain"
	"github.com/shaiso/Analytica/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// Создаётся, когда Runner начинает run, и живёт до финализации.
// Шаги одного run выполняет одна горутина; мьютекс нужен только
// для Stats, который читают снаружи.
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	// Graph — граф зависимостей шагов.
	Graph *engine.Graph

	// outputs — выходы успешных шагов (step_name → текст).
	outputs map[string]string

	// failed — упавшие шаги (step_name → сообщение).
	failed map[string]string

	// skipped — пропущенные шаги (step_name → шаг, из-за которого пропущен).
	skipped map[string]string

	// records — записи шагов в порядке выполнения.
	records []*domain.StepRecord

	// costTotal — сумма cost_est сохранённых записей.
	costTotal float64

	// abortErr — инфраструктурная ошибка, прервавшая run.
	abortErr error

	mu sync.RWMutex
}

// NewRunState создаёт RunState.
func NewRunState(run *domain.Run, graph *engine.Graph) *RunState {
	return &RunState{
		Run:     run,
		Graph:   graph,
		outputs: make(map[string]string),
		failed:  make(map[string]string),
		skipped: make(map[string]string),
	}
}

// Record учитывает сохранённую запись шага.
func (s *RunState) Record(rec *domain.StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	s.costTotal += rec.CostEst

	if rec.Status == domain.StepStatusSucceeded {
		s.outputs[rec.StepName] = rec.OutputBlob
		return
	}
	s.failed[rec.StepName] = fmt.Sprintf("%s: %s", rec.ErrorKind, rec.Error)
}

// Skip помечает шаг пропущенным из-за недоступного blocker.
func (s *RunState) Skip(stepName, blocker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[stepName] = blocker
}

// Abort фиксирует инфраструктурную ошибку. Учитывается только первая.
func (s *RunState) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortErr == nil {
		s.abortErr = err
	}
}

// Outputs возвращает копию выходов успешных шагов.
func (s *RunState) Outputs() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// Unavailable возвращает шаги без выхода: упавшие и пропущенные.
func (s *RunState) Unavailable() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]bool, len(s.failed)+len(s.skipped))
	for name := range s.failed {
		result[name] = true
	}
	for name := range s.skipped {
		result[name] = true
	}
	return result
}

// CostTotal возвращает сумму стоимости сохранённых записей.
func (s *RunState) CostTotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.costTotal
}

// Records возвращает записи шагов в порядке выполнения.
func (s *RunState) Records() []*domain.StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.StepRecord(nil), s.records...)
}

// Outcome возвращает финальный статус и сводку ошибок.
//
//   - FAILED — run прерван инфраструктурной ошибкой
//   - MODEL_FAILURE — хотя бы один шаг упал
//   - SUCCEEDED — все шаги выполнены
func (s *RunState) Outcome() (domain.RunStatus, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var parts []string
	for _, node := range s.Graph.Order {
		name := node.Name()
		if msg, ok := s.failed[name]; ok {
			part := fmt.Sprintf("step %s failed (%s)", name, msg)
			if blocked := s.blockedBy(name); len(blocked) > 0 {
				part += ", blocked " + strings.Join(blocked, ", ")
			}
			parts = append(parts, part)
		}
		if blocker, ok := s.skipped[name]; ok {
			parts = append(parts, fmt.Sprintf("step %s skipped: depends on %s", name, blocker))
		}
	}

	switch {
	case s.abortErr != nil:
		parts = append([]string{s.abortErr.Error()}, parts...)
		return domain.RunStatusFailed, strings.Join(parts, "; ")
	case len(s.failed) > 0:
		return domain.RunStatusModelFailure, strings.Join(parts, "; ")
	default:
		return domain.RunStatusSucceeded, ""
	}
}

// blockedBy возвращает пропущенные шаги, транзитивно зависящие от name.
// Вызывается под s.mu.
func (s *RunState) blockedBy(name string) []string {
	var result []string
	for _, dep := range s.Graph.Downstream(name) {
		if _, ok := s.skipped[dep]; ok {
			result = append(result, dep)
		}
	}
	return result
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.Graph.Size()
	succeeded := len(s.outputs)
	return RunStats{
		TotalSteps:     total,
		SucceededSteps: succeeded,
		FailedSteps:    len(s.failed),
		SkippedSteps:   len(s.skipped),
		PendingSteps:   total - succeeded - len(s.failed) - len(s.skipped),
	}
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalSteps     int
	SucceededSteps int
	FailedSteps    int
	SkippedSteps   int
	PendingSteps   int
}
