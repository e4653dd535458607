package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Analytica/internal/domain"
)

// Registry — реестр исполнителей tools по типу.
// Потокобезопасен.
type Registry struct {
	mu      sync.RWMutex
	runners map[domain.ToolKind]Runner
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[domain.ToolKind]Runner),
	}
}

// Register регистрирует исполнитель.
// Если исполнитель такого типа уже есть, он будет перезаписан.
func (r *Registry) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[runner.Kind()] = runner
}

// Get возвращает исполнитель по типу.
// Возвращает ErrToolKindUnsupported, если исполнителя нет (например, rag).
func (r *Registry) Get(kind domain.ToolKind) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, exists := r.runners[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrToolKindUnsupported, kind)
	}

	return runner, nil
}

// Kinds возвращает зарегистрированные типы.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.runners))
	for k := range r.runners {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}
