package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
)

// ToolRunner — реализация Executor: загружает tool, вызывает исполнитель
// его типа и применяет извлечение.
type ToolRunner struct {
	store    Store
	registry *Registry
}

// NewToolRunner создаёт ToolRunner.
func NewToolRunner(store Store, registry *Registry) *ToolRunner {
	return &ToolRunner{store: store, registry: registry}
}

// Execute вызывает tool ref.ToolID от имени организации orgID.
func (r *ToolRunner) Execute(ctx context.Context, orgID uuid.UUID, ref domain.ToolReference) (string, error) {
	tool, err := r.store.GetTool(ctx, ref.ToolID)
	if err != nil {
		return "", fmt.Errorf("load tool %s: %w", ref.ToolID, err)
	}
	if tool.OrganizationID != orgID {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, ref.ToolID)
	}
	if !tool.IsActive {
		return "", fmt.Errorf("%w: %s", ErrToolInactive, tool.Name)
	}

	runner, err := r.registry.Get(tool.Kind)
	if err != nil {
		return "", err
	}

	raw, err := runner.Run(ctx, tool, ref.ExtractionConfig.Params)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	return Extract(raw, ref.ExtractionMethod, ref.ExtractionConfig)
}
