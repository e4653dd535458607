package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/Analytica/internal/domain"
)

const (
	// DefaultSummaryCharBudget — лимит символов для format: summary.
	DefaultSummaryCharBudget = 1500

	// TruncationMarker добавляется к обрезанному выходу.
	TruncationMarker = "[... truncated ...]"

	contextHeader = "### Context: "
)

// ResolverConfig — конфигурация Resolver.
type ResolverConfig struct {
	// SummaryCharBudget — лимит символов на один блок summary.
	SummaryCharBudget int

	Logger *slog.Logger
}

// Resolver собирает итоговый user prompt шага.
type Resolver struct {
	summaryBudget int
	logger        *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.SummaryCharBudget <= 0 {
		cfg.SummaryCharBudget = DefaultSummaryCharBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		summaryBudget: cfg.SummaryCharBudget,
		logger:        cfg.Logger,
	}
}

// Prompt — результат сборки prompt.
type Prompt struct {
	// Text — итоговый user prompt.
	Text string

	// Warnings — предупреждения конфигурации (нет выхода шага, нет значения переменной).
	Warnings []string
}

// Resolve подставляет в шаблон шага выходы предыдущих шагов (outputs: step_name → текст)
// и переменные (vars: имя → текст), затем вставляет блоки include_context.
//
// Ссылка на шаг без выхода даёт пустую строку и предупреждение, run не прерывается.
// Шаг, уже подставленный токеном {step_output}, в include_context не повторяется.
func (r *Resolver) Resolve(step *domain.StepSpec, outputs, vars map[string]string) *Prompt {
	tmpl := ParseTemplate(step.UserPromptTemplate)
	rendered := tmpl.Render(outputs, vars)

	p := &Prompt{Text: rendered.Text}
	for _, name := range rendered.MissingSteps {
		p.Warnings = append(p.Warnings, fmt.Sprintf("step %q has no output, substituted empty text", name))
	}
	for _, name := range rendered.UnresolvedVars {
		p.Warnings = append(p.Warnings, fmt.Sprintf("variable %q has no value, left as is", name))
	}

	if ic := step.IncludeContext; ic != nil && len(ic.Steps) > 0 {
		inlined := make(map[string]bool)
		for _, name := range tmpl.StepReferences() {
			inlined[name] = true
		}

		blocks := make([]string, 0, len(ic.Steps))
		for _, name := range ic.Steps {
			if inlined[name] {
				p.Warnings = append(p.Warnings, fmt.Sprintf("context step %q is already in the template, block omitted", name))
				continue
			}
			out, ok := outputs[name]
			if !ok {
				p.Warnings = append(p.Warnings, fmt.Sprintf("context step %q has no output, substituted empty text", name))
			}
			if ic.FormatOrDefault() == domain.ContextFormatSummary {
				out = Summarize(out, r.summaryBudget)
			}
			blocks = append(blocks, contextHeader+name+"\n"+out)
		}
		ctxText := strings.Join(blocks, "\n\n")

		if ic.PlacementOrDefault() == domain.PlacementAfter {
			p.Text = joinNonEmpty(p.Text, ctxText)
		} else {
			p.Text = joinNonEmpty(ctxText, p.Text)
		}
	}

	for _, w := range p.Warnings {
		r.logger.Warn("prompt configuration warning", "step", step.StepName, "warning", w)
	}

	return p
}

// Summarize обрезает текст до budget символов и добавляет маркер.
// Текст в пределах бюджета возвращается без изменений.
func Summarize(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return strings.TrimRight(string(runes[:budget]), " \n\t") + "\n" + TruncationMarker
}

// RunVariables возвращает встроенные переменные run.
func RunVariables(run *domain.Run) map[string]string {
	return map[string]string{
		VarInstrument: run.Instrument,
		VarTimeframe:  run.Timeframe,
	}
}

func joinNonEmpty(first, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + "\n\n" + second
	}
}
