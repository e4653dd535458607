package engine

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Analytica/internal/domain"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validator проверяет PipelineConfig до создания run.
//
// Проверки:
// - Наличие шагов
// - Правила полей (теги validate)
// - Уникальность имён шагов
// - Order уникальны и образуют 1..n
// - Ссылки шаблона и include_context только на более ранние шаги
// - Уникальность переменных шага
type Validator struct {
	v *validator.Validate
}

// NewValidator создаёт Validator с зарегистрированными правилами.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("stepname", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})

	// В сообщениях используем имена из json тегов
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{v: v}
}

var defaultValidator = NewValidator()

// Validate выполняет полную валидацию PipelineConfig валидатором по умолчанию.
func Validate(cfg *domain.PipelineConfig) error {
	return defaultValidator.Validate(cfg)
}

// Validate выполняет полную валидацию PipelineConfig.
// Все ошибки имеют тип *ValidationError.
func (val *Validator) Validate(cfg *domain.PipelineConfig) error {
	if cfg == nil || len(cfg.Steps) == 0 {
		return NewValidationError("", "steps", "pipeline config has no steps", ErrEmptySteps)
	}

	for i := range cfg.Steps {
		if err := val.validateFields(&cfg.Steps[i]); err != nil {
			return err
		}
	}

	byName, err := indexSteps(cfg.Steps)
	if err != nil {
		return err
	}

	if err := validateOrders(cfg.Steps); err != nil {
		return err
	}

	for i := range cfg.Steps {
		step := &cfg.Steps[i]

		if err := validateReferences(step, byName); err != nil {
			return err
		}
		if err := validateVariables(step); err != nil {
			return err
		}
	}

	return nil
}

// validateFields проверяет правила тегов validate одного шага.
func (val *Validator) validateFields(step *domain.StepSpec) error {
	err := val.v.Struct(step)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return NewValidationError(step.StepName, "", err.Error(), ErrInvalidField)
	}

	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "StepSpec.")
	return NewValidationError(step.StepName, field, formatFieldError(field, fe), ErrInvalidField)
}

func formatFieldError(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "stepname":
		return fmt.Sprintf("%s must match %s", field, identPattern.String())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// indexSteps проверяет уникальность имён и строит индекс name → step.
func indexSteps(steps []domain.StepSpec) (map[string]*domain.StepSpec, error) {
	byName := make(map[string]*domain.StepSpec, len(steps))
	for i := range steps {
		step := &steps[i]
		if _, ok := byName[step.StepName]; ok {
			return nil, NewValidationError(step.StepName, "step_name",
				fmt.Sprintf("duplicate step name: %s", step.StepName), ErrDuplicateStepName)
		}
		byName[step.StepName] = step
	}
	return byName, nil
}

// validateOrders проверяет, что order уникальны и образуют 1..n.
func validateOrders(steps []domain.StepSpec) error {
	seen := make(map[int]string, len(steps))
	orders := make([]int, 0, len(steps))

	for i := range steps {
		step := &steps[i]
		if other, ok := seen[step.Order]; ok {
			return NewValidationError(step.StepName, "order",
				fmt.Sprintf("order %d already used by step %s", step.Order, other), ErrDuplicateOrder)
		}
		seen[step.Order] = step.StepName
		orders = append(orders, step.Order)
	}

	sort.Ints(orders)
	for i, o := range orders {
		if o != i+1 {
			return NewValidationError(seen[o], "order",
				fmt.Sprintf("expected order %d, got %d", i+1, o), ErrOrderGap)
		}
	}

	return nil
}

// validateReferences проверяет ссылки шага на выходы других шагов.
func validateReferences(step *domain.StepSpec, byName map[string]*domain.StepSpec) error {
	check := func(field, ref string) error {
		if ref == step.StepName {
			return NewValidationError(step.StepName, field,
				"step references its own output", ErrSelfReference)
		}
		target, ok := byName[ref]
		if !ok {
			return NewValidationError(step.StepName, field,
				fmt.Sprintf("references unknown step: %s", ref), ErrUnknownStepReference)
		}
		if target.Order >= step.Order {
			return NewValidationError(step.StepName, field,
				fmt.Sprintf("references step %s with order %d >= %d", ref, target.Order, step.Order),
				ErrForwardReference)
		}
		return nil
	}

	for _, ref := range ParseTemplate(step.UserPromptTemplate).StepReferences() {
		if err := check("user_prompt_template", ref); err != nil {
			return err
		}
	}

	if step.IncludeContext != nil {
		for _, ref := range step.IncludeContext.Steps {
			if err := check("include_context.steps", ref); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateVariables проверяет имена переменных data_sources и tool_references.
func validateVariables(step *domain.StepSpec) error {
	seen := make(map[string]bool)

	check := func(field, name string) error {
		if name == VarInstrument || name == VarTimeframe || strings.HasSuffix(name, domain.OutputSuffix) {
			return NewValidationError(step.StepName, field,
				fmt.Sprintf("variable name %s is reserved", name), ErrReservedVariable)
		}
		if seen[name] {
			return NewValidationError(step.StepName, field,
				fmt.Sprintf("duplicate variable: %s", name), ErrDuplicateVariable)
		}
		seen[name] = true
		return nil
	}

	for _, ds := range step.DataSources {
		if err := check("data_sources.name", ds.Name); err != nil {
			return err
		}
	}

	for _, ref := range step.ToolReferences {
		if err := check("tool_references.variable_name", ref.VariableName); err != nil {
			return err
		}
		if err := validateExtraction(step.StepName, &ref); err != nil {
			return err
		}
	}

	return nil
}

// validateExtraction проверяет согласованность метода и параметров извлечения.
func validateExtraction(stepName string, ref *domain.ToolReference) error {
	cfg := ref.ExtractionConfig
	field := "tool_references.extraction_config"

	switch ref.ExtractionMethod {
	case "", domain.ExtractionRaw:
		return nil

	case domain.ExtractionJSONPath:
		if cfg.Path == "" {
			return NewValidationError(stepName, field, "json_path requires path", ErrInvalidExtraction)
		}

	case domain.ExtractionRegex:
		re, err := regexp.Compile(cfg.Pattern)
		if cfg.Pattern == "" || err != nil {
			return NewValidationError(stepName, field,
				fmt.Sprintf("regex requires a valid pattern: %q", cfg.Pattern), ErrInvalidExtraction)
		}
		if cfg.Group != "" && re.SubexpIndex(cfg.Group) < 0 {
			return NewValidationError(stepName, field,
				fmt.Sprintf("regex has no group %q", cfg.Group), ErrInvalidExtraction)
		}

	case domain.ExtractionTruncate:
		if cfg.MaxChars <= 0 {
			return NewValidationError(stepName, field, "truncate requires max_chars > 0", ErrInvalidExtraction)
		}
	}

	return nil
}
