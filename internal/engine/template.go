package engine

import (
	"strings"

	"github.com/shaiso/Analytica/internal/domain"
)

// Встроенные переменные шаблона, доступные каждому шагу.
const (
	VarInstrument = "instrument"
	VarTimeframe  = "timeframe"
)

// TokenKind — тип токена шаблона.
type TokenKind int

const (
	// TokenText — литеральный текст.
	TokenText TokenKind = iota

	// TokenStepOutput — ссылка на выход шага: {wyckoff_output}.
	TokenStepOutput

	// TokenVariable — переменная run, data source или tool: {instrument}, {market_data}.
	TokenVariable
)

// Token — элемент разобранного шаблона.
type Token struct {
	Kind TokenKind

	// Text — литерал для TokenText.
	Text string

	// Name — имя шага для TokenStepOutput или имя переменной для TokenVariable.
	Name string
}

// Template — разобранный user_prompt_template.
//
// Синтаксис:
//
//	{name}          — переменная
//	{step_output}   — выход шага step
//	{{name}}        — литерал "{name}"
//
// Любые другие фигурные скобки (например, JSON в prompt) остаются текстом.
type Template struct {
	Tokens []Token
}

// ParseTemplate разбирает шаблон. Разбор не падает: всё, что не является
// токеном, остаётся литеральным текстом.
func ParseTemplate(src string) *Template {
	t := &Template{}
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			t.Tokens = append(t.Tokens, Token{Kind: TokenText, Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(src); {
		if src[i] != '{' {
			text.WriteByte(src[i])
			i++
			continue
		}

		// {{name}} — экранированный токен
		if strings.HasPrefix(src[i:], "{{") {
			if name, n := scanIdent(src[i+2:]); n > 0 && strings.HasPrefix(src[i+2+n:], "}}") {
				text.WriteString("{" + name + "}")
				i += 2 + n + 2
				continue
			}
			text.WriteByte('{')
			i++
			continue
		}

		name, n := scanIdent(src[i+1:])
		if n == 0 || !strings.HasPrefix(src[i+1+n:], "}") {
			text.WriteByte('{')
			i++
			continue
		}

		flush()
		if step, ok := strings.CutSuffix(name, domain.OutputSuffix); ok && step != "" {
			t.Tokens = append(t.Tokens, Token{Kind: TokenStepOutput, Name: step})
		} else {
			t.Tokens = append(t.Tokens, Token{Kind: TokenVariable, Name: name})
		}
		i += 1 + n + 1
	}
	flush()

	return t
}

// scanIdent читает идентификатор [A-Za-z_][A-Za-z0-9_]* с начала строки.
func scanIdent(s string) (string, int) {
	n := 0
	for n < len(s) {
		c := s[n]
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !(isDigit && n > 0) {
			break
		}
		n++
	}
	return s[:n], n
}

// StepReferences возвращает имена шагов, на выходы которых ссылается шаблон,
// в порядке первого появления.
func (t *Template) StepReferences() []string {
	return t.names(TokenStepOutput)
}

// Variables возвращает имена переменных шаблона в порядке первого появления.
func (t *Template) Variables() []string {
	return t.names(TokenVariable)
}

func (t *Template) names(kind TokenKind) []string {
	seen := make(map[string]bool)
	var result []string
	for _, n := range t.Tokens {
		if n.Kind == kind && !seen[n.Name] {
			seen[n.Name] = true
			result = append(result, n.Name)
		}
	}
	return result
}

// RenderResult — результат подстановки.
type RenderResult struct {
	// Text — итоговый текст.
	Text string

	// MissingSteps — шаги, на которые есть ссылка, но нет выхода.
	// Подставлена пустая строка.
	MissingSteps []string

	// UnresolvedVars — переменные без значения. Оставлены как {name}.
	UnresolvedVars []string
}

// Render подставляет выходы шагов и переменные.
//
// Функция чистая: одинаковые аргументы дают одинаковый результат.
func (t *Template) Render(outputs, vars map[string]string) RenderResult {
	var (
		b   strings.Builder
		res RenderResult
	)

	for _, n := range t.Tokens {
		switch n.Kind {
		case TokenText:
			b.WriteString(n.Text)

		case TokenStepOutput:
			out, ok := outputs[n.Name]
			if !ok {
				res.MissingSteps = appendUnique(res.MissingSteps, n.Name)
			}
			b.WriteString(out)

		case TokenVariable:
			val, ok := vars[n.Name]
			if !ok {
				res.UnresolvedVars = appendUnique(res.UnresolvedVars, n.Name)
				b.WriteString("{" + n.Name + "}")
				continue
			}
			b.WriteString(val)
		}
	}

	res.Text = b.String()
	return res
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
