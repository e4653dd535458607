package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд: таблицей или JSON (--json).
// Результаты идут в w, сообщения о ходе работы в errW, чтобы
// stdout оставался пригодным для jq.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит rows под headers либо jsonData целиком.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	switch {
	case o.jsonMode:
		o.JSON(jsonData)
	case len(rows) == 0:
		fmt.Fprintln(o.errW, "No results")
	default:
		o.Table(headers, rows)
	}
}

// Table выравнивает колонки; каждая ячейка сводится к одной строке
// не длиннее maxCellRunes.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	writeRow := func(cells []string) { fmt.Fprintln(tw, strings.Join(cells, "\t")) }

	writeRow(headers)
	rule := make([]string, len(headers))
	for i, h := range headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	writeRow(rule)

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cell(c)
		}
		writeRow(cells)
	}
}

// Section печатает длинный текст (выход шага) под заголовком.
// В режиме JSON ничего не делает: текст уже есть в JSON.
func (o *Output) Section(title, body string) {
	if o.jsonMode || strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(o.w, "\n=== %s ===\n%s\n", title, strings.TrimSpace(body))
}

func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Success сообщает о выполненном действии в errW.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

const maxCellRunes = 60

func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxCellRunes {
		return string(r[:maxCellRunes-3]) + "..."
	}
	return s
}
