package tools

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/shaiso/Analytica/internal/domain"
)

// Extract применяет метод извлечения к сырому результату tool.
//
// Методы:
//   - raw       — результат как есть
//   - json_path — значение по пути "data.items.0.price"
//   - regex     — первое совпадение или именованная группа
//   - truncate  — первые max_chars символов
func Extract(raw, method string, cfg domain.ExtractionConfig) (string, error) {
	switch method {
	case "", domain.ExtractionRaw:
		return raw, nil
	case domain.ExtractionJSONPath:
		return extractJSONPath(raw, cfg.Path)
	case domain.ExtractionRegex:
		return extractRegex(raw, cfg.Pattern, cfg.Group)
	case domain.ExtractionTruncate:
		if cfg.MaxChars <= 0 {
			return "", fmt.Errorf("%w: truncate requires max_chars", ErrExtraction)
		}
		runes := []rune(raw)
		if len(runes) <= cfg.MaxChars {
			return raw, nil
		}
		return string(runes[:cfg.MaxChars]), nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrExtraction, method)
	}
}

// extractJSONPath возвращает значение по пути в синтаксисе gjson.
// Строки отдаются без кавычек, остальные значения как исходный JSON-текст,
// поэтому большие целые не теряют точность.
func extractJSONPath(raw, path string) (string, error) {
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("%w: result is not JSON", ErrExtraction)
	}
	if path == "" {
		return strings.TrimSpace(raw), nil
	}

	res := gjson.Get(raw, path)
	if !res.Exists() {
		return "", fmt.Errorf("%w: path %q not found", ErrExtraction, path)
	}
	if res.Type == gjson.String {
		return res.String(), nil
	}
	return res.Raw, nil
}

func extractRegex(raw, pattern, group string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	m := re.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: pattern %q did not match", ErrExtraction, pattern)
	}
	if group == "" {
		return m[0], nil
	}

	idx := re.SubexpIndex(group)
	if idx < 0 {
		return "", fmt.Errorf("%w: no group %q", ErrExtraction, group)
	}
	return m[idx], nil
}
