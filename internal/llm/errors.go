package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Kind — класс ошибки провайдера.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate_limit"
	KindModelNotFound Kind = "model_not_found"
	KindContentPolicy Kind = "content_policy"
	KindTimeout       Kind = "timeout"
	KindProvider      Kind = "provider"
)

// ErrEmptyResponse — провайдер вернул ответ без choices.
var ErrEmptyResponse = errors.New("empty choices in LLM response")

// Error — классифицированная ошибка вызова модели.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	msg := "llm " + string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap возвращает базовую ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind проверяет класс ошибки в цепочке err.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// classifyStatus определяет класс ошибки по HTTP статусу и тексту ответа.
func classifyStatus(status int, message string) Kind {
	lower := strings.ToLower(message)
	policy := strings.Contains(lower, "moderation") ||
		strings.Contains(lower, "flagged") ||
		strings.Contains(lower, "content policy") ||
		strings.Contains(lower, "content_filter")

	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case policy:
		return KindContentPolicy
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusPaymentRequired:
		return KindAuth
	case status == http.StatusNotFound:
		return KindModelNotFound
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindProvider
	}
}

// classifyTransport оборачивает ошибку транспорта.
func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindProvider, Err: err}
}
