package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Analytica/internal/engine"
	"github.com/shaiso/Analytica/internal/repo"
)

// ErrorCode — машиночитаемый код ошибки в теле ответа.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Тела ответов:
//
//	{"data": ...}
//	{"data": [...], "total": N}
//	{"error": {"code": ..., "message": ..., "step": ..., "field": ...}}
type (
	DataResponse struct {
		Data any `json:"data"`
	}

	ListResponse struct {
		Data  any `json:"data"`
		Total int `json:"total,omitempty"`
	}

	ErrorResponse struct {
		Error ErrorDetail `json:"error"`
	}

	// ErrorDetail; Step и Field есть только у ошибок валидации конфигурации.
	ErrorDetail struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		Step    string    `json:"step,omitempty"`
		Field   string    `json:"field,omitempty"`
	}
)

// JSON пишет тело с заданным статусом.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func Success(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, DataResponse{Data: data}) }
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, DataResponse{Data: data}) }
func NoContent(w http.ResponseWriter)         { w.WriteHeader(http.StatusNoContent) }

// List отдаёт коллекцию вместе с её размером.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет ошибку без привязки к шагу.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InvalidConfig отвечает 422 и, если ошибку вернул engine.Validate,
// указывает шаг и поле, на которых проверка остановилась.
func InvalidConfig(w http.ResponseWriter, err error) {
	detail := ErrorDetail{Code: ErrCodeInvalidConfig, Message: err.Error()}

	var vErr *engine.ValidationError
	if errors.As(err, &vErr) {
		detail.Step, detail.Field = vErr.StepName, vErr.Field
	}
	JSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: detail})
}

// InternalError логирует причину и отдаёт клиенту обезличенный 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleRepoError отвечает клиенту по ошибке repo и возвращает true,
// если ответ уже записан. notFoundMsg пустой — берётся текст ошибки.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = err.Error()
		}
		NotFound(w, notFoundMsg)
	case errors.Is(err, repo.ErrAlreadyExists):
		Conflict(w, err.Error())
	case errors.Is(err, repo.ErrInvalidState):
		InvalidState(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
