package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/shaiso/Analytica/internal/domain"
)

// ParseLevel понимает имена уровней slog в любом регистре
// ("debug", "WARN", "error+2"). Всё прочее — INFO.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger пишет в w: format "text" для локальной отладки, иначе JSON.
// На DEBUG к записям добавляется источник.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupLogger создаёт логгер сервиса в stdout и делает его логгером по умолчанию.
func SetupLogger(level, format string) *slog.Logger {
	logger := NewLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

type loggerKey struct{}

// WithLogger кладёт логгер запроса или run в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext возвращает логгер из контекста или slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ForRun привязывает записи к run.
func ForRun(logger *slog.Logger, runID uuid.UUID) *slog.Logger {
	return logger.With(slog.String("run_id", runID.String()))
}

// ForStep привязывает записи к шагу run. order нужен, чтобы различать
// в логах шаги, идущие параллельно.
func ForStep(logger *slog.Logger, run *domain.Run, step *domain.StepSpec) *slog.Logger {
	return logger.With(
		slog.String("run_id", run.ID.String()),
		slog.String("instrument", run.Instrument),
		slog.Group("step", slog.String("name", step.StepName), slog.Int("order", step.Order)),
	)
}
