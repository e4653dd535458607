package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя инструментации для всех span движка.
const TracerName = "github.com/shaiso/Analytica"

// TracingConfig — конфигурация трассировки.
type TracingConfig struct {
	ServiceName string

	// Exporter — "stdout" или "none".
	Exporter string

	// SampleRatio — доля сэмплируемых trace (0..1).
	SampleRatio float64
}

// SetupTracing настраивает глобальный TracerProvider.
// Возвращает функцию shutdown, которую нужно вызвать при остановке сервиса.
func SetupTracing(cfg TracingConfig, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	// Контекст trace передаётся между сервисами через заголовки AMQP
	// даже без экспортёра: span могут записываться на другой стороне.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "none":
		return noop, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return noop, fmt.Errorf("create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return noop, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	if cfg.SampleRatio <= 0 {
		cfg.SampleRatio = 1
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized", "exporter", cfg.Exporter, "sample_ratio", cfg.SampleRatio)

	return tp.Shutdown, nil
}

// Tracer возвращает tracer движка из глобального провайдера.
// Без SetupTracing это no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
