package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Analytica/internal/telemetry"
)

// Handler обрабатывает сообщение. Ошибка ведёт к nack.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Consumer потребляет сообщения из очереди.
//
// Ack выполняется после успешного Handler. Ошибка Handler возвращает
// сообщение в очередь один раз; повторная ошибка отправляет его в DLQ
// очереди (если она настроена).
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch — сколько сообщений брокер отдаёт без ack. По умолчанию 1.
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
	}
}

// Start блокирует до отмены ctx или Stop, переживая переподключения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started")
			err = c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNotConnected
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.handle(ctx, raw)
		}
	}
}

// handle обрабатывает доставку в span, продолжающем trace отправителя.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	ctx, span := telemetry.Tracer().Start(extractTrace(ctx, raw.Headers), "mq.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", c.queue),
			attribute.String("messaging.message.id", raw.MessageId),
		),
	)
	defer span.End()

	outcome := c.dispatch(ctx, raw)
	span.SetAttributes(attribute.String("messaging.outcome", outcome))
	telemetry.MQDeliveries.WithLabelValues(c.queue, outcome).Inc()
}

func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) string {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message, dead-lettering", "error", err)
		_ = raw.Nack(false, false)
		return "dead_letter"
	}

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err == nil {
		_ = raw.Ack(false)
		return "ack"
	}

	// Одна повторная доставка; вторая ошибка уводит сообщение в DLQ.
	requeue := !raw.Redelivered
	c.logger.Error("handler failed",
		"message_id", msg.ID,
		"type", msg.Type,
		"requeue", requeue,
		"error", err,
	)
	_ = raw.Nack(false, requeue)
	if requeue {
		return "requeue"
	}
	return "dead_letter"
}

// ParsePayload декодирует payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
