package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunQueued   MessageType = "run.queued"
	MessageTypeRunFinished MessageType = "run.finished"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunQueuedPayload — payload события о новом run.
type RunQueuedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// PublishedOutput — выход шага с publish_to_telegram.
type PublishedOutput struct {
	StepName string `json:"step_name"`
	Output   string `json:"output"`
}

// RunFinishedPayload — payload события о завершении run.
type RunFinishedPayload struct {
	RunID          uuid.UUID         `json:"run_id"`
	PipelineID     uuid.UUID         `json:"pipeline_id"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	Instrument     string            `json:"instrument"`
	Timeframe      string            `json:"timeframe"`
	Status         string            `json:"status"`
	CostEstTotal   float64           `json:"cost_est_total"`
	Error          string            `json:"error,omitempty"`
	Outputs        []PublishedOutput `json:"outputs,omitempty"`
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				Headers:      injectTrace(ctx),
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunQueued публикует событие о run, ожидающем выполнения.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunQueued(ctx context.Context, runID uuid.UUID) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyQueued, newMessage(MessageTypeRunQueued, RunQueuedPayload{RunID: runID}))
}

// PublishRunFinished публикует событие о завершении run.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, newMessage(MessageTypeRunFinished, payload))
}

func newMessage(t MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
