package mq

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type (
	Exchange   string
	Queue      string
	RoutingKey string
)

const (
	ExchangeRuns Exchange = "analytica.runs"
	ExchangeDLQ  Exchange = "analytica.dlq"
)

const (
	QueueRunsQueued   Queue = "runs.queued"
	QueueRunsFinished Queue = "runs.finished"
	QueueDLQRuns      Queue = "dlq.runs"
)

const (
	RoutingKeyQueued   RoutingKey = "queued"
	RoutingKeyFinished RoutingKey = "finished"
	RoutingKeyDLQRuns  RoutingKey = "runs"
)

// finishedTTL — сколько ждёт непрочитанное run.finished. Результаты
// всегда можно перечитать через API, поэтому очередь не копит их вечно.
const finishedTTL = 24 * time.Hour

// queueSpec — очередь вместе с её привязкой.
type queueSpec struct {
	queue    Queue
	exchange Exchange
	key      RoutingKey
	args     amqp.Table
	consumer string
}

var topology = []queueSpec{
	{
		queue: QueueRunsQueued, exchange: ExchangeRuns, key: RoutingKeyQueued,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		},
		consumer: "orchestrator",
	},
	{
		queue: QueueRunsFinished, exchange: ExchangeRuns, key: RoutingKeyFinished,
		args:     amqp.Table{"x-message-ttl": finishedTTL.Milliseconds()},
		consumer: "result publishers",
	},
	{
		queue: QueueDLQRuns, exchange: ExchangeDLQ, key: RoutingKeyDLQRuns,
		consumer: "manual inspection",
	},
}

// SetupTopology объявляет durable direct exchanges, очереди и привязки.
// Повторный вызов с теми же аргументами ничего не меняет.
func SetupTopology(ctx context.Context, conn *Connection) error {
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRuns, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range topology {
			if _, err := ch.QueueDeclare(string(q.queue), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.queue, err)
			}
			if err := ch.QueueBind(string(q.queue), string(q.key), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.queue, q.exchange, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	conn.logger.Debug("amqp topology declared", "layout", TopologyInfo())
	return nil
}

// TopologyInfo описывает топологию одной строкой на очередь:
// "analytica.runs --queued--> runs.queued (orchestrator)".
func TopologyInfo() string {
	lines := make([]string, len(topology))
	for i, q := range topology {
		lines[i] = fmt.Sprintf("%s --%s--> %s (%s)", q.exchange, q.key, q.queue, q.consumer)
	}
	return strings.Join(lines, "; ")
}
