// Package mq — транспорт событий runs через RabbitMQ.
//
// run.queued (API, scheduler → orchestrator) будит orchestrator раньше
// очередного опроса БД; run.finished (orchestrator → внешние получатели)
// несёт статус, стоимость и выходы шагов с publish_to_telegram.
//
// Сообщение, дважды не обработанное consumer'ом, уходит в dlq.runs.
// Контекст трассировки передаётся в заголовках AMQP.
package mq
