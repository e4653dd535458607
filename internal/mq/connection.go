package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected — канал недоступен (соединение разорвано и ещё не восстановлено).
var ErrNotConnected = errors.New("amqp channel not available")

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Connection — AMQP соединение с одним каналом и автоматическим переподключением.
//
// Потребители узнают о переподключении через ReconnectNotify и
// заново вызывают Consume на новом канале.
type Connection struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	closedCh    chan struct{}
	reconnectCh chan struct{}
}

// NewConnection подключается к RabbitMQ.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		logger:      logger,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	go c.watch()

	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ")
	return nil
}

// watch ждёт разрыва соединения и переподключается.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn, closed := c.conn, c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("amqp connection lost", "error", err)
			}
			c.mu.Lock()
			c.channel = nil
			c.mu.Unlock()

			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect переподключается с экспоненциальной задержкой.
// Возвращает false, если соединение закрыли во время ожидания.
func (c *Connection) reconnect() bool {
	delay := initialReconnectDelay

	for {
		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err, "next_attempt_in", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
		return true
	}
}

// Channel возвращает текущий канал или nil.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигналит после каждого успешного переподключения.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.Channel()
	if ch == nil {
		return ErrNotConnected
	}
	return fn(ch)
}

// Ping возвращает ErrNotConnected, пока соединение разорвано.
// Подходит как проверка готовности сервиса.
func (c *Connection) Ping(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.conn.IsClosed() || c.channel == nil {
		return ErrNotConnected
	}
	return nil
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("amqp connection closed")
	return errors.Join(errs...)
}
