package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/internal/service"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// Consumer consumes order commands from RabbitMQ
type Consumer struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	orderService OrderService
	provider     string
	logger       *zap.Logger
	done         chan struct{}
	closeOnce    sync.Once
}

// OrderService defines the order service interface
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd service.PlaceOrderCommand) (*model.OrderEvent, error)
	CancelOrder(ctx context.Context, cmd service.CancelOrderCommand) (*wikifolio.RemoveResult, error)
}

// CreatedQueue is the queue carrying place order commands for provider.
func CreatedQueue(provider string) string {
	return fmt.Sprintf("outbound.orders.created.%s", provider)
}

// CanceledQueue is the queue carrying cancel order commands for provider.
func CanceledQueue(provider string) string {
	return fmt.Sprintf("outbound.orders.canceled.%s", provider)
}

// NewConsumer creates a new RabbitMQ consumer
func NewConsumer(url, provider string, orderService OrderService, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return newConsumer(conn, channel, provider, orderService, logger), nil
}

func newConsumer(conn *amqp.Connection, channel *amqp.Channel, provider string, orderService OrderService, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		conn:         conn,
		channel:      channel,
		orderService: orderService,
		provider:     provider,
		logger:       logger.Named("rabbitmq"),
		done:         make(chan struct{}),
	}
}

// Start declares the command queues and starts consuming them.
func (c *Consumer) Start(ctx context.Context) error {
	createdQueue := CreatedQueue(c.provider)
	canceledQueue := CanceledQueue(c.provider)

	if _, err := c.channel.QueueDeclare(createdQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", createdQueue, err)
	}
	if _, err := c.channel.QueueDeclare(canceledQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", canceledQueue, err)
	}

	// Placing an order drives a browser-style session; one at a time.
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	createdMsgs, err := c.channel.Consume(createdQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", createdQueue, err)
	}
	canceledMsgs, err := c.channel.Consume(canceledQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", canceledQueue, err)
	}

	c.logger.Info("rabbitmq.consumer.started",
		zap.String("created_queue", createdQueue),
		zap.String("canceled_queue", canceledQueue),
	)

	go c.consume(ctx, createdMsgs, "created", c.handlePlace)
	go c.consume(ctx, canceledMsgs, "canceled", c.handleCancel)
	return nil
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery, kind string, handle func(context.Context, amqp.Delivery)) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("rabbitmq.channel_closed", zap.String("kind", kind))
				return
			}
			handle(ctx, msg)
		}
	}
}

func (c *Consumer) handlePlace(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("rabbitmq.place_order.received", zap.String("body", string(msg.Body)))

	var cmd service.PlaceOrderCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		c.logger.Error("rabbitmq.place_order.unmarshal_failed", zap.Error(err))
		metrics.IncError("rabbitmq", "unmarshal")
		_ = msg.Nack(false, false)
		return
	}

	_, err := c.orderService.PlaceOrder(ctx, cmd)
	c.settle(msg, "place_order", err)
}

func (c *Consumer) handleCancel(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("rabbitmq.cancel_order.received", zap.String("body", string(msg.Body)))

	var cmd service.CancelOrderCommand
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		c.logger.Error("rabbitmq.cancel_order.unmarshal_failed", zap.Error(err))
		metrics.IncError("rabbitmq", "unmarshal")
		_ = msg.Nack(false, false)
		return
	}

	_, err := c.orderService.CancelOrder(ctx, cmd)
	c.settle(msg, "cancel_order", err)
}

// settle acks on success. Failures are requeued unless retrying could not
// change the outcome or could place an order a second time.
func (c *Consumer) settle(msg amqp.Delivery, action string, err error) {
	if err == nil {
		_ = msg.Ack(false)
		return
	}
	var unknown *wikifolio.OrderOutcomeUnknownError
	if errors.As(err, &unknown) {
		c.logger.Error("rabbitmq."+action+".outcome_unknown",
			zap.String("wikifolio", unknown.Wikifolio),
			zap.String("isin", unknown.ISIN),
			zap.Error(err))
		metrics.IncError("rabbitmq", action+"_outcome_unknown")
		_ = msg.Nack(false, false)
		return
	}
	if permanent(err) {
		c.logger.Warn("rabbitmq."+action+".dropped", zap.Error(err))
		metrics.IncError("rabbitmq", action+"_permanent")
		_ = msg.Nack(false, false)
		return
	}
	c.logger.Error("rabbitmq."+action+".failed", zap.Error(err))
	metrics.IncError("rabbitmq", action)
	_ = msg.Nack(false, true)
}

func permanent(err error) bool {
	return wikifolio.Permanent(err) || errors.Is(err, service.ErrCancelRefused)
}

// Close closes the consumer
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
