package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orders-service/internal/metrics"
	"orders-service/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	consumerTag    = "orders-service"
	processTimeout = 30 * time.Second
)

// PaymentRecorder applies a payment confirmation to an order.
type PaymentRecorder interface {
	MarkPaid(ctx context.Context, req model.PaidOrderRequest) (*model.Order, error)
}

// Deliveries is the subset of *amqp.Channel the consumer needs.
type Deliveries interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// outcome is what happens to a delivery once it has been processed.
type outcome string

const (
	outcomeApplied   outcome = "applied"
	outcomeMalformed outcome = "malformed"
	outcomeRejected  outcome = "rejected"
	outcomeIntegrity outcome = "integrity"
	outcomeRetry     outcome = "retry"
)

// PaymentConsumer turns payment-succeeded messages into MarkPaid calls.
// Deliveries are acknowledged manually once their outcome is known.
type PaymentConsumer struct {
	source   Deliveries
	queue    string
	workers  int
	recorder PaymentRecorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewPaymentConsumer creates a consumer reading queue with the given number of workers.
func NewPaymentConsumer(
	source Deliveries,
	queue string,
	workers int,
	recorder PaymentRecorder,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *PaymentConsumer {
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &PaymentConsumer{
		source:   source,
		queue:    queue,
		workers:  workers,
		recorder: recorder,
		metrics:  m,
		logger:   logger.With().Str("consumer", "payment").Logger(),
	}
}

// Run consumes until ctx is cancelled or the broker closes the delivery channel.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(
		c.queue,     // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queue).Int("workers", c.workers).Msg("payment consumer started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return errors.New("delivery channel closed")
					}
					c.handleDelivery(ctx, d)
				}
			}
		})
	}

	err = g.Wait()
	c.logger.Info().Msg("payment consumer stopped")
	return err
}

// handleDelivery processes one message and settles it with the broker.
func (c *PaymentConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	// A shutdown must not abandon a confirmation halfway through
	processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	result := c.process(processCtx, d.Body)
	c.metrics.PaymentNotifications.WithLabelValues(string(result)).Inc()

	var err error
	switch result {
	case outcomeApplied:
		err = d.Ack(false)
	case outcomeRetry:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		c.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("failed to settle delivery")
	}
}

func (c *PaymentConsumer) process(ctx context.Context, body []byte) outcome {
	var req model.PaidOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.logger.Error().Err(err).Int("size", len(body)).Msg("dropping malformed payment notification")
		return outcomeMalformed
	}

	_, err := c.recorder.MarkPaid(ctx, req)
	if err == nil {
		return outcomeApplied
	}

	logger := c.logger.With().Str("order_id", req.OrderID).Err(err).Logger()

	switch model.KindOf(err) {
	case model.KindValidation:
		logger.Error().Msg("dropping invalid payment notification")
		return outcomeRejected
	case model.KindIntegrity:
		logger.Error().Bool("alert", true).Msg("dropping payment notification for unknown order")
		return outcomeIntegrity
	default:
		logger.Warn().Msg("payment notification will be redelivered")
		return outcomeRetry
	}
}
