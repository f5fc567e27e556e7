// Package messaging consumes payment notifications from RabbitMQ.
package messaging

import (
	"context"
	"fmt"
	"time"

	"orders-service/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	exchangeType = "topic"
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// Connect dials the broker and declares the exchange, the durable queue and its
// binding. The returned channel has its prefetch set.
func Connect(ctx context.Context, cfg config.RabbitMQConfig, logger zerolog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	// The broker may still be starting alongside us
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to connect to RabbitMQ")

		if attempt == dialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("connection to RabbitMQ abandoned: %w", ctx.Err())
		case <-time.After(dialBackoff):
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	logger.Info().
		Str("exchange", cfg.Exchange).
		Str("queue", cfg.Queue).
		Str("routing_key", cfg.RoutingKey).
		Int("prefetch", cfg.Prefetch).
		Msg("connected to RabbitMQ")

	return conn, ch, nil
}

func declareTopology(ch *amqp.Channel, cfg config.RabbitMQConfig) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	return nil
}
