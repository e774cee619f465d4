package worker

import (
	"context"
	"errors"
	"fmt"

	"user_console/internal/observability"
	"user_console/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Applier drops cached data named by an invalidation.
type Applier interface {
	ApplyInvalidation(userID string)
}

// InvalidationConsumer applies invalidations published by other console
// replicas to the local caches.
type InvalidationConsumer struct {
	applier  Applier
	exchange string
	origin   string
}

func NewInvalidationConsumer(applier Applier, exchange, origin string) *InvalidationConsumer {
	return &InvalidationConsumer{
		applier:  applier,
		exchange: exchange,
		origin:   origin,
	}
}

// Start consumes from a private queue bound to the exchange until ctx is
// done or the connection drops.
func (w *InvalidationConsumer) Start(ctx context.Context, conn *amqp.Connection) error {
	ch, err := queue.CreateChannel(conn)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := queue.DeclareExchange(ch, w.exchange); err != nil {
		return err
	}

	q, err := queue.DeclareReplicaQueue(ch, w.exchange)
	if err != nil {
		return err
	}

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // auto-ack
		true,  // exclusive
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"exchange": w.exchange,
		"queue":    q.Name,
	}).Info("Invalidation consumer started")

	return w.consume(ctx, msgs)
}

func (w *InvalidationConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			w.handle(msg)
		}
	}
}

func (w *InvalidationConsumer) handle(msg amqp.Delivery) {
	observability.GlobalMetrics.QueueMessagesConsumed.WithLabelValues(w.exchange).Inc()

	payload, err := queue.DecodeInvalidation(msg.Body)
	if err != nil {
		logrus.WithError(err).Error("invalid payload")
		_ = msg.Nack(false, false)
		return
	}

	if payload.Origin == w.origin {
		// already applied locally before publishing
		_ = msg.Ack(false)
		return
	}

	logrus.WithFields(logrus.Fields{
		"origin":  payload.Origin,
		"user_id": payload.UserID,
	}).Debug("Applying invalidation from another replica")

	w.applier.ApplyInvalidation(payload.UserID)
	_ = msg.Ack(false)
}
