package queue

import (
	"context"
	"fmt"
	"time"

	"user_console/internal/observability"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Invalidation tells console replicas that user data changed. An empty
// UserID means only list pages are affected.
type Invalidation struct {
	UserID string    `json:"user_id,omitempty"`
	Origin string    `json:"origin"`
	SentAt time.Time `json:"sent_at"`
}

func (m Invalidation) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeInvalidation(body []byte) (Invalidation, error) {
	var m Invalidation
	if err := json.Unmarshal(body, &m); err != nil {
		return Invalidation{}, fmt.Errorf("invalid invalidation payload: %w", err)
	}
	if m.Origin == "" {
		return Invalidation{}, fmt.Errorf("invalid invalidation payload: missing origin")
	}
	return m, nil
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Broadcaster publishes invalidations to the fanout exchange.
type Broadcaster struct {
	ch       publisher
	exchange string
	origin   string
	now      func() time.Time
}

// NewBroadcaster publishes on ch. origin identifies this replica so it can
// skip its own messages.
func NewBroadcaster(ch publisher, exchange, origin string) *Broadcaster {
	return &Broadcaster{
		ch:       ch,
		exchange: exchange,
		origin:   origin,
		now:      time.Now,
	}
}

func (b *Broadcaster) Broadcast(ctx context.Context, userID string) error {
	body, err := Invalidation{UserID: userID, Origin: b.origin, SentAt: b.now().UTC()}.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = b.ch.PublishWithContext(
		ctx,
		b.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	observability.GlobalMetrics.QueueMessagesPublished.WithLabelValues(b.exchange).Inc()
	return nil
}
