package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

func SetupRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err != nil {
			logrus.WithError(err).Warnf("Failed to connect to RabbitMQ (attempt %d/%d)", i+1, maxRetries)
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		break
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	logrus.Info("RabbitMQ connection established successfully")
	return conn, nil
}

func CreateChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return ch, nil
}

// DeclareExchange declares the fanout exchange every console replica binds to.
func DeclareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,     // name
		"fanout", // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	return nil
}

// DeclareReplicaQueue declares a private, server-named queue bound to
// exchange. It disappears with the connection.
func DeclareReplicaQueue(ch *amqp.Channel, exchange string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to bind queue: %w", err)
	}

	return q, nil
}
