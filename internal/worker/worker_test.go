package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"user_console/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) ApplyInvalidation(userID string) {
	m.Called(userID)
}

// fakeAcknowledger records how each delivery was settled
type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, msg queue.Invalidation) amqp.Delivery {
	body, err := msg.Encode()
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestHandle_AppliesForeignInvalidation(t *testing.T) {
	applier := new(MockApplier)
	applier.On("ApplyInvalidation", "42").Once()
	ack := &fakeAcknowledger{}

	w := NewInvalidationConsumer(applier, "console.invalidations", "replica-a")
	w.handle(delivery(t, ack, 1, queue.Invalidation{UserID: "42", Origin: "replica-b"}))

	applier.AssertExpectations(t)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Empty(t, ack.nacked)
}

func TestHandle_SkipsOwnMessages(t *testing.T) {
	applier := new(MockApplier)
	ack := &fakeAcknowledger{}

	w := NewInvalidationConsumer(applier, "console.invalidations", "replica-a")
	w.handle(delivery(t, ack, 7, queue.Invalidation{UserID: "42", Origin: "replica-a"}))

	applier.AssertNotCalled(t, "ApplyInvalidation", mock.Anything)
	assert.Equal(t, []uint64{7}, ack.acked)
}

func TestHandle_DropsInvalidPayload(t *testing.T) {
	applier := new(MockApplier)
	ack := &fakeAcknowledger{}

	w := NewInvalidationConsumer(applier, "console.invalidations", "replica-a")
	w.handle(amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("not json")})

	applier.AssertNotCalled(t, "ApplyInvalidation", mock.Anything)
	assert.Equal(t, []uint64{3}, ack.nacked)
	assert.Empty(t, ack.acked)
}

func TestConsume_StopsWhenDeliveriesClose(t *testing.T) {
	applier := new(MockApplier)
	applier.On("ApplyInvalidation", "").Once()
	ack := &fakeAcknowledger{}

	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery(t, ack, 1, queue.Invalidation{Origin: "replica-b"})
	close(msgs)

	w := NewInvalidationConsumer(applier, "console.invalidations", "replica-a")
	err := w.consume(context.Background(), msgs)

	assert.ErrorIs(t, err, ErrDeliveriesClosed)
	applier.AssertExpectations(t)
}

func TestConsume_StopsOnCancel(t *testing.T) {
	w := NewInvalidationConsumer(new(MockApplier), "console.invalidations", "replica-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.consume(ctx, make(chan amqp.Delivery)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
