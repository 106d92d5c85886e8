package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	PaymentsQueue      = "seats.payments"
	PaymentsRoutingKey = "payment.*"
)

// Consumer reads payment outcomes from a durable queue bound to the events
// exchange. Deliveries are acknowledged manually.
type Consumer struct {
	ch    *amqp.Channel
	queue string
}

func NewConsumer(conn *amqp.Connection, prefetch int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	setup := func() error {
		if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
			return errors.Wrap(err, "declare exchange")
		}
		if _, err := ch.QueueDeclare(PaymentsQueue, true, false, false, false, nil); err != nil {
			return errors.Wrap(err, "declare queue")
		}
		if err := ch.QueueBind(PaymentsQueue, PaymentsRoutingKey, EventsExchange, false, nil); err != nil {
			return errors.Wrap(err, "bind queue")
		}
		if prefetch > 0 {
			return errors.Wrap(ch.Qos(prefetch, 0, false), "set qos")
		}
		return nil
	}
	if err := setup(); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Consumer{ch: ch, queue: PaymentsQueue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
