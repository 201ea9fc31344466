package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

const NotificationsQueue = "notifications.q"

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer binds a queue to the events exchange for the given routing
// keys. The notification dispatcher consumes gig.* and escrow.* events from
// here, at-least-once.
func NewConsumer(conn *amqp.Connection, queue string, routingKeys []string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
			return nil, err
		}
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}
