package rabbit

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "gigs.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

// PublishEvent emits one outbox record to the events exchange. The dedupe key
// rides as MessageId so consumers can drop redeliveries.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey, dedupeKey string, payload []byte) error {
	return p.ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		MessageId:   dedupeKey,
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	})
}
