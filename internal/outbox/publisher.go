package outbox

import (
	"context"
	"time"

	"github.com/giginhq/gig-settlement/internal/adapters/crdb"
	"github.com/giginhq/gig-settlement/internal/adapters/rabbit"
	"github.com/giginhq/gig-settlement/internal/observability"
)

// Publisher drains the notification outbox into rabbit. Rows that fail to
// publish stay NEW and are retried on the next tick, so delivery is
// at-least-once with the message id carrying the dedupe key.
type Publisher struct {
	ledger    *crdb.Ledger
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(ledger *crdb.Ledger, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{ledger: ledger, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.ledger.GetUnpublishedOutbox(ctx, 50)
	if err != nil {
		p.logger.Error("outbox poll failed", err)
		return
	}
	for _, rec := range records {
		if err := p.rabbitPub.PublishEvent(ctx, rec.EventType, rec.DedupeKey, rec.Payload); err != nil {
			p.logger.WithField("event", rec.EventType).Error("outbox publish failed", err)
			continue
		}
		if err := p.ledger.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithField("outbox_id", rec.ID.String()).Error("outbox mark failed", err)
		}
		observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
	}
}
