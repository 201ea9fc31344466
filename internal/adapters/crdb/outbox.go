package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/engine"
)

type OutboxRecord struct {
	ID          uuid.UUID
	EventType   string
	GigID       uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Status      string // NEW, PUBLISHED, FAILED
	DedupeKey   string
}

// Enqueue satisfies engine.Notifier: notification fan-out goes through the
// outbox table and reaches rabbit via the publisher process, never inline
// with a transition.
func (l *Ledger) Enqueue(ctx context.Context, ev engine.Event) error {
	return l.enqueue(ctx, l.pool, ev)
}

func (l *Ledger) enqueue(ctx context.Context, db execer, ev engine.Event) error {
	payload, err := json.Marshal(map[string]interface{}{
		"gig_id":  ev.GigID,
		"subject": ev.Subject,
		"data":    ev.Payload,
	})
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO outbox (id, event_type, gig_id, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, 'NEW', $5)
	`, uuid.New(), ev.Type, ev.GigID, payload, uuid.New().String())
	return err
}

// ReleaseAndNotify settles the held row and records the outbox event in one
// transaction, so a crash between the two cannot release funds without a
// notification ever going out.
func (l *Ledger) ReleaseAndNotify(ctx context.Context, paymentRef string, at time.Time, ev engine.Event) error {
	return l.WithTx(ctx, func(tx pgx.Tx) error {
		if err := l.settle(ctx, tx, paymentRef, domain.EscrowReleased, at); err != nil {
			return err
		}
		return l.enqueue(ctx, tx, ev)
	})
}

func (l *Ledger) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, event_type, gig_id, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.EventType, &rec.GigID, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (l *Ledger) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}
