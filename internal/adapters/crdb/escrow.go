package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giginhq/gig-settlement/internal/domain"
)

const (
	SerializationFailureCode = "40001"
)

// execer lets the settle and outbox statements run either on the pool or
// inside a WithTx transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Ledger is the money-side store: one escrow row per captured gig fee, plus
// the notification outbox. Settles are conditional single-row updates so a
// fee is released or refunded at most once regardless of how many workers
// observe it past the deadline.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrConflict
		}
		return err
	}

	return tx.Commit(ctx)
}

func (l *Ledger) Hold(ctx context.Context, rec domain.EscrowRecord) error {
	result, err := l.pool.Exec(ctx, `
		INSERT INTO escrow (payment_ref, gig_id, musician_id, venue_id, amount_pence, currency, status, dispute_clearing_time, dispute_logged)
		VALUES ($1, $2, $3, $4, $5, $6, 'held', $7, false)
		ON CONFLICT (payment_ref) DO NOTHING
	`, rec.PaymentRef, rec.GigID, rec.MusicianID, rec.VenueID, rec.AmountPence, rec.Currency, rec.DisputeClearingTime)
	if err != nil {
		return errors.Wrap(err, "insert escrow")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, paymentRef string) (*domain.EscrowRecord, error) {
	return l.scanOne(ctx, `
		SELECT payment_ref, gig_id, musician_id, venue_id, amount_pence, currency, status, dispute_clearing_time, dispute_logged, created_at, settled_at
		FROM escrow WHERE payment_ref = $1
	`, paymentRef)
}

func (l *Ledger) GetByGig(ctx context.Context, gigID uuid.UUID) (*domain.EscrowRecord, error) {
	return l.scanOne(ctx, `
		SELECT payment_ref, gig_id, musician_id, venue_id, amount_pence, currency, status, dispute_clearing_time, dispute_logged, created_at, settled_at
		FROM escrow WHERE gig_id = $1 ORDER BY created_at DESC LIMIT 1
	`, gigID)
}

func (l *Ledger) scanOne(ctx context.Context, query string, arg interface{}) (*domain.EscrowRecord, error) {
	var rec domain.EscrowRecord
	var settledAt *time.Time
	err := l.pool.QueryRow(ctx, query, arg).Scan(
		&rec.PaymentRef, &rec.GigID, &rec.MusicianID, &rec.VenueID,
		&rec.AmountPence, &rec.Currency, &rec.Status,
		&rec.DisputeClearingTime, &rec.DisputeLogged, &rec.CreatedAt, &settledAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan escrow")
	}
	if settledAt != nil {
		rec.SettledAt = *settledAt
	}
	return &rec, nil
}

func (l *Ledger) SetDisputed(ctx context.Context, paymentRef string, logged bool) error {
	result, err := l.pool.Exec(ctx, `
		UPDATE escrow SET dispute_logged = $2 WHERE payment_ref = $1 AND status = 'held'
	`, paymentRef, logged)
	if err != nil {
		return errors.Wrap(err, "flag dispute")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (l *Ledger) settle(ctx context.Context, db execer, paymentRef string, to domain.EscrowStatus, at time.Time) error {
	result, err := db.Exec(ctx, `
		UPDATE escrow SET status = $2, settled_at = $3
		WHERE payment_ref = $1 AND status = 'held'
	`, paymentRef, string(to), at)
	if err != nil {
		return errors.Wrap(err, "settle escrow")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrEscrowFinalized
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, paymentRef string, at time.Time) error {
	return l.settle(ctx, l.pool, paymentRef, domain.EscrowReleased, at)
}

func (l *Ledger) Refund(ctx context.Context, paymentRef string, at time.Time) error {
	return l.settle(ctx, l.pool, paymentRef, domain.EscrowRefunded, at)
}

// FindReleasable re-derives which held fees are past their dispute window.
// Pure function of stored timestamps and now, so any number of workers may
// evaluate it; the conditional settle keeps them from double-releasing.
func (l *Ledger) FindReleasable(ctx context.Context, now time.Time, limit int) ([]domain.EscrowRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT payment_ref, gig_id, musician_id, venue_id, amount_pence, currency, status, dispute_clearing_time, dispute_logged, created_at
		FROM escrow
		WHERE status = 'held' AND dispute_logged = false AND dispute_clearing_time <= $1
		ORDER BY dispute_clearing_time ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query releasable")
	}
	defer rows.Close()

	var recs []domain.EscrowRecord
	for rows.Next() {
		var rec domain.EscrowRecord
		if err := rows.Scan(&rec.PaymentRef, &rec.GigID, &rec.MusicianID, &rec.VenueID,
			&rec.AmountPence, &rec.Currency, &rec.Status,
			&rec.DisputeClearingTime, &rec.DisputeLogged, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
