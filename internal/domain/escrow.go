package domain

import (
	"time"

	"github.com/google/uuid"
)

type EscrowStatus string

const (
	EscrowNone       EscrowStatus = "none"
	EscrowHeld       EscrowStatus = "held"
	EscrowReleasable EscrowStatus = "releasable"
	EscrowReleased   EscrowStatus = "released"
	EscrowRefunded   EscrowStatus = "refunded"
	EscrowDisputed   EscrowStatus = "disputed"
)

// EscrowRecord is one ledger row per captured gig fee. Stored statuses are
// only held/released/refunded; releasable and disputed are derived at read
// time so the state never depends on a timer having fired.
type EscrowRecord struct {
	PaymentRef          string
	GigID               uuid.UUID
	MusicianID          uuid.UUID
	VenueID             uuid.UUID
	AmountPence         int64
	Currency            string
	Status              EscrowStatus
	DisputeClearingTime time.Time
	DisputeLogged       bool
	CreatedAt           time.Time
	SettledAt           time.Time
}

// DeriveEscrow computes the effective escrow state from stored facts and the
// clock. Pure: querying twice with no intervening event yields the same
// answer, which is what makes redundant evaluation from concurrent readers
// safe.
func DeriveEscrow(now time.Time, rec *EscrowRecord) EscrowStatus {
	if rec == nil {
		return EscrowNone
	}
	switch rec.Status {
	case EscrowReleased, EscrowRefunded:
		return rec.Status
	}
	if rec.DisputeLogged {
		return EscrowDisputed
	}
	if !rec.DisputeClearingTime.IsZero() && !now.Before(rec.DisputeClearingTime) {
		return EscrowReleasable
	}
	return EscrowHeld
}
