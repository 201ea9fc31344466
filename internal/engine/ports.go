package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/giginhq/gig-settlement/internal/domain"
)

// GigRepository is the document store holding gig aggregates. Update is the
// single serialization point for applicant-array mutation: it matches on the
// gig's version, increments it, and reports ErrStaleVersion on a lost race.
type GigRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Gig, error)
	Create(ctx context.Context, g *domain.Gig) error
	Update(ctx context.Context, g *domain.Gig) error
}

// ConversationRepository owns the per-(gig, performer) message threads.
type ConversationRepository interface {
	// Ensure returns the conversation for the pair, creating it lazily.
	Ensure(ctx context.Context, gigID, venueID, performerID uuid.UUID) (*domain.Conversation, error)
	Append(ctx context.Context, convID uuid.UUID, draft domain.MessageDraft) (domain.Message, error)
	// PatchLatest updates the status of the most recent message matching
	// patch.Types and refreshes the conversation's last-message denorm.
	// ErrNotFound when no such message exists.
	PatchLatest(ctx context.Context, convID uuid.UUID, patch domain.StatusPatch) error
	ForGig(ctx context.Context, gigID uuid.UUID) ([]domain.Conversation, error)
	Messages(ctx context.Context, convID uuid.UUID) ([]domain.Message, error)
}

// EscrowLedger is the money-side store. Release and Refund are conditional
// single-row settles: a record already settled reports ErrEscrowFinalized so
// settlement happens at most once no matter how often it is attempted.
type EscrowLedger interface {
	Hold(ctx context.Context, rec domain.EscrowRecord) error
	Get(ctx context.Context, paymentRef string) (*domain.EscrowRecord, error)
	GetByGig(ctx context.Context, gigID uuid.UUID) (*domain.EscrowRecord, error)
	SetDisputed(ctx context.Context, paymentRef string, logged bool) error
	Release(ctx context.Context, paymentRef string, at time.Time) error
	Refund(ctx context.Context, paymentRef string, at time.Time) error
	FindReleasable(ctx context.Context, now time.Time, limit int) ([]domain.EscrowRecord, error)
}

// Event is a notification fan-out record handed to the outbox. Delivery is
// at-least-once and best-effort from the engine's point of view.
type Event struct {
	Type    string
	GigID   uuid.UUID
	Subject uuid.UUID
	Payload map[string]interface{}
}

// Notifier enqueues events for asynchronous delivery. Enqueue failures are
// logged by the engine, never propagated to the caller of a transition that
// already committed.
type Notifier interface {
	Enqueue(ctx context.Context, ev Event) error
}
