package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/observability"
	"github.com/giginhq/gig-settlement/internal/payments"
)

// Service drives every applicant transition. The pattern throughout is:
// load the gig, run the pure state-machine method, write the whole aggregate
// back conditionally, then mirror the transition into the conversation
// thread. External calls (capture, refund) never run while the aggregate
// write is pending; they sit between an intermediate status and a finalizing
// write, with compensation on failure.
type Service struct {
	gigs      GigRepository
	convs     ConversationRepository
	escrow    EscrowLedger
	processor payments.Processor
	notifier  Notifier
	logger    observability.Logger

	disputeWindow  time.Duration
	captureRetries int
	now            func() time.Time
}

func NewService(gigs GigRepository, convs ConversationRepository, escrow EscrowLedger,
	processor payments.Processor, notifier Notifier, logger observability.Logger,
	disputeWindow time.Duration) *Service {
	return &Service{
		gigs:           gigs,
		convs:          convs,
		escrow:         escrow,
		processor:      processor,
		notifier:       notifier,
		logger:         logger,
		disputeWindow:  disputeWindow,
		captureRetries: 3,
		now:            time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// applyThread mirrors a transition into the performer's conversation. The
// aggregate write already committed, so a thread failure here is a partial
// failure: logged and left for idempotent reconciliation, never surfaced.
func (s *Service) applyThread(ctx context.Context, g *domain.Gig, performerID uuid.UUID, eff domain.ThreadEffect) {
	if eff.Append == nil && eff.Patch == nil {
		return
	}
	conv, err := s.convs.Ensure(ctx, g.ID, g.VenueID, performerID)
	if err != nil {
		s.logger.WithField("gig_id", g.ID.String()).Error("thread reconcile needed: ensure conversation", err)
		return
	}
	if eff.Patch != nil {
		if err := s.convs.PatchLatest(ctx, conv.ID, *eff.Patch); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WithField("conversation_id", conv.ID.String()).Error("thread reconcile needed: patch", err)
		}
	}
	if eff.Append != nil {
		if _, err := s.convs.Append(ctx, conv.ID, *eff.Append); err != nil {
			s.logger.WithField("conversation_id", conv.ID.String()).Error("thread reconcile needed: append", err)
		}
	}
}

func (s *Service) notify(ctx context.Context, ev Event) {
	if err := s.notifier.Enqueue(ctx, ev); err != nil {
		s.logger.WithField("event", ev.Type).Error("notification enqueue failed", err)
	}
}

// mutate runs one read-modify-write cycle against a gig.
func (s *Service) mutate(ctx context.Context, gigID uuid.UUID, fn func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error)) (*domain.Gig, error) {
	g, err := s.gigs.Get(ctx, gigID)
	if err != nil {
		return nil, err
	}
	eff, performerID, err := fn(g)
	if err != nil {
		return nil, err
	}
	if err := s.gigs.Update(ctx, g); err != nil {
		return nil, err
	}
	s.applyThread(ctx, g, performerID, eff)
	return g, nil
}

// Apply submits a performer's bid at the given fee text, or at the gig
// budget when the text is empty.
func (s *Service) Apply(ctx context.Context, gigID, performerID uuid.UUID, feeText string) error {
	var feePence int64
	if feeText != "" {
		var err error
		feePence, err = domain.ParseFee(feeText)
		if err != nil {
			return err
		}
	}
	_, err := s.mutate(ctx, gigID, func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error) {
		eff, err := g.Apply(performerID, feePence, s.now())
		return eff, performerID, err
	})
	return err
}

func (s *Service) Invite(ctx context.Context, gigID, performerID uuid.UUID) error {
	_, err := s.mutate(ctx, gigID, func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error) {
		eff, err := g.Invite(performerID, s.now())
		return eff, performerID, err
	})
	return err
}

func (s *Service) Negotiate(ctx context.Context, gigID, performerID uuid.UUID, sender domain.Sender, feeText string) error {
	_, err := s.mutate(ctx, gigID, func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error) {
		eff, err := g.Negotiate(performerID, sender, feeText, s.now())
		return eff, performerID, err
	})
	return err
}

func (s *Service) Decline(ctx context.Context, gigID, performerID uuid.UUID, declinedBy domain.Sender) error {
	_, err := s.mutate(ctx, gigID, func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error) {
		eff, err := g.Decline(performerID, declinedBy, s.now())
		return eff, performerID, err
	})
	return err
}

func (s *Service) Withdraw(ctx context.Context, gigID, performerID uuid.UUID) error {
	_, err := s.mutate(ctx, gigID, func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error) {
		eff, err := g.Withdraw(performerID, s.now())
		return eff, performerID, err
	})
	return err
}

// Accept runs the confirmation saga. The applicant array moves to the
// intermediate accepted state first; only then is the capture attempted. A
// hard decline leaves the record accepted-but-unpaid with ErrPaymentFailed
// surfaced for the caller's retry action. Racing accepts on the same gig are
// resolved by the conditional write: the loser sees ErrStaleVersion and, on
// re-read, ErrAlreadyConfirmed.
func (s *Service) Accept(ctx context.Context, gigID, performerID uuid.UUID, acceptedBy domain.Sender) error {
	g, err := s.gigs.Get(ctx, gigID)
	if err != nil {
		return err
	}
	out, err := g.Accept(performerID, acceptedBy, s.now())
	if err != nil {
		return err
	}
	if err := s.gigs.Update(ctx, g); err != nil {
		return err
	}
	s.applyThread(ctx, g, performerID, out.Effect)
	s.closeCompetitors(ctx, g, out.ClosedApplicants)

	if !out.Payable {
		s.notify(ctx, Event{Type: "gig.confirmed", GigID: g.ID, Subject: performerID,
			Payload: map[string]interface{}{"agreed_fee_pence": out.AgreedFeePence}})
		return nil
	}
	return s.capture(ctx, g.ID, performerID, out.AgreedFeePence)
}

// capture holds the fee with the processor and finalizes the gig. The
// finalizing write retries on version races since only payment bookkeeping
// is being added.
func (s *Service) capture(ctx context.Context, gigID, performerID uuid.UUID, amountPence int64) error {
	var paymentRef string
	err := payments.Retry(ctx, s.captureRetries, func() error {
		ref, err := s.processor.Capture(ctx, gigID.String(), amountPence)
		if err != nil {
			return err
		}
		paymentRef = ref
		return nil
	})
	if err != nil {
		s.logger.WithField("gig_id", gigID.String()).Error("fee capture failed", err)
		return err
	}
	return s.FinalizeCapture(ctx, gigID, performerID, paymentRef)
}

// FinalizeCapture records a successful capture: applicant confirmed, gig
// paid and closed, escrow row held until the dispute window clears. Invoked
// from the accept saga and from the processor webhook, so it must tolerate
// being called twice for the same capture.
func (s *Service) FinalizeCapture(ctx context.Context, gigID, performerID uuid.UUID, paymentRef string) error {
	var gig *domain.Gig
	for attempt := 0; attempt < 3; attempt++ {
		g, err := s.gigs.Get(ctx, gigID)
		if err != nil {
			return err
		}
		eff, err := g.ConfirmPayment(performerID, paymentRef, s.disputeWindow)
		if errors.Is(err, domain.ErrConflict) && g.PaymentRef == paymentRef {
			return nil // already finalized by the other path
		}
		if err != nil {
			return err
		}
		if err := s.gigs.Update(ctx, g); err != nil {
			if errors.Is(err, domain.ErrStaleVersion) {
				continue
			}
			return err
		}
		gig = g
		s.applyThread(ctx, g, performerID, eff)
		break
	}
	if gig == nil {
		return domain.ErrConflict
	}

	err := s.escrow.Hold(ctx, domain.EscrowRecord{
		PaymentRef:          paymentRef,
		GigID:               gig.ID,
		MusicianID:          performerID,
		VenueID:             gig.VenueID,
		AmountPence:         gig.AgreedFeePence,
		Currency:            "GBP",
		Status:              domain.EscrowHeld,
		DisputeClearingTime: gig.DisputeClearingTime,
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		// The gig says paid but no ledger row exists; the sweep worker
		// reconciles from the processor, so log and move on.
		s.logger.WithField("payment_ref", paymentRef).Error("escrow hold not recorded", err)
	}
	s.notify(ctx, Event{Type: "gig.confirmed", GigID: gig.ID, Subject: performerID,
		Payload: map[string]interface{}{"payment_ref": paymentRef, "agreed_fee_pence": gig.AgreedFeePence}})
	return nil
}

// HandleCaptureFailure compensates a capture the processor reported dead:
// payment bookkeeping is cleared and the winner returns to negotiating so the
// gig can be accepted again.
func (s *Service) HandleCaptureFailure(ctx context.Context, gigID uuid.UUID) error {
	g, err := s.gigs.Get(ctx, gigID)
	if err != nil {
		return err
	}
	g.RevertAcceptance()
	return s.gigs.Update(ctx, g)
}

// Cancel tears down a confirmed booking and, when funds were captured,
// refunds them to the venue before the conversations are reopened.
func (s *Service) Cancel(ctx context.Context, gigID, performerID uuid.UUID, reason string) error {
	g, err := s.gigs.Get(ctx, gigID)
	if err != nil {
		return err
	}
	out, err := g.Cancel(performerID, reason, s.now())
	if err != nil {
		return err
	}
	if err := s.gigs.Update(ctx, g); err != nil {
		return err
	}

	if out.RefundRequired {
		if err := s.refund(ctx, out.PaymentRef); err != nil {
			// The gig is already reverted; the ledger row stays held and
			// the worker retries the refund from there.
			s.logger.WithField("payment_ref", out.PaymentRef).Error("refund pending retry", err)
		}
	}
	s.applyThread(ctx, g, performerID, out.Effect)
	s.reopenConversations(ctx, g, out)
	s.notify(ctx, Event{Type: "gig.cancelled", GigID: g.ID, Subject: performerID,
		Payload: map[string]interface{}{"reason": reason}})
	return nil
}

func (s *Service) refund(ctx context.Context, paymentRef string) error {
	err := payments.Retry(ctx, s.captureRetries, func() error {
		return s.processor.Refund(ctx, paymentRef)
	})
	if err != nil {
		return err
	}
	if err := s.escrow.Refund(ctx, paymentRef, s.now()); err != nil && !errors.Is(err, domain.ErrEscrowFinalized) {
		return err
	}
	s.notify(ctx, Event{Type: "escrow.refunded",
		Payload: map[string]interface{}{"payment_ref": paymentRef}})
	return nil
}

// FileDispute flags the gig and freezes the ledger row inside the window.
func (s *Service) FileDispute(ctx context.Context, gigID uuid.UUID, by domain.Sender) error {
	g, err := s.mutate(ctx, gigID, func(g *domain.Gig) (domain.ThreadEffect, uuid.UUID, error) {
		winner := g.ConfirmedApplicant()
		if winner == nil {
			return domain.ThreadEffect{}, uuid.Nil, domain.ErrNotConfirmed
		}
		eff, err := g.FileDispute(by, s.now())
		return eff, winner.ID, err
	})
	if err != nil {
		return err
	}
	if g.PaymentRef != "" {
		if err := s.escrow.SetDisputed(ctx, g.PaymentRef, true); err != nil {
			s.logger.WithField("payment_ref", g.PaymentRef).Error("ledger dispute flag failed", err)
		}
	}
	s.notify(ctx, Event{Type: "escrow.disputed", GigID: g.ID})
	return nil
}

// MarkApplicantsViewed flags every applicant record as seen by the venue.
func (s *Service) MarkApplicantsViewed(ctx context.Context, gigID uuid.UUID) error {
	g, err := s.gigs.Get(ctx, gigID)
	if err != nil {
		return err
	}
	g.MarkApplicantsViewed()
	return s.gigs.Update(ctx, g)
}

// GigView is a gig plus its derived escrow state.
type GigView struct {
	Gig    *domain.Gig
	Escrow domain.EscrowStatus
}

// View reads the gig and derives the effective escrow state from the ledger
// and the clock; no stored status is trusted past its timestamps.
func (s *Service) View(ctx context.Context, gigID uuid.UUID) (*GigView, error) {
	g, err := s.gigs.Get(ctx, gigID)
	if err != nil {
		return nil, err
	}
	var rec *domain.EscrowRecord
	if g.PaymentRef != "" {
		rec, err = s.escrow.Get(ctx, g.PaymentRef)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return &GigView{Gig: g, Escrow: domain.DeriveEscrow(s.now(), rec)}, nil
}

// Thread returns the ordered messages of a conversation.
func (s *Service) Thread(ctx context.Context, convID uuid.UUID) ([]domain.Message, error) {
	return s.convs.Messages(ctx, convID)
}
