package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type GigKind string

const (
	KindStandard GigKind = "standard"
	KindOpenMic  GigKind = "open-mic"
	KindTicketed GigKind = "ticketed"
)

type GigStatus string

const (
	GigOpen   GigStatus = "open"
	GigClosed GigStatus = "closed"
)

type ApplicantStatus string

const (
	ApplicantPending     ApplicantStatus = "pending"
	ApplicantNegotiating ApplicantStatus = "negotiating"
	ApplicantAccepted    ApplicantStatus = "accepted"
	ApplicantConfirmed   ApplicantStatus = "confirmed"
	ApplicantDeclined    ApplicantStatus = "declined"
	ApplicantWithdrawn   ApplicantStatus = "withdrawn"
	ApplicantCancelled   ApplicantStatus = "cancelled"
	ApplicantPaid        ApplicantStatus = "paid"
)

type Sender string

const (
	SenderVenue    Sender = "venue"
	SenderMusician Sender = "musician"
)

// ApplicantRecord is one performer's bid or invitation on a gig. Records are
// owned by the gig and mutated only through whole-array replacement so the
// version check covers every record at once.
type ApplicantRecord struct {
	ID       uuid.UUID       `bson:"id" json:"id"`
	Status   ApplicantStatus `bson:"status" json:"status"`
	FeePence int64           `bson:"fee_pence" json:"fee_pence"`
	SentBy   Sender          `bson:"sent_by" json:"sent_by"`
	Invited  bool            `bson:"invited" json:"invited"`
	Viewed   bool            `bson:"viewed" json:"viewed"`
}

type Gig struct {
	ID          uuid.UUID         `bson:"_id" json:"id"`
	VenueID     uuid.UUID         `bson:"venue_id" json:"venue_id"`
	StartsAt    time.Time         `bson:"starts_at" json:"starts_at"`
	Duration    time.Duration     `bson:"duration" json:"duration"`
	Kind        GigKind           `bson:"kind" json:"kind"`
	BudgetPence int64             `bson:"budget_pence" json:"budget_pence"`
	Status      GigStatus         `bson:"status" json:"status"`
	Applicants  []ApplicantRecord `bson:"applicants" json:"applicants"`

	AgreedFeePence int64  `bson:"agreed_fee_pence" json:"agreed_fee_pence"`
	Paid           bool   `bson:"paid" json:"paid"`
	PaymentRef     string `bson:"payment_ref" json:"payment_ref"`

	DisputeClearingTime time.Time `bson:"dispute_clearing_time" json:"dispute_clearing_time"`
	DisputeLogged       bool      `bson:"dispute_logged" json:"dispute_logged"`
	VenueHasReviewed    bool      `bson:"venue_has_reviewed" json:"venue_has_reviewed"`
	MusicianHasReviewed bool      `bson:"musician_has_reviewed" json:"musician_has_reviewed"`

	CancellationReason string `bson:"cancellation_reason" json:"cancellation_reason"`

	// Version is the optimistic-concurrency token. Every conditional write
	// matches on it and increments it; a stale read surfaces as ErrStaleVersion.
	Version int64 `bson:"version" json:"version"`
}

// EndsAt is the performance end instant, the anchor for the dispute window.
func (g *Gig) EndsAt() time.Time {
	return g.StartsAt.Add(g.Duration)
}

// MultiSlot reports whether the gig kind permits more than one concurrently
// confirmed applicant.
func (g *Gig) MultiSlot() bool {
	return g.Kind == KindOpenMic
}

// NonPayable gigs settle without escrow: accept confirms and pays in one step.
func (g *Gig) NonPayable() bool {
	return g.Kind == KindOpenMic || g.BudgetPence == 0
}

func (g *Gig) applicant(id uuid.UUID) *ApplicantRecord {
	for i := range g.Applicants {
		if g.Applicants[i].ID == id {
			return &g.Applicants[i]
		}
	}
	return nil
}

// ConfirmedApplicant returns the applicant holding the slot, if any.
func (g *Gig) ConfirmedApplicant() *ApplicantRecord {
	for i := range g.Applicants {
		switch g.Applicants[i].Status {
		case ApplicantAccepted, ApplicantConfirmed, ApplicantPaid:
			return &g.Applicants[i]
		}
	}
	return nil
}

// guard rejects any transition once the gig start has passed.
func (g *Gig) guard(now time.Time) error {
	if !now.Before(g.StartsAt) {
		return ErrPastGig
	}
	return nil
}

// Apply adds a pending applicant record at the given fee. A prior withdrawn
// or cancelled record for the same performer is revived in place.
func (g *Gig) Apply(performerID uuid.UUID, feePence int64, now time.Time) (ThreadEffect, error) {
	if err := g.guard(now); err != nil {
		return ThreadEffect{}, err
	}
	if g.Status == GigClosed {
		return ThreadEffect{}, ErrGigClosed
	}
	if feePence <= 0 {
		feePence = g.BudgetPence
	}
	if existing := g.applicant(performerID); existing != nil {
		if existing.Status != ApplicantWithdrawn && existing.Status != ApplicantCancelled {
			return ThreadEffect{}, ErrDuplicateApplicant
		}
		existing.Status = ApplicantPending
		existing.FeePence = feePence
		existing.SentBy = SenderMusician
	} else {
		g.Applicants = append(g.Applicants, ApplicantRecord{
			ID:       performerID,
			Status:   ApplicantPending,
			FeePence: feePence,
			SentBy:   SenderMusician,
		})
	}
	return ThreadEffect{Append: &MessageDraft{
		SenderID: performerID,
		Type:     MessageApplication,
		Status:   StatusPending,
		Text:     fmt.Sprintf("Applied for the gig at a fee of %s.", FormatFee(feePence)),
		NewFee:   feePence,
	}}, nil
}

// Invite adds a pending venue-initiated record at the gig budget.
func (g *Gig) Invite(performerID uuid.UUID, now time.Time) (ThreadEffect, error) {
	if err := g.guard(now); err != nil {
		return ThreadEffect{}, err
	}
	if g.Status == GigClosed {
		return ThreadEffect{}, ErrGigClosed
	}
	if existing := g.applicant(performerID); existing != nil {
		if existing.Status != ApplicantWithdrawn && existing.Status != ApplicantCancelled {
			return ThreadEffect{}, ErrDuplicateApplicant
		}
		existing.Status = ApplicantPending
		existing.FeePence = g.BudgetPence
		existing.SentBy = SenderVenue
		existing.Invited = true
	} else {
		g.Applicants = append(g.Applicants, ApplicantRecord{
			ID:       performerID,
			Status:   ApplicantPending,
			FeePence: g.BudgetPence,
			SentBy:   SenderVenue,
			Invited:  true,
		})
	}
	return ThreadEffect{Append: &MessageDraft{
		SenderID: g.VenueID,
		Type:     MessageInvitation,
		Status:   StatusPending,
		Text:     fmt.Sprintf("Invited to play this gig for %s.", FormatFee(g.BudgetPence)),
		NewFee:   g.BudgetPence,
	}}, nil
}

// Negotiate records a counter-offer from either side. The previous live offer
// message is marked countered and a fresh negotiation message is appended.
// Once another applicant holds the slot the re-offer path is closed.
func (g *Gig) Negotiate(performerID uuid.UUID, sender Sender, feeText string, now time.Time) (ThreadEffect, error) {
	if err := g.guard(now); err != nil {
		return ThreadEffect{}, err
	}
	rec := g.applicant(performerID)
	if rec == nil {
		return ThreadEffect{}, ErrNotFound
	}
	if winner := g.ConfirmedApplicant(); winner != nil && winner.ID != performerID && !g.MultiSlot() {
		return ThreadEffect{}, ErrAppsClosed
	}
	switch rec.Status {
	case ApplicantPending, ApplicantNegotiating, ApplicantDeclined:
	default:
		return ThreadEffect{}, ErrConflict
	}
	oldFee, newFee, err := ProposeFee(CurrentFee(g, performerID), feeText)
	if err != nil {
		return ThreadEffect{}, err
	}
	rec.Status = ApplicantNegotiating
	rec.FeePence = newFee
	rec.SentBy = sender
	senderID := performerID
	if sender == SenderVenue {
		senderID = g.VenueID
	}
	return ThreadEffect{
		Patch: &StatusPatch{
			Types:   OfferTypes(),
			Status:  StatusCountered,
			Summary: fmt.Sprintf("The %s proposes a new fee of %s.", sender, FormatFee(newFee)),
		},
		Append: &MessageDraft{
			SenderID: senderID,
			Type:     MessageNegotiation,
			Status:   StatusPending,
			Text:     fmt.Sprintf("The %s proposes a new fee:", sender),
			OldFee:   oldFee,
			NewFee:   newFee,
		},
	}, nil
}

// AcceptOutcome reports what Accept decided, for the orchestrator to act on.
type AcceptOutcome struct {
	AgreedFeePence int64
	// Payable is true when escrow capture must follow before confirmation.
	Payable bool
	// ClosedApplicants lists competitors declined with apps-closed, whose
	// conversations need the matching patch.
	ClosedApplicants []uuid.UUID
	Effect           ThreadEffect
}

// Accept moves the applicant to accepted (payable path) or straight to
// confirmed+paid (non-payable path), binding the agreed fee per the fee
// ledger. For single-slot gigs every other live applicant is declined with
// apps-closed in the same array write.
func (g *Gig) Accept(performerID uuid.UUID, acceptedBy Sender, now time.Time) (AcceptOutcome, error) {
	if err := g.guard(now); err != nil {
		return AcceptOutcome{}, err
	}
	rec := g.applicant(performerID)
	if rec == nil {
		return AcceptOutcome{}, ErrNotFound
	}
	if winner := g.ConfirmedApplicant(); winner != nil {
		if winner.ID == performerID {
			if winner.Status == ApplicantAccepted {
				// Accepted but never captured: re-run the capture without
				// touching the array. This is the retry after a hard decline.
				return AcceptOutcome{AgreedFeePence: g.AgreedFeePence, Payable: true}, nil
			}
			// Idempotent re-accept.
			return AcceptOutcome{AgreedFeePence: g.AgreedFeePence, Payable: false}, nil
		}
		if !g.MultiSlot() {
			return AcceptOutcome{}, ErrAlreadyConfirmed
		}
	}
	switch rec.Status {
	case ApplicantPending, ApplicantNegotiating:
	default:
		return AcceptOutcome{}, ErrConflict
	}

	agreed := CurrentFee(g, performerID)
	out := AcceptOutcome{AgreedFeePence: agreed, Payable: !g.NonPayable()}
	if out.Payable {
		rec.Status = ApplicantAccepted
		g.Paid = false
	} else {
		rec.Status = ApplicantConfirmed
		g.Paid = true
		if !g.MultiSlot() {
			g.Status = GigClosed
		}
	}
	g.AgreedFeePence = agreed
	if g.Kind == KindTicketed {
		g.Status = GigClosed
	}

	if !g.MultiSlot() {
		for i := range g.Applicants {
			a := &g.Applicants[i]
			if a.ID == performerID {
				continue
			}
			switch a.Status {
			case ApplicantPending, ApplicantNegotiating, ApplicantDeclined:
				a.Status = ApplicantDeclined
				out.ClosedApplicants = append(out.ClosedApplicants, a.ID)
			}
		}
	}

	senderID := performerID
	role := SenderMusician
	if acceptedBy == SenderVenue {
		senderID = g.VenueID
		role = SenderVenue
	}
	status := StatusAwaitingPayment
	text := fmt.Sprintf("The %s has accepted the gig for a fee of %s.", role, FormatFee(agreed))
	if !out.Payable {
		status = StatusGigConfirmed
		text = fmt.Sprintf("The %s has accepted the gig. The gig is confirmed.", role)
	}
	out.Effect = ThreadEffect{
		Patch: &StatusPatch{Types: OfferTypes(), Status: StatusAccepted, Summary: text},
		Append: &MessageDraft{
			SenderID: senderID,
			Type:     MessageAnnouncement,
			Status:   status,
			Text:     text,
		},
	}
	return out, nil
}

// Decline turns down the applicant's live offer. A venue decline leaves the
// performer free to counter again while the gig remains unconfirmed.
func (g *Gig) Decline(performerID uuid.UUID, declinedBy Sender, now time.Time) (ThreadEffect, error) {
	if err := g.guard(now); err != nil {
		return ThreadEffect{}, err
	}
	rec := g.applicant(performerID)
	if rec == nil {
		return ThreadEffect{}, ErrNotFound
	}
	switch rec.Status {
	case ApplicantPending, ApplicantNegotiating:
	case ApplicantDeclined:
		return ThreadEffect{}, nil // idempotent
	default:
		return ThreadEffect{}, ErrConflict
	}
	fee := CurrentFee(g, performerID)
	rec.Status = ApplicantDeclined
	return ThreadEffect{Patch: &StatusPatch{
		Types:   OfferTypes(),
		Status:  StatusDeclined,
		Summary: fmt.Sprintf("The fee of %s was declined by the %s.", FormatFee(fee), declinedBy),
	}}, nil
}

// Withdraw removes the performer's bid. Not allowed once the slot is theirs.
func (g *Gig) Withdraw(performerID uuid.UUID, now time.Time) (ThreadEffect, error) {
	if err := g.guard(now); err != nil {
		return ThreadEffect{}, err
	}
	rec := g.applicant(performerID)
	if rec == nil {
		return ThreadEffect{}, ErrNotFound
	}
	switch rec.Status {
	case ApplicantAccepted, ApplicantConfirmed, ApplicantPaid:
		return ThreadEffect{}, ErrAlreadyConfirmed
	case ApplicantWithdrawn:
		return ThreadEffect{}, nil // idempotent
	}
	rec.Status = ApplicantWithdrawn
	return ThreadEffect{Patch: &StatusPatch{
		Types:   OfferTypes(),
		Status:  StatusWithdrawn,
		Summary: "The application has been withdrawn.",
	}}, nil
}

// CancelOutcome carries what the escrow side must compensate and which
// applicants were reopened.
type CancelOutcome struct {
	// RefundRequired is set when funds were captured and not yet released.
	RefundRequired     bool
	PaymentRef         string
	ReopenedApplicants []uuid.UUID
	CancelledApplicant uuid.UUID
	// Effect goes to the canceller's own thread; ReopenEffect to every
	// reopened applicant's thread.
	Effect       ThreadEffect
	ReopenEffect ThreadEffect
}

// Cancel tears down a confirmed booking: the cancelling performer's record
// moves to cancelled, the other live applicants revert to pending, payment
// and dispute bookkeeping is wiped and the gig reopens. The structured reason
// is kept on the gig.
func (g *Gig) Cancel(performerID uuid.UUID, reason string, now time.Time) (CancelOutcome, error) {
	if err := g.guard(now); err != nil {
		return CancelOutcome{}, err
	}
	rec := g.applicant(performerID)
	if rec == nil {
		return CancelOutcome{}, ErrNotFound
	}
	switch rec.Status {
	case ApplicantAccepted, ApplicantConfirmed, ApplicantPaid:
	default:
		return CancelOutcome{}, ErrNotConfirmed
	}
	out := CancelOutcome{
		RefundRequired:     g.Paid && g.PaymentRef != "",
		PaymentRef:         g.PaymentRef,
		CancelledApplicant: performerID,
	}

	rec.Status = ApplicantCancelled
	for i := range g.Applicants {
		a := &g.Applicants[i]
		if a.ID == performerID || a.Status == ApplicantWithdrawn || a.Status == ApplicantCancelled {
			continue
		}
		a.Status = ApplicantPending
		out.ReopenedApplicants = append(out.ReopenedApplicants, a.ID)
	}

	g.AgreedFeePence = 0
	g.Paid = false
	g.PaymentRef = ""
	g.DisputeClearingTime = time.Time{}
	g.DisputeLogged = false
	g.Status = GigOpen
	g.CancellationReason = reason

	out.Effect = ThreadEffect{Append: &MessageDraft{
		SenderID: SystemSender,
		Type:     MessageAnnouncement,
		Status:   StatusCancelled,
		Text:     fmt.Sprintf("The booking has been cancelled: %s.", reason),
	}}
	out.ReopenEffect = ThreadEffect{Append: &MessageDraft{
		SenderID: SystemSender,
		Type:     MessageAnnouncement,
		Status:   StatusReopened,
		Text:     "This gig has reopened. Applications are open again.",
	}}
	return out, nil
}

// ConfirmPayment finalizes the payable accept path after a successful capture:
// accepted becomes confirmed, the gig closes paid, and the dispute window is
// anchored to the performance end.
func (g *Gig) ConfirmPayment(performerID uuid.UUID, paymentRef string, disputeWindow time.Duration) (ThreadEffect, error) {
	rec := g.applicant(performerID)
	if rec == nil {
		return ThreadEffect{}, ErrNotFound
	}
	if rec.Status != ApplicantAccepted {
		return ThreadEffect{}, ErrConflict
	}
	rec.Status = ApplicantConfirmed
	g.Paid = true
	g.PaymentRef = paymentRef
	g.Status = GigClosed
	g.DisputeClearingTime = g.EndsAt().Add(disputeWindow)
	g.DisputeLogged = false
	text := fmt.Sprintf("The fee of %s has been paid by the venue. The gig is now confirmed.", FormatFee(g.AgreedFeePence))
	return ThreadEffect{
		Patch: &StatusPatch{
			Types:   []MessageType{MessageAnnouncement},
			Status:  StatusGigConfirmed,
			Summary: text,
		},
	}, nil
}

// RevertAcceptance compensates a capture the processor reported dead:
// payment bookkeeping is cleared and the winner drops back to negotiating so
// the slot can be accepted again.
func (g *Gig) RevertAcceptance() {
	g.Paid = false
	g.PaymentRef = ""
	for i := range g.Applicants {
		if g.Applicants[i].Status == ApplicantAccepted {
			g.Applicants[i].Status = ApplicantNegotiating
		}
	}
}

// FileDispute flags the gig inside the dispute window, freezing escrow
// release. The window opens at performance end and closes at the clearing
// time.
func (g *Gig) FileDispute(by Sender, now time.Time) (ThreadEffect, error) {
	if g.DisputeClearingTime.IsZero() {
		return ThreadEffect{}, ErrNotConfirmed
	}
	if now.Before(g.EndsAt()) {
		return ThreadEffect{}, ErrWindowNotOpen
	}
	if !now.Before(g.DisputeClearingTime) {
		return ThreadEffect{}, ErrEscrowFinalized
	}
	if g.DisputeLogged {
		return ThreadEffect{}, nil // idempotent
	}
	g.DisputeLogged = true
	return ThreadEffect{Append: &MessageDraft{
		SenderID: SystemSender,
		Type:     MessageAnnouncement,
		Status:   StatusDispute,
		Text:     fmt.Sprintf("The %s has reported this gig. The gig fee is withheld until the dispute is resolved.", by),
	}}, nil
}

// MarkApplicantsViewed flags every applicant record as seen by the venue.
func (g *Gig) MarkApplicantsViewed() {
	for i := range g.Applicants {
		g.Applicants[i].Viewed = true
	}
}
