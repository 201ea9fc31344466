package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testGig() *Gig {
	return &Gig{
		ID:          uuid.New(),
		VenueID:     uuid.New(),
		StartsAt:    testNow.Add(72 * time.Hour),
		Duration:    2 * time.Hour,
		Kind:        KindStandard,
		BudgetPence: 10000,
		Status:      GigOpen,
		Version:     1,
	}
}

func mustApply(t *testing.T, g *Gig, fee int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := g.Apply(id, fee, testNow); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestApply(t *testing.T) {
	g := testGig()
	performer := uuid.New()

	eff, err := g.Apply(performer, 10000, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if eff.Append == nil || eff.Append.Type != MessageApplication || eff.Append.Status != StatusPending {
		t.Errorf("expected pending application message, got %+v", eff.Append)
	}
	if len(g.Applicants) != 1 || g.Applicants[0].Status != ApplicantPending || g.Applicants[0].SentBy != SenderMusician {
		t.Errorf("unexpected applicant record %+v", g.Applicants)
	}

	if _, err := g.Apply(performer, 10000, testNow); !errors.Is(err, ErrDuplicateApplicant) {
		t.Errorf("expected ErrDuplicateApplicant, got %v", err)
	}

	g.Status = GigClosed
	if _, err := g.Apply(uuid.New(), 10000, testNow); !errors.Is(err, ErrGigClosed) {
		t.Errorf("expected ErrGigClosed, got %v", err)
	}
}

func TestApply_RevivesWithdrawnRecord(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Withdraw(performer, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Apply(performer, 11000, testNow); err != nil {
		t.Fatal(err)
	}
	if len(g.Applicants) != 1 || g.Applicants[0].Status != ApplicantPending || g.Applicants[0].FeePence != 11000 {
		t.Errorf("expected revived record, got %+v", g.Applicants)
	}
}

func TestPastGigRejectsEveryTransition(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	late := g.StartsAt.Add(time.Minute)

	if _, err := g.Apply(uuid.New(), 10000, late); !errors.Is(err, ErrPastGig) {
		t.Errorf("apply: expected ErrPastGig, got %v", err)
	}
	if _, err := g.Invite(uuid.New(), late); !errors.Is(err, ErrPastGig) {
		t.Errorf("invite: expected ErrPastGig, got %v", err)
	}
	if _, err := g.Negotiate(performer, SenderMusician, "£120", late); !errors.Is(err, ErrPastGig) {
		t.Errorf("negotiate: expected ErrPastGig, got %v", err)
	}
	if _, err := g.Accept(performer, SenderVenue, late); !errors.Is(err, ErrPastGig) {
		t.Errorf("accept: expected ErrPastGig, got %v", err)
	}
	if _, err := g.Decline(performer, SenderVenue, late); !errors.Is(err, ErrPastGig) {
		t.Errorf("decline: expected ErrPastGig, got %v", err)
	}
	if g.Applicants[0].Status != ApplicantPending {
		t.Errorf("rejected transitions must not mutate, got %v", g.Applicants[0].Status)
	}
}

func TestAccept_AtBudget(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	other := mustApply(t, g, 9000)

	out, err := g.Accept(performer, SenderVenue, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if out.AgreedFeePence != 10000 {
		t.Errorf("agreed fee = %d, want 10000", out.AgreedFeePence)
	}
	if !out.Payable {
		t.Error("standard budgeted gig must be payable")
	}
	if g.Applicants[0].Status != ApplicantAccepted {
		t.Errorf("winner status = %v", g.Applicants[0].Status)
	}
	if g.Applicants[1].Status != ApplicantDeclined {
		t.Errorf("competitor status = %v", g.Applicants[1].Status)
	}
	if len(out.ClosedApplicants) != 1 || out.ClosedApplicants[0] != other {
		t.Errorf("closed applicants = %v", out.ClosedApplicants)
	}
}

func TestAccept_NegotiationHistory(t *testing.T) {
	// Counter at £120, venue declines, re-counter at £110, venue accepts.
	g := testGig()
	performer := mustApply(t, g, 10000)

	if _, err := g.Negotiate(performer, SenderMusician, "£120", testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Decline(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Negotiate(performer, SenderMusician, "£110", testNow); err != nil {
		t.Fatal(err)
	}
	out, err := g.Accept(performer, SenderVenue, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if out.AgreedFeePence != 11000 {
		t.Errorf("agreed fee = %d, want 11000", out.AgreedFeePence)
	}
}

func TestAccept_SecondApplicantConflicts(t *testing.T) {
	g := testGig()
	first := mustApply(t, g, 10000)
	second := mustApply(t, g, 9000)

	if _, err := g.Accept(first, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Accept(second, SenderVenue, testNow); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("expected ErrAlreadyConfirmed, got %v", err)
	}
}

func TestAccept_IdempotentForWinner(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Accept(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.ConfirmPayment(performer, "pi_123", 48*time.Hour); err != nil {
		t.Fatal(err)
	}
	out, err := g.Accept(performer, SenderVenue, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if out.AgreedFeePence != 10000 || out.Payable {
		t.Errorf("re-accept of the confirmed winner must be a no-op, got %+v", out)
	}
}

func TestAccept_RepeatWhileUnpaidStaysPayable(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Accept(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}

	// Capture failed terminally; the record is accepted but unpaid. A second
	// accept must surface another capture attempt, not a silent no-op.
	out, err := g.Accept(performer, SenderVenue, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Payable || out.AgreedFeePence != 10000 {
		t.Errorf("repeat accept of unpaid slot must stay payable, got %+v", out)
	}
	if out.Effect.Append != nil || out.Effect.Patch != nil {
		t.Errorf("repeat accept must not touch the thread: %+v", out.Effect)
	}
	if g.Applicants[0].Status != ApplicantAccepted {
		t.Errorf("applicant record changed: %+v", g.Applicants[0])
	}
}

func TestRevertAcceptance_ReturnsWinnerToNegotiating(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Accept(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}

	g.RevertAcceptance()
	if g.Applicants[0].Status != ApplicantNegotiating {
		t.Errorf("winner not returned to negotiating: %+v", g.Applicants[0])
	}
	if g.Paid || g.PaymentRef != "" {
		t.Errorf("payment bookkeeping not cleared: paid=%v ref=%q", g.Paid, g.PaymentRef)
	}

	out, err := g.Accept(performer, SenderVenue, testNow)
	if err != nil {
		t.Fatalf("accept after revert: %v", err)
	}
	if !out.Payable {
		t.Errorf("reverted slot must be payable again, got %+v", out)
	}
}

func TestAccept_OpenMicKeepsCompetitors(t *testing.T) {
	g := testGig()
	g.Kind = KindOpenMic
	g.BudgetPence = 0
	first := mustApply(t, g, 0)
	second := mustApply(t, g, 0)

	out, err := g.Accept(first, SenderVenue, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if out.Payable {
		t.Error("open-mic accept must not be payable")
	}
	if !g.Paid {
		t.Error("non-payable accept marks the gig paid immediately")
	}
	if len(out.ClosedApplicants) != 0 {
		t.Errorf("open-mic must not close competitors, got %v", out.ClosedApplicants)
	}
	if _, err := g.Accept(second, SenderVenue, testNow); err != nil {
		t.Errorf("open-mic second accept: %v", err)
	}
	confirmed := 0
	for _, a := range g.Applicants {
		if a.Status == ApplicantConfirmed {
			confirmed++
		}
	}
	if confirmed != 2 {
		t.Errorf("expected 2 confirmed applicants, got %d", confirmed)
	}
}

func TestSingleSlotHoldsOneConfirmed(t *testing.T) {
	g := testGig()
	ids := []uuid.UUID{mustApply(t, g, 10000), mustApply(t, g, 9500), mustApply(t, g, 9000)}
	if _, err := g.Accept(ids[1], SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	held := 0
	for _, a := range g.Applicants {
		switch a.Status {
		case ApplicantAccepted, ApplicantConfirmed, ApplicantPaid:
			held++
		}
	}
	if held != 1 {
		t.Errorf("expected exactly one applicant holding the slot, got %d", held)
	}
}

func TestNegotiate_AfterVenueDecline(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Decline(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	eff, err := g.Negotiate(performer, SenderMusician, "£110", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if eff.Append == nil || eff.Append.OldFee != 10000 || eff.Append.NewFee != 11000 {
		t.Errorf("unexpected negotiation message %+v", eff.Append)
	}
	if eff.Patch == nil || eff.Patch.Status != StatusCountered {
		t.Errorf("expected countered patch, got %+v", eff.Patch)
	}
}

func TestNegotiate_BlockedOnceConfirmed(t *testing.T) {
	g := testGig()
	winner := mustApply(t, g, 10000)
	loser := mustApply(t, g, 9000)
	if _, err := g.Accept(winner, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Negotiate(loser, SenderMusician, "£80", testNow); !errors.Is(err, ErrAppsClosed) {
		t.Errorf("expected ErrAppsClosed, got %v", err)
	}
}

func TestNegotiate_InvalidFee(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Negotiate(performer, SenderMusician, "lots", testNow); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("expected ErrInvalidFee, got %v", err)
	}
	if g.Applicants[0].FeePence != 10000 {
		t.Error("rejected proposal must not mutate the record")
	}
}

func TestWithdraw(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Withdraw(performer, testNow); err != nil {
		t.Fatal(err)
	}
	if g.Applicants[0].Status != ApplicantWithdrawn {
		t.Errorf("status = %v", g.Applicants[0].Status)
	}

	g2 := testGig()
	p2 := mustApply(t, g2, 10000)
	if _, err := g2.Accept(p2, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g2.Withdraw(p2, testNow); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("expected ErrAlreadyConfirmed, got %v", err)
	}
}

func TestConfirmPayment(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Accept(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	eff, err := g.ConfirmPayment(performer, "pi_123", 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if g.Applicants[0].Status != ApplicantConfirmed || !g.Paid || g.Status != GigClosed {
		t.Errorf("gig not finalized: %+v", g)
	}
	want := g.EndsAt().Add(48 * time.Hour)
	if !g.DisputeClearingTime.Equal(want) {
		t.Errorf("dispute clearing time = %v, want %v", g.DisputeClearingTime, want)
	}
	if eff.Patch == nil || eff.Patch.Status != StatusGigConfirmed {
		t.Errorf("expected gig confirmed patch, got %+v", eff.Patch)
	}

	if _, err := g.ConfirmPayment(performer, "pi_123", 48*time.Hour); !errors.Is(err, ErrConflict) {
		t.Errorf("double finalize: expected ErrConflict, got %v", err)
	}
}

func TestCancel_ReopensGig(t *testing.T) {
	g := testGig()
	winner := mustApply(t, g, 10000)
	loser := mustApply(t, g, 9000)
	if _, err := g.Accept(winner, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.ConfirmPayment(winner, "pi_123", 48*time.Hour); err != nil {
		t.Fatal(err)
	}

	out, err := g.Cancel(winner, "venue double-booked", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !out.RefundRequired || out.PaymentRef != "pi_123" {
		t.Errorf("expected refund of pi_123, got %+v", out)
	}
	if g.Status != GigOpen || g.Paid || g.AgreedFeePence != 0 {
		t.Errorf("gig not reverted: %+v", g)
	}
	if !g.DisputeClearingTime.IsZero() || g.DisputeLogged {
		t.Error("dispute bookkeeping must be wiped on cancel")
	}
	if len(g.Applicants) != 2 {
		t.Fatalf("expected both records kept, got %+v", g.Applicants)
	}
	for _, a := range g.Applicants {
		switch a.ID {
		case winner:
			if a.Status != ApplicantCancelled {
				t.Errorf("canceller status = %s", a.Status)
			}
		case loser:
			if a.Status != ApplicantPending {
				t.Errorf("loser not reopened: %s", a.Status)
			}
		}
	}
	if len(out.ReopenedApplicants) != 1 || out.ReopenedApplicants[0] != loser {
		t.Errorf("reopened = %+v", out.ReopenedApplicants)
	}
	if g.CancellationReason != "venue double-booked" {
		t.Errorf("reason = %q", g.CancellationReason)
	}

	if _, err := g.Cancel(loser, "x", testNow); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("cancel from pending: expected ErrNotConfirmed, got %v", err)
	}
}

func TestFileDispute(t *testing.T) {
	g := testGig()
	performer := mustApply(t, g, 10000)
	if _, err := g.Accept(performer, SenderVenue, testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := g.FileDispute(SenderVenue, testNow); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("dispute before confirmation: expected ErrNotConfirmed, got %v", err)
	}
	if _, err := g.ConfirmPayment(performer, "pi_123", 48*time.Hour); err != nil {
		t.Fatal(err)
	}

	// Confirmed but the performance has not happened yet.
	if _, err := g.FileDispute(SenderVenue, testNow); !errors.Is(err, ErrWindowNotOpen) {
		t.Errorf("dispute before performance end: expected ErrWindowNotOpen, got %v", err)
	}

	inWindow := g.EndsAt().Add(time.Hour)
	eff, err := g.FileDispute(SenderVenue, inWindow)
	if err != nil {
		t.Fatal(err)
	}
	if !g.DisputeLogged || eff.Append == nil || eff.Append.Status != StatusDispute {
		t.Errorf("dispute not recorded, effect %+v", eff)
	}
	// Idempotent inside the window.
	if _, err := g.FileDispute(SenderMusician, inWindow); err != nil {
		t.Errorf("repeat dispute: %v", err)
	}

	g.DisputeLogged = false
	afterWindow := g.DisputeClearingTime.Add(time.Minute)
	if _, err := g.FileDispute(SenderVenue, afterWindow); !errors.Is(err, ErrEscrowFinalized) {
		t.Errorf("dispute after window: expected ErrEscrowFinalized, got %v", err)
	}
}
