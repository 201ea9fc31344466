package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/giginhq/gig-settlement/internal/domain"
)

// Confirmation fan-out. The applicant array already records the losers as
// declined when these run, so every step here can be replayed idempotently
// from gig state if a patch or notification fails partway.

// closeCompetitors patches each losing applicant's live offer message to
// apps-closed and queues their notification.
func (s *Service) closeCompetitors(ctx context.Context, g *domain.Gig, closed []uuid.UUID) {
	if len(closed) == 0 {
		return
	}
	gr, gctx := errgroup.WithContext(ctx)
	for _, applicantID := range closed {
		applicantID := applicantID
		gr.Go(func() error {
			conv, err := s.convs.Ensure(gctx, g.ID, g.VenueID, applicantID)
			if err != nil {
				return errors.Wrapf(err, "conversation for applicant %s", applicantID)
			}
			patch := domain.StatusPatch{
				Types:   domain.OfferTypes(),
				Status:  domain.StatusAppsClosed,
				Summary: "This gig has been confirmed with another performer.",
			}
			if err := s.convs.PatchLatest(gctx, conv.ID, patch); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return errors.Wrapf(err, "patch conversation %s", conv.ID)
			}
			s.notify(gctx, Event{Type: "applicant.declined", GigID: g.ID, Subject: applicantID,
				Payload: map[string]interface{}{"reason": "apps-closed"}})
			return nil
		})
	}
	if err := gr.Wait(); err != nil {
		// Declared-but-unmessaged applicants are reconciled on the next
		// read of the thread; the confirmation itself stands.
		s.logger.WithField("gig_id", g.ID.String()).Error("competitor close fan-out incomplete", err)
	}
}

// reopenConversations reverts apps-closed offer messages to pending for every
// reopened applicant and posts the reopen announcement in each thread.
func (s *Service) reopenConversations(ctx context.Context, g *domain.Gig, out domain.CancelOutcome) {
	gr, gctx := errgroup.WithContext(ctx)
	for _, applicantID := range out.ReopenedApplicants {
		applicantID := applicantID
		gr.Go(func() error {
			conv, err := s.convs.Ensure(gctx, g.ID, g.VenueID, applicantID)
			if err != nil {
				return err
			}
			patch := domain.StatusPatch{
				Types:   domain.OfferTypes(),
				Status:  domain.StatusPending,
				Summary: "This gig has reopened. Applications are open again.",
			}
			if err := s.convs.PatchLatest(gctx, conv.ID, patch); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if out.ReopenEffect.Append != nil {
				if _, err := s.convs.Append(gctx, conv.ID, *out.ReopenEffect.Append); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := gr.Wait(); err != nil {
		s.logger.WithField("gig_id", g.ID.String()).Error("reopen fan-out incomplete", err)
	}
}
