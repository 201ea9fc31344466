package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Fees are carried as pence. User-entered fee text arrives in free form
// ("£100", "110.50", " 95 ") and must be normalized before it touches a gig.

// ParseFee normalizes fee text to pence. Non-numeric text or a fee of zero
// or less is ErrInvalidFee.
func ParseFee(text string) (int64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidFee
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidFee
	}
	pence := int64(f*100 + 0.5)
	if pence <= 0 {
		return 0, ErrInvalidFee
	}
	return pence, nil
}

// FormatFee renders pence as display text. Whole pounds drop the decimals.
func FormatFee(pence int64) string {
	if pence%100 == 0 {
		return fmt.Sprintf("£%d", pence/100)
	}
	return fmt.Sprintf("£%d.%02d", pence/100, pence%100)
}

// CurrentFee returns the fee in play for an applicant: the latest offer on the
// record, falling back to the gig budget when the applicant has never named a
// figure. This is the value Accept binds into AgreedFee.
func CurrentFee(g *Gig, applicantID uuid.UUID) int64 {
	for i := range g.Applicants {
		if g.Applicants[i].ID == applicantID && g.Applicants[i].FeePence > 0 {
			return g.Applicants[i].FeePence
		}
	}
	return g.BudgetPence
}

// ProposeFee validates a counter-offer. The returned value is the new current
// fee; the previous fee is reported back so negotiation messages can carry the
// old/new pair.
func ProposeFee(currentFee int64, proposedText string) (oldFee, newFee int64, err error) {
	pence, err := ParseFee(proposedText)
	if err != nil {
		return 0, 0, err
	}
	return currentFee, pence, nil
}
