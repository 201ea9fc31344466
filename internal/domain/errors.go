package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrStaleVersion       = errors.New("stale version")
	ErrInvalidFee         = errors.New("invalid fee")
	ErrGigClosed          = errors.New("gig closed")
	ErrPastGig            = errors.New("gig start has passed")
	ErrDuplicateApplicant = errors.New("applicant already exists")
	ErrAlreadyConfirmed   = errors.New("gig already confirmed")
	ErrAppsClosed         = errors.New("applications closed")
	ErrNotConfirmed       = errors.New("applicant not confirmed")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrWindowNotOpen      = errors.New("dispute window not open")
	ErrEscrowFinalized    = errors.New("escrow already finalized")
)
