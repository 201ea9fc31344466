package payments

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/giginhq/gig-settlement/internal/domain"
)

// Processor is the escrow contract with the external payment provider. Card
// authorization internals stay on the provider's side; the engine only sees
// capture, release and refund.
type Processor interface {
	// Capture places the gig fee on hold and returns the provider reference.
	Capture(ctx context.Context, gigID string, amountPence int64) (string, error)
	// Release credits held funds to the performer.
	Release(ctx context.Context, paymentRef string) error
	// Refund returns held funds to the venue.
	Refund(ctx context.Context, paymentRef string) error
}

// TransientError wraps provider failures worth retrying. Anything else from
// the processor is terminal and surfaces as ErrPaymentFailed.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Retry runs fn with exponential backoff on transient errors. A terminal
// error is returned immediately, joined with ErrPaymentFailed so callers can
// match either the sentinel or the provider's cause.
func Retry(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return errors.Join(domain.ErrPaymentFailed, err)
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Join(domain.ErrPaymentFailed, err)
}
