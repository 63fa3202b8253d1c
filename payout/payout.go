package payout

import (
	"context"
	"errors"
	"fmt"
)

// Client abstracts the payment network. Transfer has a real-world financial
// side effect and is not idempotent; callers own the at-most-once guarantee.
type Client interface {
	// Transfer sends amount of denomination to destination and returns the
	// settlement proof evidencing the completed transfer.
	Transfer(ctx context.Context, destination, amount, denomination string) (string, error)
	// ReserveBalance reports the spendable balance of the reserve wallet.
	ReserveBalance(ctx context.Context) (Balance, error)
}

// Balance is a reserve snapshot.
type Balance struct {
	Amount       string `json:"amount"`
	Denomination string `json:"denomination"`
}

// TransientError marks a payout failure with an unknown or retryable
// outcome: transport faults, timeouts, malformed responses. The reward must
// stay pending so the transfer can be retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("payout: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError marks a definitive rejection from the payment network: the
// destination or request is permanently invalid and retrying cannot help.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payout: rejected (code %d): %s", e.Code, e.Message)
}

// IsTransient reports whether err is a retryable payout failure.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsRejected reports whether err is a permanent payout rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
