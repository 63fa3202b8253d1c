package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DefaultDenomination is the native unit rewards are issued in unless the
// issuer's deployment configures another one.
const DefaultDenomination = "SOL"

// Status tracks the reward lifecycle. Transitions are one-way out of
// StatusPending; a settled reward never becomes pending again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRedeemed Status = "redeemed"
	StatusFailed   Status = "failed"
)

var (
	// ErrNotFound is returned when no reward matches the lookup.
	ErrNotFound = errors.New("ledger: reward not found")
	// ErrDuplicatePending is returned when the issuer already has a pending
	// reward for the same recipient on the same thread.
	ErrDuplicatePending = errors.New("ledger: pending reward already exists for this thread and parties")
	// ErrAlreadySettled is returned when a transition is attempted on a
	// reward that has left the pending state.
	ErrAlreadySettled = errors.New("ledger: reward already settled")
)

// Reward is a persisted obligation from an issuer to pay an amount to a
// recipient. All fields except Destination, Status, Proof, and SettledAt are
// immutable after creation.
type Reward struct {
	ID           string     `json:"id"`
	Repository   string     `json:"repository"`
	PullRequest  int        `json:"pullRequest"`
	Amount       string     `json:"amount"`
	Denomination string     `json:"denomination"`
	Issuer       string     `json:"issuer"`
	Recipient    string     `json:"recipient"`
	Destination  string     `json:"destination,omitempty"`
	Status       Status     `json:"status"`
	Proof        string     `json:"proof,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	SettledAt    *time.Time `json:"settledAt,omitempty"`
}

// WalletLink maps a platform identity to its last-seen payout destination.
// The link is advisory; the destination supplied with a redemption request
// is authoritative and overwrites it.
type WalletLink struct {
	Login       string    `json:"login"`
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateParams carries the immutable fields of a new reward.
type CreateParams struct {
	Repository   string
	PullRequest  int
	Amount       string
	Denomination string
	Issuer       string
	Recipient    string
}

func (p CreateParams) validate() error {
	if strings.TrimSpace(p.Repository) == "" {
		return errors.New("repository is required")
	}
	if p.PullRequest <= 0 {
		return errors.New("pull request number must be positive")
	}
	if strings.TrimSpace(p.Issuer) == "" {
		return errors.New("issuer is required")
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return errors.New("recipient is required")
	}
	if err := validateAmount(p.Amount); err != nil {
		return err
	}
	return nil
}

func validateAmount(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("amount is required")
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("amount %q is not a decimal number", raw)
	}
	if value.Sign() <= 0 {
		return fmt.Errorf("amount %q must be positive", raw)
	}
	return nil
}
