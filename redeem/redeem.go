package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitpay/ledger"
	"gitpay/payout"
)

// ErrRecipientMismatch is returned when the claimant is not the identity the
// reward was issued to.
var ErrRecipientMismatch = errors.New("redeem: claimant is not the reward recipient")

// Ledger is the subset of the reward store the coordinator mutates through.
type Ledger interface {
	FindByID(ctx context.Context, id string) (ledger.Reward, error)
	BeginRedemption(ctx context.Context, id, destination string) (ledger.Reward, error)
	CommitRedemption(ctx context.Context, id, proof string) (ledger.Reward, error)
	MarkFailed(ctx context.Context, id string) (ledger.Reward, error)
	LinkWallet(ctx context.Context, login, destination string) error
}

// Coordinator orchestrates the claim flow: claimant validation, wallet
// linking, the external transfer, and the terminal ledger transition.
//
// At-most-one-payout holds on two levels. Across processes the ledger's
// compare-and-swap transitions admit a single pending exit. Within this
// process an in-flight set keyed by reward id keeps a concurrent claim from
// reaching the payout collaborator while a transfer is outstanding.
type Coordinator struct {
	ledger  Ledger
	payer   payout.Client
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option customises the coordinator.
type Option func(*Coordinator)

// WithMetrics overrides the default (unregistered) metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.now = clock }
}

// NewCoordinator wires a coordinator over the supplied ledger and payout
// client.
func NewCoordinator(store Ledger, payer payout.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:   store,
		payer:    payer,
		metrics:  NewMetrics(nil),
		log:      slog.Default(),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Redeem claims the reward for the claimant and returns the settled record
// carrying the settlement proof. A transient payout failure leaves the
// reward pending and retryable; a definitive rejection moves it to failed.
func (c *Coordinator) Redeem(ctx context.Context, rewardID, claimant, destination string) (ledger.Reward, error) {
	id := strings.TrimSpace(rewardID)
	if id == "" {
		return ledger.Reward{}, errors.New("redeem: reward id is required")
	}
	login := strings.TrimSpace(claimant)
	if login == "" {
		return ledger.Reward{}, errors.New("redeem: claimant identity is required")
	}
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return ledger.Reward{}, errors.New("redeem: destination is required")
	}

	if !c.acquire(id) {
		// Another claim for this id is mid-payout. It will settle the
		// reward one way or the other; this caller must never trigger a
		// second transfer.
		c.metrics.RecordError("in_flight")
		return ledger.Reward{}, ledger.ErrAlreadySettled
	}
	defer c.release(id)

	reward, err := c.ledger.FindByID(ctx, id)
	if err != nil {
		return ledger.Reward{}, err
	}
	if reward.Status != ledger.StatusPending {
		return ledger.Reward{}, ledger.ErrAlreadySettled
	}
	if reward.Recipient != login {
		c.metrics.RecordError("recipient_mismatch")
		return ledger.Reward{}, fmt.Errorf("%w: reward %s belongs to %s", ErrRecipientMismatch, reward.ID, reward.Recipient)
	}

	if err := c.ledger.LinkWallet(ctx, login, dest); err != nil {
		return ledger.Reward{}, err
	}
	reward, err = c.ledger.BeginRedemption(ctx, id, dest)
	if err != nil {
		return ledger.Reward{}, err
	}

	start := c.now()
	proof, err := c.payer.Transfer(ctx, dest, reward.Amount, reward.Denomination)
	if err != nil {
		return ledger.Reward{}, c.settleFailure(ctx, reward, err)
	}
	c.metrics.ObserveLatency(reward.Denomination, c.now().Sub(start))

	settled, err := c.ledger.CommitRedemption(ctx, id, proof)
	if err != nil {
		// The transfer went out but the terminal transition did not land.
		// Surface loudly; the reward stays pending and needs reconciliation
		// against the payment network before any retry.
		c.log.Error("payout sent but commit failed",
			"reward", id, "proof", proof, "error", err)
		c.metrics.RecordError("commit")
		return ledger.Reward{}, fmt.Errorf("redeem: record settlement for %s: %w", id, err)
	}
	c.metrics.RecordSettled(string(ledger.StatusRedeemed))
	c.log.Info("reward redeemed",
		"reward", settled.ID, "amount", settled.Amount,
		"denomination", settled.Denomination, "recipient", settled.Recipient)
	return settled, nil
}

// settleFailure maps a payout failure onto the reward state machine.
func (c *Coordinator) settleFailure(ctx context.Context, reward ledger.Reward, payErr error) error {
	if payout.IsRejected(payErr) {
		if _, err := c.ledger.MarkFailed(ctx, reward.ID); err != nil {
			c.log.Error("mark failed after payout rejection", "reward", reward.ID, "error", err)
		} else {
			c.metrics.RecordSettled(string(ledger.StatusFailed))
		}
		c.metrics.RecordError("rejected")
		c.log.Warn("payout rejected", "reward", reward.ID, "error", payErr)
		return payErr
	}
	// Transient or unknown outcome: never guess success, leave the reward
	// pending for a retry.
	c.metrics.RecordError("transient")
	c.log.Warn("payout failed, reward stays pending", "reward", reward.ID, "error", payErr)
	if payout.IsTransient(payErr) {
		return payErr
	}
	return &payout.TransientError{Err: payErr}
}

func (c *Coordinator) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[id]; busy {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}
