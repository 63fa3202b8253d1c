package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the sole writer of reward and wallet records. Every status
// transition is an atomic compare-and-swap on the pending state so racing
// writers resolve to exactly one winner.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open initialises the SQLite-backed ledger at the supplied path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("ledger: database path must be configured")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	// SQLite permits a single writer; funnel all access through one
	// connection so concurrent transitions queue instead of failing busy.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS rewards (
            id TEXT PRIMARY KEY,
            repository TEXT NOT NULL,
            pull_request INTEGER NOT NULL,
            amount TEXT NOT NULL,
            denomination TEXT NOT NULL,
            issuer TEXT NOT NULL,
            recipient TEXT NOT NULL,
            destination TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            proof TEXT,
            created_at TIMESTAMP NOT NULL,
            settled_at TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rewards_open_once
            ON rewards(repository, pull_request, issuer, recipient)
            WHERE status = 'pending';`,
		`CREATE INDEX IF NOT EXISTS rewards_by_recipient
            ON rewards(recipient, status);`,
		`CREATE TABLE IF NOT EXISTS wallets (
            login TEXT PRIMARY KEY,
            destination TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: apply schema: %w", err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const rewardColumns = `id, repository, pull_request, amount, denomination, issuer, recipient, destination, status, proof, created_at, settled_at`

// Create persists a new pending reward. The partial unique index on open
// rewards is the compare-and-insert primitive: of two racing creates for the
// same (repository, pull request, issuer, recipient) tuple exactly one
// succeeds and the other observes ErrDuplicatePending.
func (s *Store) Create(ctx context.Context, params CreateParams) (Reward, error) {
	if err := params.validate(); err != nil {
		return Reward{}, fmt.Errorf("ledger: create reward: %w", err)
	}
	denomination := strings.TrimSpace(params.Denomination)
	if denomination == "" {
		denomination = DefaultDenomination
	}
	reward := Reward{
		ID:           uuid.NewString(),
		Repository:   strings.TrimSpace(params.Repository),
		PullRequest:  params.PullRequest,
		Amount:       strings.TrimSpace(params.Amount),
		Denomination: denomination,
		Issuer:       strings.TrimSpace(params.Issuer),
		Recipient:    strings.TrimSpace(params.Recipient),
		Status:       StatusPending,
		CreatedAt:    s.now().UTC(),
	}
	const stmt = `INSERT INTO rewards(id, repository, pull_request, amount, denomination, issuer, recipient, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		reward.ID, reward.Repository, reward.PullRequest, reward.Amount, reward.Denomination,
		reward.Issuer, reward.Recipient, string(reward.Status), reward.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Reward{}, ErrDuplicatePending
		}
		return Reward{}, fmt.Errorf("ledger: insert reward: %w", err)
	}
	return reward, nil
}

// FindByID fetches a reward regardless of status.
func (s *Store) FindByID(ctx context.Context, id string) (Reward, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, strings.TrimSpace(id))
	return scanReward(row)
}

// FindOpenByLocation returns the newest pending reward on a thread. A thread
// may hold pending rewards from several issuer/recipient pairs; callers that
// need a specific pair use FindOpenByParties.
func (s *Store) FindOpenByLocation(ctx context.Context, repository string, pullRequest int) (Reward, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards
        WHERE repository = ? AND pull_request = ? AND status = ?
        ORDER BY created_at DESC, id DESC LIMIT 1`,
		strings.TrimSpace(repository), pullRequest, string(StatusPending))
	return scanReward(row)
}

// FindOpenByParties returns the single pending reward a given issuer holds
// open for a recipient on a thread.
func (s *Store) FindOpenByParties(ctx context.Context, repository string, pullRequest int, issuer, recipient string) (Reward, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards
        WHERE repository = ? AND pull_request = ? AND issuer = ? AND recipient = ? AND status = ?
        LIMIT 1`,
		strings.TrimSpace(repository), pullRequest, strings.TrimSpace(issuer), strings.TrimSpace(recipient), string(StatusPending))
	return scanReward(row)
}

// FindPendingByRecipient lists a recipient's pending rewards, newest first.
func (s *Store) FindPendingByRecipient(ctx context.Context, recipient string) ([]Reward, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rewardColumns+` FROM rewards
        WHERE recipient = ? AND status = ?
        ORDER BY created_at DESC, id DESC`,
		strings.TrimSpace(recipient), string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("ledger: query rewards: %w", err)
	}
	defer rows.Close()
	var rewards []Reward
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, reward)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate rewards: %w", err)
	}
	return rewards, nil
}

// BeginRedemption records the payout destination on a pending reward without
// changing its status, so a failed payout leaves the reward retryable.
func (s *Store) BeginRedemption(ctx context.Context, id, destination string) (Reward, error) {
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return Reward{}, errors.New("ledger: destination is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET destination = ? WHERE id = ? AND status = ?`,
		dest, strings.TrimSpace(id), string(StatusPending))
	if err != nil {
		return Reward{}, fmt.Errorf("ledger: begin redemption: %w", err)
	}
	if err := s.requireTransition(ctx, res, id); err != nil {
		return Reward{}, err
	}
	return s.FindByID(ctx, id)
}

// CommitRedemption moves a pending reward to redeemed and records the
// settlement proof. The WHERE clause is the compare-and-swap: a reward that
// already left pending is never mutated.
func (s *Store) CommitRedemption(ctx context.Context, id, proof string) (Reward, error) {
	trimmedProof := strings.TrimSpace(proof)
	if trimmedProof == "" {
		return Reward{}, errors.New("ledger: settlement proof is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET status = ?, proof = ?, settled_at = ? WHERE id = ? AND status = ?`,
		string(StatusRedeemed), trimmedProof, s.now().UTC(), strings.TrimSpace(id), string(StatusPending))
	if err != nil {
		return Reward{}, fmt.Errorf("ledger: commit redemption: %w", err)
	}
	if err := s.requireTransition(ctx, res, id); err != nil {
		return Reward{}, err
	}
	return s.FindByID(ctx, id)
}

// MarkFailed moves a pending reward to the terminal failed state. Used when
// the payout collaborator reports a permanent rejection.
func (s *Store) MarkFailed(ctx context.Context, id string) (Reward, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET status = ?, settled_at = ? WHERE id = ? AND status = ?`,
		string(StatusFailed), s.now().UTC(), strings.TrimSpace(id), string(StatusPending))
	if err != nil {
		return Reward{}, fmt.Errorf("ledger: mark failed: %w", err)
	}
	if err := s.requireTransition(ctx, res, id); err != nil {
		return Reward{}, err
	}
	return s.FindByID(ctx, id)
}

// LinkWallet upserts the identity to destination mapping, last write wins.
func (s *Store) LinkWallet(ctx context.Context, login, destination string) error {
	trimmedLogin := strings.TrimSpace(login)
	trimmedDest := strings.TrimSpace(destination)
	if trimmedLogin == "" || trimmedDest == "" {
		return errors.New("ledger: login and destination are required")
	}
	now := s.now().UTC()
	const stmt = `INSERT INTO wallets(login, destination, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(login) DO UPDATE SET destination = excluded.destination, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, stmt, trimmedLogin, trimmedDest, now, now); err != nil {
		return fmt.Errorf("ledger: link wallet: %w", err)
	}
	return nil
}

// WalletFor returns the stored destination for a login.
func (s *Store) WalletFor(ctx context.Context, login string) (WalletLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT login, destination, created_at, updated_at FROM wallets WHERE login = ?`,
		strings.TrimSpace(login))
	var link WalletLink
	if err := row.Scan(&link.Login, &link.Destination, &link.CreatedAt, &link.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WalletLink{}, ErrNotFound
		}
		return WalletLink{}, fmt.Errorf("ledger: query wallet: %w", err)
	}
	return link, nil
}

// requireTransition disambiguates a zero-row CAS update: the reward either
// does not exist or has already left pending.
func (s *Store) requireTransition(ctx context.Context, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT status FROM rewards WHERE id = ?`, strings.TrimSpace(id))
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ledger: query status: %w", err)
	}
	return ErrAlreadySettled
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReward(row rowScanner) (Reward, error) {
	var reward Reward
	var destination, proof sql.NullString
	var settledAt sql.NullTime
	var status string
	err := row.Scan(&reward.ID, &reward.Repository, &reward.PullRequest, &reward.Amount,
		&reward.Denomination, &reward.Issuer, &reward.Recipient, &destination, &status,
		&proof, &reward.CreatedAt, &settledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reward{}, ErrNotFound
		}
		return Reward{}, fmt.Errorf("ledger: scan reward: %w", err)
	}
	reward.Status = Status(status)
	reward.Destination = destination.String
	reward.Proof = proof.String
	if settledAt.Valid {
		settled := settledAt.Time
		reward.SettledAt = &settled
	}
	return reward, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
