package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gitpay/command"
	"gitpay/forge"
	"gitpay/ledger"
)

// ErrRecipientNotFound is returned when the pull request author cannot be
// resolved on the platform.
var ErrRecipientNotFound = errors.New("intake: recipient identity not found")

// ErrInvalidEvent is returned when a payload passes JSON decoding but lacks
// fields the pipeline requires.
var ErrInvalidEvent = errors.New("intake: invalid event")

// actionCreated is the only comment action that triggers processing; edits
// and deletions are ignored.
const actionCreated = "created"

// CommentEvent mirrors the discussion-comment webhook payload. Every field
// is treated as untrusted input and validated before use.
type CommentEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number int `json:"number"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// Result reports what the intake did with an event. Ignored results carry a
// reason; accepted results carry the created reward.
type Result struct {
	Ignored bool           `json:"ignored"`
	Reason  string         `json:"reason,omitempty"`
	Reward  *ledger.Reward `json:"reward,omitempty"`
}

func ignored(reason string) Result {
	return Result{Ignored: true, Reason: reason}
}

// RewardCreator is the slice of the ledger the intake writes through.
type RewardCreator interface {
	Create(ctx context.Context, params ledger.CreateParams) (ledger.Reward, error)
}

// Intake filters discussion events down to authorized /pay commands and
// turns them into pending rewards.
type Intake struct {
	gate         *Gate
	rewards      RewardCreator
	identity     forge.IdentityClient
	notify       forge.NotifyClient
	denomination string
	log          *slog.Logger
}

// New wires the intake pipeline. denomination applies to every reward the
// intake creates; empty selects the ledger default.
func New(gate *Gate, rewards RewardCreator, identity forge.IdentityClient, notify forge.NotifyClient, denomination string, log *slog.Logger) *Intake {
	if log == nil {
		log = slog.Default()
	}
	return &Intake{
		gate:         gate,
		rewards:      rewards,
		identity:     identity,
		notify:       notify,
		denomination: strings.TrimSpace(denomination),
		log:          log,
	}
}

// HandleCommentEvent processes one discussion event end to end: filter,
// parse, authorize, resolve the recipient, create the reward, notify.
// Unauthorized issuers get an ignored result plus a best-effort denial
// comment; no ledger mutation happens for them.
func (i *Intake) HandleCommentEvent(ctx context.Context, event CommentEvent) (Result, error) {
	if event.Issue.PullRequest == nil {
		return ignored("not a pull request comment"), nil
	}
	if event.Action != actionCreated {
		return ignored("not a new comment"), nil
	}
	pay, found := command.ParsePay(event.Comment.Body)
	if !found {
		return ignored("no pay command"), nil
	}

	repo, issuer, recipient, number, err := i.validateEvent(event)
	if err != nil {
		return Result{}, err
	}

	if !i.gate.Authorized(ctx, repo, issuer) {
		i.log.Info("reward denied, issuer not authorized",
			"repository", repo.String(), "pull_request", number, "issuer", issuer)
		i.post(ctx, repo, number, denialComment(issuer))
		return ignored("issuer not authorized"), nil
	}

	resolved, err := i.identity.ResolveUser(ctx, recipient)
	if err != nil {
		if errors.Is(err, forge.ErrUserNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrRecipientNotFound, recipient)
		}
		return Result{}, fmt.Errorf("intake: resolve recipient %s: %w", recipient, err)
	}

	reward, err := i.rewards.Create(ctx, ledger.CreateParams{
		Repository:   repo.String(),
		PullRequest:  number,
		Amount:       pay.Amount,
		Denomination: i.denomination,
		Issuer:       issuer,
		Recipient:    resolved.Login,
	})
	if err != nil {
		return Result{}, err
	}
	i.log.Info("reward created",
		"reward", reward.ID, "repository", reward.Repository, "pull_request", reward.PullRequest,
		"amount", reward.Amount, "issuer", reward.Issuer, "recipient", reward.Recipient)
	i.post(ctx, repo, number, confirmationComment(reward))
	return Result{Reward: &reward}, nil
}

// validateEvent checks the untrusted payload fields the pipeline relies on.
func (i *Intake) validateEvent(event CommentEvent) (forge.Repo, string, string, int, error) {
	owner := strings.TrimSpace(event.Repository.Owner.Login)
	name := strings.TrimSpace(event.Repository.Name)
	if owner == "" || name == "" {
		return forge.Repo{}, "", "", 0, fmt.Errorf("%w: missing repository identification", ErrInvalidEvent)
	}
	number := event.Issue.Number
	if number <= 0 {
		return forge.Repo{}, "", "", 0, fmt.Errorf("%w: missing pull request number", ErrInvalidEvent)
	}
	issuer := strings.TrimSpace(event.Comment.User.Login)
	if issuer == "" {
		return forge.Repo{}, "", "", 0, fmt.Errorf("%w: missing comment author", ErrInvalidEvent)
	}
	recipient := strings.TrimSpace(event.Issue.User.Login)
	if recipient == "" {
		return forge.Repo{}, "", "", 0, fmt.Errorf("%w: missing pull request author", ErrInvalidEvent)
	}
	return forge.Repo{Owner: owner, Name: name}, issuer, recipient, number, nil
}

// post delivers a notification comment. Failures are logged and never block
// the ledger operation that triggered them.
func (i *Intake) post(ctx context.Context, repo forge.Repo, number int, body string) {
	if i.notify == nil {
		return
	}
	if err := i.notify.PostComment(ctx, repo, number, body); err != nil {
		i.log.Warn("post notification failed",
			"repository", repo.String(), "pull_request", number, "error", err)
	}
}

func denialComment(issuer string) string {
	return fmt.Sprintf("@%s, you don't have permission to issue rewards. Only maintainers can use the `/pay` command.", issuer)
}

func confirmationComment(reward ledger.Reward) string {
	return fmt.Sprintf("@%s, you have a pending reward of %s %s from @%s (id `%s`). Connect your wallet and redeem it when ready.",
		reward.Recipient, reward.Amount, reward.Denomination, reward.Issuer, reward.ID)
}
