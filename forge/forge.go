package forge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Permission levels reported by the code-hosting platform for a repository
// collaborator.
const (
	PermissionAdmin    = "admin"
	PermissionMaintain = "maintain"
	PermissionWrite    = "write"
	PermissionRead     = "read"
	PermissionNone     = "none"
)

// ErrUserNotFound is returned when an identity cannot be resolved.
var ErrUserNotFound = errors.New("forge: user not found")

// Repo identifies a repository by its owner/name pair.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo splits an "owner/name" string into a Repo.
func ParseRepo(full string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("forge: invalid repository %q, want owner/name", full)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// User describes a resolved platform identity.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// PermissionClient looks up the permission level an identity holds on a
// repository.
type PermissionClient interface {
	PermissionLevel(ctx context.Context, repo Repo, login string) (string, error)
}

// IdentityClient resolves platform identities by login name.
type IdentityClient interface {
	ResolveUser(ctx context.Context, login string) (User, error)
}

// NotifyClient posts discussion comments. Deliveries are best-effort; callers
// log failures and never let them block a ledger operation.
type NotifyClient interface {
	PostComment(ctx context.Context, repo Repo, number int, body string) error
}
