package intake

import (
	"context"
	"log/slog"

	"gitpay/forge"
)

// authorizedLevels are the permission levels allowed to issue rewards.
var authorizedLevels = map[string]struct{}{
	forge.PermissionAdmin:    {},
	forge.PermissionMaintain: {},
	forge.PermissionWrite:    {},
}

// Gate decides whether an identity may create rewards against a repository.
// Decisions are made fresh per request; there is no cache, so the platform's
// current truth always wins.
type Gate struct {
	perms forge.PermissionClient
	log   *slog.Logger
}

// NewGate wires the gate over the platform permission collaborator.
func NewGate(perms forge.PermissionClient, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{perms: perms, log: log}
}

// Authorized reports whether login holds admin, maintain, or write access on
// the repository. Lookup failures deny: an unreachable permission
// collaborator must never grant authority by default.
func (g *Gate) Authorized(ctx context.Context, repo forge.Repo, login string) bool {
	level, err := g.perms.PermissionLevel(ctx, repo, login)
	if err != nil {
		g.log.Warn("permission lookup failed, denying",
			"repository", repo.String(), "login", login, "error", err)
		return false
	}
	_, ok := authorizedLevels[level]
	return ok
}
