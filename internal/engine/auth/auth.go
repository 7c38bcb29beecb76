package auth

import (
	"fmt"
	"slices"

	"intakeline/internal/config"
)

// Permissions checked by the engine.
const (
	PermRequestWrite      = "request.write"
	PermRequestTransition = "request.transition"
	PermBlockerWrite      = "blocker.write"
	PermObjectiveWrite    = "objective.write"
	PermStatusWrite       = "status.write"
	PermTeamWrite         = "team.write"
	PermPeriodClose       = "period.close"
)

// Caller is the identity and role resolved by the transport layer.
type Caller struct {
	ActorID string
	Role    string
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	Role       string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required (role %s)", e.Permission, e.Role)
}

// Permissions returns the permissions granted to role.
func Permissions(cfg *config.Config, role string) []string {
	if cfg == nil {
		return nil
	}
	r, ok := cfg.RBAC.Roles[role]
	if !ok {
		return nil
	}
	return r.Permissions
}

// Require fails with ForbiddenError unless the caller's role grants perm.
// A config without roles grants everything, which keeps single-user
// workspaces usable.
func Require(cfg *config.Config, c Caller, perm string) error {
	if cfg == nil || len(cfg.RBAC.Roles) == 0 {
		return nil
	}
	if slices.Contains(Permissions(cfg, c.Role), perm) {
		return nil
	}
	return ForbiddenError{Permission: perm, Role: c.Role}
}
