package auth

import (
	"errors"
	"testing"

	"intakeline/internal/config"
)

func TestRequireUsesConfiguredRoles(t *testing.T) {
	cfg := config.Default("ws")
	if err := Require(cfg, Caller{ActorID: "a", Role: "admin"}, PermStatusWrite); err != nil {
		t.Fatalf("admin should write statuses: %v", err)
	}
	if err := Require(cfg, Caller{ActorID: "d", Role: "developer"}, PermRequestTransition); err != nil {
		t.Fatalf("developer should transition: %v", err)
	}
	err := Require(cfg, Caller{ActorID: "d", Role: "developer"}, PermPeriodClose)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != PermPeriodClose {
		t.Fatalf("expected forbidden period.close, got %v", err)
	}
	if err := Require(cfg, Caller{ActorID: "x", Role: "ghost"}, PermRequestWrite); err == nil {
		t.Fatalf("unknown role must be denied")
	}
}

func TestRequireWithoutRolesAllows(t *testing.T) {
	cfg := config.Default("ws")
	cfg.RBAC.Roles = nil
	if err := Require(cfg, Caller{ActorID: "x"}, PermPeriodClose); err != nil {
		t.Fatalf("expected allow without roles: %v", err)
	}
}
