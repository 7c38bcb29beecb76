package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/events"
)

var teamCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

// CreateTeam registers a team. The code prefixes request codes.
func (e Engine) CreateTeam(ctx context.Context, caller auth.Caller, code, name string) (domain.Team, error) {
	if err := e.require(caller, auth.PermTeamWrite); err != nil {
		return domain.Team{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !teamCodePattern.MatchString(code) {
		return domain.Team{}, validationError("team code %q must be 2-10 letters or digits", code)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = code
	}
	t := domain.Team{
		ID:        uuid.NewString(),
		Code:      code,
		Name:      name,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TeamCreated, events.Scope{TeamID: t.ID}, "team", t.ID, caller.ActorID, events.EventPayload{"code": t.Code, "name": t.Name}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

// GetTeam resolves a team by id or code.
func (e Engine) GetTeam(ctx context.Context, idOrCode string) (domain.Team, error) {
	t, err := e.Repo.GetTeam(ctx, e.DB, idOrCode)
	if err == nil {
		return t, nil
	}
	teams, lerr := e.Repo.ListTeams(ctx, e.DB)
	if lerr != nil {
		return domain.Team{}, lerr
	}
	for _, candidate := range teams {
		if strings.EqualFold(candidate.Code, idOrCode) {
			return candidate, nil
		}
	}
	return domain.Team{}, err
}

func (e Engine) ListTeams(ctx context.Context) ([]domain.Team, error) {
	return e.Repo.ListTeams(ctx, e.DB)
}

func (e Engine) AddDeveloper(ctx context.Context, caller auth.Caller, teamID, name, email string) (domain.Developer, error) {
	if err := e.require(caller, auth.PermTeamWrite); err != nil {
		return domain.Developer{}, err
	}
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return domain.Developer{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Developer{}, validationError("developer name is required")
	}
	d := domain.Developer{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		Name:      name,
		Email:     strings.TrimSpace(email),
		Active:    true,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Developer{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDeveloper(ctx, tx, d); err != nil {
		return domain.Developer{}, err
	}
	if err := e.appendEvent(ctx, tx, events.DeveloperAdded, events.Scope{TeamID: team.ID}, "developer", d.ID, caller.ActorID, events.EventPayload{"name": d.Name}); err != nil {
		return domain.Developer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Developer{}, err
	}
	return d, nil
}

func (e Engine) ListDevelopers(ctx context.Context, teamID string) ([]domain.Developer, error) {
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListDevelopers(ctx, e.DB, team.ID, nil)
}
