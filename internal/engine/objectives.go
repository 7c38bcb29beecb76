package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

// CreateObjective adds an active objective to a team in the current period.
func (e Engine) CreateObjective(ctx context.Context, caller auth.Caller, teamID, code, title string) (domain.Objective, error) {
	if err := e.require(caller, auth.PermObjectiveWrite); err != nil {
		return domain.Objective{}, err
	}
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return domain.Objective{}, err
	}
	period, err := e.CurrentPeriod(ctx)
	if err != nil {
		return domain.Objective{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	title = strings.TrimSpace(title)
	if code == "" || title == "" {
		return domain.Objective{}, validationError("objective code and title are required")
	}
	o := domain.Objective{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		PeriodKey: period.Key,
		Code:      code,
		Title:     title,
		Active:    true,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Objective{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertObjective(ctx, tx, o); err != nil {
		return domain.Objective{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ObjectiveCreated, events.Scope{TeamID: team.ID, PeriodKey: period.Key}, "objective", o.ID, caller.ActorID, events.EventPayload{"code": o.Code}); err != nil {
		return domain.Objective{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Objective{}, err
	}
	return o, nil
}

// ListObjectives returns a team's objectives for periodKey, the current period
// when empty.
func (e Engine) ListObjectives(ctx context.Context, teamID, periodKey string, activeOnly bool) ([]domain.Objective, error) {
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if periodKey == "" {
		period, err := e.CurrentPeriod(ctx)
		if err != nil {
			return nil, err
		}
		periodKey = period.Key
	}
	return e.Repo.ListObjectives(ctx, e.DB, repo.ObjectiveFilter{TeamID: team.ID, PeriodKey: periodKey, ActiveOnly: activeOnly})
}
