package repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/domain"
)

var objectiveColumns = []string{"id", "team_id", "period_key", "code", "title", "active", "created_at"}

func (r Repo) InsertObjective(ctx context.Context, q Querier, o domain.Objective) error {
	_, err := r.exec(ctx, q, r.sb().
		Insert("objectives").
		Columns(objectiveColumns...).
		Values(o.ID, o.TeamID, o.PeriodKey, o.Code, o.Title, boolInt(o.Active), o.CreatedAt), "InsertObjective")
	return err
}

type ObjectiveFilter struct {
	TeamID     string
	PeriodKey  string
	ActiveOnly bool
	IDs        []string
}

func (r Repo) ListObjectives(ctx context.Context, q Querier, f ObjectiveFilter) ([]domain.Objective, error) {
	b := r.sb().Select(objectiveColumns...).From("objectives").OrderBy("code", "id")
	if f.TeamID != "" {
		b = b.Where(squirrel.Eq{"team_id": f.TeamID})
	}
	if f.PeriodKey != "" {
		b = b.Where(squirrel.Eq{"period_key": f.PeriodKey})
	}
	if f.ActiveOnly {
		b = b.Where(squirrel.Eq{"active": 1})
	}
	if f.IDs != nil {
		b = b.Where(squirrel.Eq{"id": f.IDs})
	}
	rows, err := r.query(ctx, q, b, "ListObjectives")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Objective{}
	for rows.Next() {
		var o domain.Objective
		var active int
		if err := rows.Scan(&o.ID, &o.TeamID, &o.PeriodKey, &o.Code, &o.Title, &active, &o.CreatedAt); err != nil {
			return nil, wrapDBError(err, "ListObjectives: scan")
		}
		o.Active = active == 1
		res = append(res, o)
	}
	return res, rows.Err()
}

// DeactivateObjectives flips every active objective of a team+period to
// inactive. Re-running it is a no-op.
func (r Repo) DeactivateObjectives(ctx context.Context, q Querier, teamID, periodKey string) (int64, error) {
	res, err := r.exec(ctx, q, r.sb().
		Update("objectives").
		Set("active", 0).
		Where(squirrel.Eq{"team_id": teamID, "period_key": periodKey, "active": 1}), "DeactivateObjectives")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceRequestObjectives deletes every link of the request and inserts the
// given set.
func (r Repo) ReplaceRequestObjectives(ctx context.Context, q Querier, requestID string, objectiveIDs []string, now string) error {
	if _, err := r.exec(ctx, q, r.sb().
		Delete("request_objectives").
		Where(squirrel.Eq{"request_id": requestID}), "ReplaceRequestObjectives: delete"); err != nil {
		return err
	}
	if len(objectiveIDs) == 0 {
		return nil
	}
	b := r.sb().Insert("request_objectives").Columns("request_id", "objective_id", "linked_at")
	for _, id := range objectiveIDs {
		b = b.Values(requestID, id, now)
	}
	_, err := r.exec(ctx, q, b, "ReplaceRequestObjectives: insert")
	return err
}

func (r Repo) ListRequestObjectiveIDs(ctx context.Context, q Querier, requestID string) ([]string, error) {
	return r.listIDs(ctx, q, r.sb().
		Select("objective_id").
		From("request_objectives").
		Where(squirrel.Eq{"request_id": requestID}).
		OrderBy("objective_id"), "ListRequestObjectiveIDs")
}

// ReplaceRequestAssignees deletes every assignee of the request and inserts the
// given set with fresh provenance.
func (r Repo) ReplaceRequestAssignees(ctx context.Context, q Querier, requestID string, developerIDs []string, assignedBy, now string) error {
	if _, err := r.exec(ctx, q, r.sb().
		Delete("request_assignees").
		Where(squirrel.Eq{"request_id": requestID}), "ReplaceRequestAssignees: delete"); err != nil {
		return err
	}
	if len(developerIDs) == 0 {
		return nil
	}
	b := r.sb().Insert("request_assignees").Columns("request_id", "developer_id", "assigned_at", "assigned_by")
	for _, id := range developerIDs {
		b = b.Values(requestID, id, now, assignedBy)
	}
	_, err := r.exec(ctx, q, b, "ReplaceRequestAssignees: insert")
	return err
}

func (r Repo) ListRequestAssignees(ctx context.Context, q Querier, requestID string) ([]domain.Assignment, error) {
	rows, err := r.query(ctx, q, r.sb().
		Select("request_id", "developer_id", "assigned_at", "assigned_by").
		From("request_assignees").
		Where(squirrel.Eq{"request_id": requestID}).
		OrderBy("developer_id"), "ListRequestAssignees")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.RequestID, &a.DeveloperID, &a.AssignedAt, &a.AssignedBy); err != nil {
			return nil, wrapDBError(err, "ListRequestAssignees: scan")
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) listIDs(ctx context.Context, q Querier, b squirrel.SelectBuilder, op string) ([]string, error) {
	rows, err := r.query(ctx, q, b, op)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError(err, op+": scan")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
