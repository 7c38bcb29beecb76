package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/domain"
)

func (r Repo) InsertTeam(ctx context.Context, q Querier, t domain.Team) error {
	_, err := r.exec(ctx, q, r.sb().
		Insert("teams").
		Columns("id", "code", "name", "created_at").
		Values(t.ID, t.Code, t.Name, t.CreatedAt), "InsertTeam")
	return err
}

func (r Repo) GetTeam(ctx context.Context, q Querier, id string) (domain.Team, error) {
	var t domain.Team
	row, err := r.queryRow(ctx, q, r.sb().
		Select("id", "code", "name", "created_at").
		From("teams").
		Where(squirrel.Eq{"id": id}), "GetTeam")
	if err != nil {
		return t, err
	}
	err = scanOne(row.Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt), "GetTeam")
	return t, err
}

func (r Repo) ListTeams(ctx context.Context, q Querier) ([]domain.Team, error) {
	rows, err := r.query(ctx, q, r.sb().
		Select("id", "code", "name", "created_at").
		From("teams").
		OrderBy("code"), "ListTeams")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Team{}
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt); err != nil {
			return nil, wrapDBError(err, "ListTeams: scan")
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertDeveloper(ctx context.Context, q Querier, d domain.Developer) error {
	_, err := r.exec(ctx, q, r.sb().
		Insert("developers").
		Columns("id", "team_id", "name", "email", "active", "created_at").
		Values(d.ID, d.TeamID, d.Name, nullable(d.Email), boolInt(d.Active), d.CreatedAt), "InsertDeveloper")
	return err
}

func scanDeveloper(scan func(...any) error) (domain.Developer, error) {
	var d domain.Developer
	var email sql.NullString
	var active int
	if err := scan(&d.ID, &d.TeamID, &d.Name, &email, &active, &d.CreatedAt); err != nil {
		return d, err
	}
	d.Email = email.String
	d.Active = active == 1
	return d, nil
}

var developerColumns = []string{"id", "team_id", "name", "email", "active", "created_at"}

// ListDevelopers returns developers by team, or by id when ids is non-empty.
func (r Repo) ListDevelopers(ctx context.Context, q Querier, teamID string, ids []string) ([]domain.Developer, error) {
	b := r.sb().Select(developerColumns...).From("developers").OrderBy("name", "id")
	if teamID != "" {
		b = b.Where(squirrel.Eq{"team_id": teamID})
	}
	if ids != nil {
		b = b.Where(squirrel.Eq{"id": ids})
	}
	rows, err := r.query(ctx, q, b, "ListDevelopers")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Developer{}
	for rows.Next() {
		d, err := scanDeveloper(rows.Scan)
		if err != nil {
			return nil, wrapDBError(err, "ListDevelopers: scan")
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) GetDeveloper(ctx context.Context, q Querier, id string) (domain.Developer, error) {
	row, err := r.queryRow(ctx, q, r.sb().
		Select(developerColumns...).
		From("developers").
		Where(squirrel.Eq{"id": id}), "GetDeveloper")
	if err != nil {
		return domain.Developer{}, err
	}
	d, err := scanDeveloper(row.Scan)
	return d, scanOne(err, "GetDeveloper")
}
