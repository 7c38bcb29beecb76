package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/domain"
)

var requestColumns = []string{
	"id", "code", "seq", "type", "title", "description", "requester", "status",
	"urgency", "importance", "complexity", "priority_score",
	"team_id", "period_key", "developer_id", "created_at", "updated_at", "version",
}

func scanRequest(scan func(...any) error) (domain.Request, error) {
	var req domain.Request
	var dev sql.NullString
	err := scan(&req.ID, &req.Code, &req.Seq, &req.Type, &req.Title, &req.Description, &req.Requester, &req.Status,
		&req.Urgency, &req.Importance, &req.Complexity, &req.PriorityScore,
		&req.TeamID, &req.PeriodKey, &dev, &req.CreatedAt, &req.UpdatedAt, &req.Version)
	req.DeveloperID = stringPtr(dev)
	return req, err
}

func (r Repo) InsertRequest(ctx context.Context, q Querier, req domain.Request) error {
	if req.Version == 0 {
		req.Version = 1
	}
	_, err := r.exec(ctx, q, r.sb().
		Insert("requests").
		Columns(requestColumns...).
		Values(req.ID, req.Code, req.Seq, req.Type, req.Title, req.Description, req.Requester, req.Status,
			req.Urgency, req.Importance, req.Complexity, req.PriorityScore,
			req.TeamID, req.PeriodKey, nullableStringPtr(req.DeveloperID), req.CreatedAt, req.UpdatedAt, req.Version), "InsertRequest")
	return err
}

// NextRequestSeq returns the next team-scoped sequence number. The unique
// (team_id, seq) constraint rejects a concurrent duplicate.
func (r Repo) NextRequestSeq(ctx context.Context, q Querier, teamID string) (int, error) {
	row, err := r.queryRow(ctx, q, r.sb().
		Select("COALESCE(MAX(seq), 0) + 1").
		From("requests").
		Where(squirrel.Eq{"team_id": teamID}), "NextRequestSeq")
	if err != nil {
		return 0, err
	}
	var seq int
	if err := row.Scan(&seq); err != nil {
		return 0, wrapDBError(err, "NextRequestSeq")
	}
	return seq, nil
}

func (r Repo) GetRequest(ctx context.Context, q Querier, id string) (domain.Request, error) {
	row, err := r.queryRow(ctx, q, r.sb().
		Select(requestColumns...).
		From("requests").
		Where(squirrel.Or{squirrel.Eq{"id": id}, squirrel.Eq{"code": id}}), "GetRequest")
	if err != nil {
		return domain.Request{}, err
	}
	req, err := scanRequest(row.Scan)
	return req, scanOne(err, "GetRequest")
}

type RequestFilter struct {
	TeamID    string
	PeriodKey string
	Status    string
	Type      string
}

// ListRequests returns matching requests in insertion order.
func (r Repo) ListRequests(ctx context.Context, q Querier, f RequestFilter) ([]domain.Request, error) {
	b := r.sb().Select(requestColumns...).From("requests").OrderBy("created_at", "seq", "id")
	eq := squirrel.Eq{}
	if f.TeamID != "" {
		eq["team_id"] = f.TeamID
	}
	if f.PeriodKey != "" {
		eq["period_key"] = f.PeriodKey
	}
	if f.Status != "" {
		eq["status"] = f.Status
	}
	if f.Type != "" {
		eq["type"] = f.Type
	}
	if len(eq) > 0 {
		b = b.Where(eq)
	}
	rows, err := r.query(ctx, q, b, "ListRequests")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, wrapDBError(err, "ListRequests: scan")
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// UpdateRequest writes every mutable field if the stored version still equals
// req.Version, then bumps req.Version. A stale version yields ErrConflict.
func (r Repo) UpdateRequest(ctx context.Context, q Querier, req *domain.Request) error {
	res, err := r.exec(ctx, q, r.sb().
		Update("requests").
		Set("type", req.Type).
		Set("title", req.Title).
		Set("description", req.Description).
		Set("requester", req.Requester).
		Set("status", req.Status).
		Set("urgency", req.Urgency).
		Set("importance", req.Importance).
		Set("complexity", req.Complexity).
		Set("priority_score", req.PriorityScore).
		Set("period_key", req.PeriodKey).
		Set("developer_id", nullableStringPtr(req.DeveloperID)).
		Set("updated_at", req.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": req.ID, "version": req.Version}), "UpdateRequest")
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetRequest(ctx, q, req.ID); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	req.Version++
	return nil
}

// CarryOver re-stamps the given requests from one period to the next. Status,
// score and assignment are left alone.
func (r Repo) CarryOver(ctx context.Context, q Querier, teamID, fromPeriod, toPeriod string, ids []string, now string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.exec(ctx, q, r.sb().
		Update("requests").
		Set("period_key", toPeriod).
		Set("updated_at", now).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"team_id": teamID, "period_key": fromPeriod, "id": ids}), "CarryOver")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
