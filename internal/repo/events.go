package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/domain"
)

type EventFilter struct {
	TeamID     string
	PeriodKey  string
	EntityKind string
	EntityIDs  []string
	Types      []string
	// BeforeID pages backwards from an event id; zero starts at the newest.
	BeforeID int64
	Limit    int
}

// ListEvents returns matching events newest first, as stored.
func (r Repo) ListEvents(ctx context.Context, q Querier, f EventFilter) ([]domain.Event, error) {
	b := r.sb().
		Select("id", "ts", "type", "team_id", "period_key", "entity_kind", "entity_id", "actor_id", "payload_json").
		From("events").
		OrderBy("id DESC")
	if f.TeamID != "" {
		b = b.Where(squirrel.Eq{"team_id": f.TeamID})
	}
	if f.PeriodKey != "" {
		b = b.Where(squirrel.Eq{"period_key": f.PeriodKey})
	}
	if f.EntityKind != "" {
		b = b.Where(squirrel.Eq{"entity_kind": f.EntityKind})
	}
	if f.EntityIDs != nil {
		b = b.Where(squirrel.Eq{"entity_id": f.EntityIDs})
	}
	if len(f.Types) > 0 {
		b = b.Where(squirrel.Eq{"type": f.Types})
	}
	if f.BeforeID > 0 {
		b = b.Where(squirrel.Lt{"id": f.BeforeID})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	rows, err := r.query(ctx, q, b, "ListEvents")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var team, period, entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &team, &period, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, wrapDBError(err, "ListEvents: scan")
		}
		e.TeamID, e.PeriodKey, e.EntityID = team.String, period.String, entity.String
		res = append(res, e)
	}
	return res, rows.Err()
}
