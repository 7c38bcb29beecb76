package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"intakeline/internal/domain"
)

func (r Repo) ListStatuses(ctx context.Context, q Querier) ([]domain.StatusDefinition, error) {
	rows, err := r.query(ctx, q, r.sb().
		Select("key", "label", "position", "allowed_next", "active").
		From("status_definitions").
		OrderBy("position", "key"), "ListStatuses")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StatusDefinition{}
	for rows.Next() {
		var s domain.StatusDefinition
		var next string
		var active int
		if err := rows.Scan(&s.Key, &s.Label, &s.Position, &next, &active); err != nil {
			return nil, wrapDBError(err, "ListStatuses: scan")
		}
		if err := json.Unmarshal([]byte(next), &s.AllowedNext); err != nil {
			return nil, fmt.Errorf("status %s: decode allowed_next: %w", s.Key, err)
		}
		s.Active = active == 1
		res = append(res, s)
	}
	return res, rows.Err()
}

// SaveStatuses upserts every definition. Callers pass an already normalized
// set; statuses are never deleted because requests may still reference them.
func (r Repo) SaveStatuses(ctx context.Context, q Querier, defs []domain.StatusDefinition) error {
	for _, s := range defs {
		next := s.AllowedNext
		if next == nil {
			next = []string{}
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode allowed_next: %w", err)
		}
		if _, err := r.exec(ctx, q, r.sb().
			Insert("status_definitions").
			Columns("key", "label", "position", "allowed_next", "active").
			Values(s.Key, s.Label, s.Position, string(data), boolInt(s.Active)).
			Suffix("ON CONFLICT(key) DO UPDATE SET label=excluded.label, position=excluded.position, allowed_next=excluded.allowed_next, active=excluded.active"),
			"SaveStatuses"); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) CountStatuses(ctx context.Context, q Querier) (int, error) {
	row, err := r.queryRow(ctx, q, r.sb().Select("COUNT(*)").From("status_definitions"), "CountStatuses")
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, wrapDBError(err, "CountStatuses")
	}
	return n, nil
}
