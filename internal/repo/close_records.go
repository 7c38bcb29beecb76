package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/domain"
)

// InsertCloseRecord stores a summary unless one already exists for the
// (team, period) pair. It reports whether a row was written; the unique
// constraint makes this the compare-and-swap for concurrent closes.
func (r Repo) InsertCloseRecord(ctx context.Context, q Querier, rec domain.PeriodCloseRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode close summary: %w", err)
	}
	res, err := r.exec(ctx, q, r.sb().
		Insert("period_close_records").
		Columns("id", "team_id", "period_key", "next_period_key", "label", "summary_json", "closed_at", "closed_by").
		Values(rec.ID, rec.TeamID, rec.PeriodKey, rec.NextPeriodKey, rec.Label, string(data), rec.ClosedAt, rec.ClosedBy).
		Suffix("ON CONFLICT(team_id, period_key) DO NOTHING"), "InsertCloseRecord")
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError(err, "InsertCloseRecord: rows affected")
	}
	return n > 0, nil
}

func decodeCloseRecord(data string) (domain.PeriodCloseRecord, error) {
	var rec domain.PeriodCloseRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("decode close summary: %w", err)
	}
	return rec, nil
}

func (r Repo) GetCloseRecord(ctx context.Context, q Querier, teamID, periodKey string) (domain.PeriodCloseRecord, error) {
	row, err := r.queryRow(ctx, q, r.sb().
		Select("summary_json").
		From("period_close_records").
		Where(squirrel.Eq{"team_id": teamID, "period_key": periodKey}), "GetCloseRecord")
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	var data string
	if err := scanOne(row.Scan(&data), "GetCloseRecord"); err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	return decodeCloseRecord(data)
}

// ListCloseRecords returns a team's records, newest first.
func (r Repo) ListCloseRecords(ctx context.Context, q Querier, teamID string) ([]domain.PeriodCloseRecord, error) {
	b := r.sb().Select("summary_json").From("period_close_records").OrderBy("closed_at DESC", "id")
	if teamID != "" {
		b = b.Where(squirrel.Eq{"team_id": teamID})
	}
	rows, err := r.query(ctx, q, b, "ListCloseRecords")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.PeriodCloseRecord{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrapDBError(err, "ListCloseRecords: scan")
		}
		rec, err := decodeCloseRecord(data)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
