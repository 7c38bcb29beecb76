package repo

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/domain"
)

var periodColumns = []string{"key", "label", "ordinal", "started_at", "ended_at", "is_current"}

func scanPeriod(scan func(...any) error) (domain.Period, error) {
	var p domain.Period
	var ended sql.NullString
	var current int
	if err := scan(&p.Key, &p.Label, &p.Ordinal, &p.StartedAt, &ended, &current); err != nil {
		return p, err
	}
	p.EndedAt = stringPtr(ended)
	p.Current = current == 1
	return p, nil
}

// InsertPeriod adds a period. Inserting a second current period violates the
// single-current index.
func (r Repo) InsertPeriod(ctx context.Context, q Querier, p domain.Period) error {
	_, err := r.exec(ctx, q, r.sb().
		Insert("periods").
		Columns(periodColumns...).
		Values(p.Key, p.Label, p.Ordinal, p.StartedAt, nullableStringPtr(p.EndedAt), boolInt(p.Current)), "InsertPeriod")
	return err
}

func (r Repo) CurrentPeriod(ctx context.Context, q Querier) (domain.Period, error) {
	row, err := r.queryRow(ctx, q, r.sb().
		Select(periodColumns...).
		From("periods").
		Where(squirrel.Eq{"is_current": 1}), "CurrentPeriod")
	if err != nil {
		return domain.Period{}, err
	}
	p, err := scanPeriod(row.Scan)
	return p, scanOne(err, "CurrentPeriod")
}

func (r Repo) GetPeriod(ctx context.Context, q Querier, key string) (domain.Period, error) {
	row, err := r.queryRow(ctx, q, r.sb().
		Select(periodColumns...).
		From("periods").
		Where(squirrel.Eq{"key": key}), "GetPeriod")
	if err != nil {
		return domain.Period{}, err
	}
	p, err := scanPeriod(row.Scan)
	return p, scanOne(err, "GetPeriod")
}

func (r Repo) ListPeriods(ctx context.Context, q Querier) ([]domain.Period, error) {
	rows, err := r.query(ctx, q, r.sb().
		Select(periodColumns...).
		From("periods").
		OrderBy("ordinal"), "ListPeriods")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Period{}
	for rows.Next() {
		p, err := scanPeriod(rows.Scan)
		if err != nil {
			return nil, wrapDBError(err, "ListPeriods: scan")
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// EndPeriod marks the current period key as ended. It only matches while the
// period is still current, so a stale advance affects no rows.
func (r Repo) EndPeriod(ctx context.Context, q Querier, key, endedAt string) error {
	res, err := r.exec(ctx, q, r.sb().
		Update("periods").
		Set("is_current", 0).
		Set("ended_at", endedAt).
		Where(squirrel.Eq{"key": key, "is_current": 1}), "EndPeriod")
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}
