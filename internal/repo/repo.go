package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"intakeline/internal/db"
	"intakeline/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx so every store call can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = domain.ErrNotFound

func (r Repo) sb() squirrel.StatementBuilderType {
	return r.Dialect.Builder()
}

func wrapDBError(err error, op string) error {
	return fmt.Errorf("database: %s: %w", op, err)
}

func (r Repo) exec(ctx context.Context, q Querier, b squirrel.Sqlizer, op string) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, wrapDBError(err, op+": build query")
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError(err, op)
	}
	return res, nil
}

func (r Repo) query(ctx context.Context, q Querier, b squirrel.Sqlizer, op string) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, wrapDBError(err, op+": build query")
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError(err, op)
	}
	return rows, nil
}

func (r Repo) queryRow(ctx context.Context, q Querier, b squirrel.Sqlizer, op string) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, wrapDBError(err, op+": build query")
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

// scanOne maps sql.ErrNoRows to ErrNotFound.
func scanOne(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return wrapDBError(err, op)
	}
	return nil
}

// Booleans are stored as 0/1 integers on every dialect.
func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}
