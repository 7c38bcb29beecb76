package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time

	statuses *statusCache
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	if dialect == "" {
		dialect = db.SQLite
	}
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{Dialect: dialect},
		Config:   cfg,
		Log:      zap.NewNop(),
		Now:      time.Now,
		statuses: &statusCache{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) require(c auth.Caller, perm string) error {
	if err := auth.Require(e.Config, c, perm); err != nil {
		e.log().Warn("permission denied",
			zap.String("actor", c.ActorID),
			zap.String("role", c.Role),
			zap.String("permission", perm))
		return err
	}
	return nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType string, scope events.Scope, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	if err := w.Append(ctx, tx, evtType, scope, entityKind, entityID, actorID, payload); err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}
