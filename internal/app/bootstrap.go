package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/engine"
	"intakeline/internal/migrate"
)

// Settings locate a workspace and its store.
type Settings struct {
	Workspace string
	Driver    string
	DSN       string
	// ConfigPath overrides <workspace>/intakeline.yml.
	ConfigPath string
	Log        *zap.Logger
}

// Open loads config, opens and migrates the store and returns a ready engine.
// The caller closes the returned *sql.DB.
func Open(ctx context.Context, s Settings) (engine.Engine, *sql.DB, error) {
	var (
		cfg *config.Config
		err error
	)
	if s.ConfigPath != "" {
		cfg, err = config.FromFile(s.ConfigPath)
	} else {
		cfg, err = config.Load(s.Workspace)
	}
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("load config: %w", err)
	}
	dialect, err := db.ParseDialect(s.Driver)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: s.Workspace, Driver: dialect, DSN: s.DSN})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, dialect, cfg)
	if s.Log != nil {
		eng.Log = s.Log
	}
	return eng, conn, nil
}

// Bootstrap seeds the status pipeline and the first period when the store is
// empty. Running it again changes nothing.
func Bootstrap(ctx context.Context, eng engine.Engine, actorID string) error {
	if actorID == "" {
		actorID = "system"
	}
	if err := eng.SeedStatuses(ctx, actorID); err != nil {
		return fmt.Errorf("seed statuses: %w", err)
	}
	p, err := eng.StartPeriod(ctx, actorID, eng.Config.Periods.InitialKey, eng.Config.Periods.InitialLabel)
	if err != nil {
		return fmt.Errorf("start period: %w", err)
	}
	eng.Log.Debug("workspace ready", zap.String("workspace", eng.Config.Workspace.ID), zap.String("period", p.Key))
	return nil
}
