package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/engine/pipeline"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

// statusCache holds the loaded pipeline. It is shared by copies of an Engine
// and dropped on every status write.
type statusCache struct {
	mu sync.Mutex
	p  *pipeline.Pipeline
}

func (c *statusCache) invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.p = nil
	c.mu.Unlock()
}

// Pipeline returns the live status graph. The stored set wins; the configured
// seed is used until statuses are stored.
func (e Engine) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	if e.statuses != nil {
		e.statuses.mu.Lock()
		defer e.statuses.mu.Unlock()
		if e.statuses.p != nil {
			return e.statuses.p, nil
		}
	}
	defs, err := e.storedOrSeedStatuses(ctx, e.Repo.DB)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(defs)
	if err != nil {
		return nil, err
	}
	if e.statuses != nil {
		e.statuses.p = p
	}
	return p, nil
}

func (e Engine) storedOrSeedStatuses(ctx context.Context, q repo.Querier) ([]domain.StatusDefinition, error) {
	defs, err := e.Repo.ListStatuses(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(defs) > 0 {
		return defs, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return cfg.SeedStatuses(), nil
}

func (e Engine) ListStatuses(ctx context.Context) ([]domain.StatusDefinition, error) {
	p, err := e.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return p.Statuses(), nil
}

func (e Engine) AllowedTransitions(ctx context.Context, fromKey string) ([]domain.StatusDefinition, error) {
	p, err := e.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return p.AllowedTransitions(fromKey), nil
}

func (e Engine) IsLegalTransition(ctx context.Context, fromKey, toKey string) (bool, error) {
	p, err := e.Pipeline(ctx)
	if err != nil {
		return false, err
	}
	return p.IsLegalTransition(fromKey, toKey), nil
}

// SeedStatuses stores the configured seed when no statuses exist yet. It is
// a no-op otherwise.
func (e Engine) SeedStatuses(ctx context.Context, actorID string) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	n, err := e.Repo.CountStatuses(ctx, tx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	seed, err := pipeline.Normalize(cfg.SeedStatuses())
	if err != nil {
		return err
	}
	if err := e.Repo.SaveStatuses(ctx, tx, seed); err != nil {
		return fmt.Errorf("seed statuses: %w", err)
	}
	keys := make([]string, 0, len(seed))
	for _, s := range seed {
		keys = append(keys, s.Key)
	}
	if err := e.appendEvent(ctx, tx, events.StatusUpserted, events.Scope{}, "status", "", actorID, events.EventPayload{"seeded": keys}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.statuses.invalidate()
	return nil
}

// UpsertStatus adds or edits one status and re-normalizes the whole set. A nil
// AllowedNext or an empty label keeps what is stored for an existing key.
func (e Engine) UpsertStatus(ctx context.Context, caller auth.Caller, def domain.StatusDefinition) (domain.StatusDefinition, error) {
	if err := e.require(caller, auth.PermStatusWrite); err != nil {
		return domain.StatusDefinition{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	key, err := pipeline.NormalizeKey(def.Key)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	if !def.Active {
		for _, pinned := range []string{cfg.Workflow.InitialStatus, cfg.Workflow.ActiveStatus, cfg.Workflow.DoneStatus} {
			if key == pinned {
				return domain.StatusDefinition{}, validationError("status %s is used by the workflow and cannot be deactivated", key)
			}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	defer tx.Rollback()
	current, err := e.storedOrSeedStatuses(ctx, tx)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	for _, s := range current {
		if strings.ToLower(strings.TrimSpace(s.Key)) != key {
			continue
		}
		if def.AllowedNext == nil {
			def.AllowedNext = s.AllowedNext
		}
		if strings.TrimSpace(def.Label) == "" {
			def.Label = s.Label
		}
	}
	merged, err := pipeline.Merge(current, def)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	if err := e.Repo.SaveStatuses(ctx, tx, merged); err != nil {
		return domain.StatusDefinition{}, err
	}
	var saved domain.StatusDefinition
	for _, s := range merged {
		if s.Key == key {
			saved = s
		}
	}
	if err := e.appendEvent(ctx, tx, events.StatusUpserted, events.Scope{}, "status", key, caller.ActorID, events.EventPayload{
		"position":     saved.Position,
		"allowed_next": saved.AllowedNext,
		"active":       saved.Active,
	}); err != nil {
		return domain.StatusDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StatusDefinition{}, err
	}
	e.statuses.invalidate()
	e.log().Info("status saved", zap.String("status", key), zap.Bool("active", saved.Active), zap.String("actor", caller.ActorID))
	return saved, nil
}

// DeactivateStatus hides a status as a transition target. Requests already in
// it keep it and may still leave.
func (e Engine) DeactivateStatus(ctx context.Context, caller auth.Caller, key string) (domain.StatusDefinition, error) {
	p, err := e.Pipeline(ctx)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	def, ok := p.Status(key)
	if !ok {
		return domain.StatusDefinition{}, fmt.Errorf("status %s: %w", key, domain.ErrNotFound)
	}
	def.Active = false
	return e.UpsertStatus(ctx, caller, def)
}
