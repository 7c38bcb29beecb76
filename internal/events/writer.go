package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"intakeline/internal/db"
)

// Activity event types written by the engine besides the blocker pair in
// domain.
const (
	RequestCreated    = "request_created"
	RequestRescored   = "request_rescored"
	RequestTransition = "request_status_changed"
	RequestReassigned = "request_reassigned"
	LinkageReplaced   = "request_linkage_replaced"
	StatusUpserted    = "status_upserted"
	ObjectiveCreated  = "objective_created"
	TeamCreated       = "team_created"
	DeveloperAdded    = "developer_added"
	PeriodClosed      = "period_closed"
	PeriodAdvanced    = "period_advanced"
	PeriodStarted     = "period_started"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Scope ties an event to a team and period so it can be read back per
// team+period.
type Scope struct {
	TeamID    string
	PeriodKey string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, scope Scope, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query, args, err := w.Dialect.Builder().
		Insert("events").
		Columns("ts", "type", "team_id", "period_key", "entity_kind", "entity_id", "actor_id", "payload_json").
		Values(ts, evtType, nullable(scope.TeamID), nullable(scope.PeriodKey), entityKind, nullable(entityID), actorID, string(data)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build event insert: %w", err)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
