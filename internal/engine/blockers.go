package engine

import (
	"context"
	"strings"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/engine/ledger"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

var blockerTypes = []string{domain.EventBlockerReported, domain.EventBlockerResolved}

// ReportBlocker appends a blocker_reported event. The request status is not
// touched.
func (e Engine) ReportBlocker(ctx context.Context, caller auth.Caller, requestID, note string) (ledger.Tally, error) {
	return e.appendBlocker(ctx, caller, requestID, domain.EventBlockerReported, note)
}

// ResolveBlocker appends a blocker_resolved event. It is not checked against
// open blockers, so a stray resolve shows up as a negative balance.
func (e Engine) ResolveBlocker(ctx context.Context, caller auth.Caller, requestID, note string) (ledger.Tally, error) {
	return e.appendBlocker(ctx, caller, requestID, domain.EventBlockerResolved, note)
}

func (e Engine) appendBlocker(ctx context.Context, caller auth.Caller, requestID, evtType, note string) (ledger.Tally, error) {
	if err := e.require(caller, auth.PermBlockerWrite); err != nil {
		return ledger.Tally{}, err
	}
	req, err := e.Repo.GetRequest(ctx, e.DB, requestID)
	if err != nil {
		return ledger.Tally{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Tally{}, err
	}
	defer tx.Rollback()
	payload := events.EventPayload{}
	if note = strings.TrimSpace(note); note != "" {
		payload["note"] = note
	}
	if err := e.appendEvent(ctx, tx, evtType, scopeOf(req), "request", req.ID, caller.ActorID, payload); err != nil {
		return ledger.Tally{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Tally{}, err
	}
	return e.BlockerStatus(ctx, req.ID)
}

// BlockerStatus replays the blocker events of one request.
func (e Engine) BlockerStatus(ctx context.Context, requestID string) (ledger.Tally, error) {
	req, err := e.Repo.GetRequest(ctx, e.DB, requestID)
	if err != nil {
		return ledger.Tally{}, err
	}
	evts, err := e.Repo.ListEvents(ctx, e.DB, repo.EventFilter{
		EntityKind: "request",
		EntityIDs:  []string{req.ID},
		Types:      blockerTypes,
	})
	if err != nil {
		return ledger.Tally{}, err
	}
	t := ledger.Reduce(evts)[req.ID]
	t.RequestID = req.ID
	return t, nil
}

// OpenBlockers summarizes blocker balances across a team's current period.
type OpenBlockers struct {
	TeamID     string         `json:"team_id"`
	PeriodKey  string         `json:"period_key"`
	RequestIDs []string       `json:"request_ids"`
	Count      int            `json:"count"`
	Tallies    []ledger.Tally `json:"tallies"`
}

// OpenBlockers lists the current-period requests of a team whose blocker
// balance is positive. Events are read for the requests themselves, so
// blockers reported before a carry-over still count.
func (e Engine) OpenBlockers(ctx context.Context, teamID string) (OpenBlockers, error) {
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return OpenBlockers{}, err
	}
	period, err := e.CurrentPeriod(ctx)
	if err != nil {
		return OpenBlockers{}, err
	}
	reqs, err := e.Repo.ListRequests(ctx, e.DB, repo.RequestFilter{TeamID: team.ID, PeriodKey: period.Key})
	if err != nil {
		return OpenBlockers{}, err
	}
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	out := OpenBlockers{TeamID: team.ID, PeriodKey: period.Key, RequestIDs: []string{}, Tallies: []ledger.Tally{}}
	if len(ids) == 0 {
		return out, nil
	}
	evts, err := e.Repo.ListEvents(ctx, e.DB, repo.EventFilter{EntityKind: "request", EntityIDs: ids, Types: blockerTypes})
	if err != nil {
		return OpenBlockers{}, err
	}
	tallies := ledger.Reduce(evts)
	out.RequestIDs = ledger.OpenRequestIDs(evts)
	out.Count = len(out.RequestIDs)
	for _, id := range out.RequestIDs {
		out.Tallies = append(out.Tallies, tallies[id])
	}
	return out, nil
}

// ActivityLog returns recent events, newest first.
func (e Engine) ActivityLog(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return e.Repo.ListEvents(ctx, e.DB, f)
}
