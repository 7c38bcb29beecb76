package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/engine/periodkey"
	"intakeline/internal/engine/priority"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

// CurrentPeriod returns the single open period.
func (e Engine) CurrentPeriod(ctx context.Context) (domain.Period, error) {
	p, err := e.Repo.CurrentPeriod(ctx, e.DB)
	if errors.Is(err, domain.ErrNotFound) {
		return p, fmt.Errorf("no current period: %w", err)
	}
	return p, err
}

func (e Engine) ListPeriods(ctx context.Context) ([]domain.Period, error) {
	return e.Repo.ListPeriods(ctx, e.DB)
}

// StartPeriod opens the first period of a workspace. When a period is already
// current it is returned unchanged.
func (e Engine) StartPeriod(ctx context.Context, actorID, key, label string) (domain.Period, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Period{}, validationError("period key is required")
	}
	if label == "" {
		label = key
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Period{}, err
	}
	defer tx.Rollback()
	if cur, err := e.Repo.CurrentPeriod(ctx, tx); err == nil {
		return cur, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Period{}, err
	}
	p := domain.Period{Key: key, Label: label, Ordinal: 1, StartedAt: e.stamp(), Current: true}
	if err := e.Repo.InsertPeriod(ctx, tx, p); err != nil {
		return domain.Period{}, err
	}
	if err := e.appendEvent(ctx, tx, events.PeriodStarted, events.Scope{PeriodKey: p.Key}, "period", p.Key, actorID, nil); err != nil {
		return domain.Period{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Period{}, err
	}
	return p, nil
}

// ClosePeriod closes the current period for one team:
//
//  1. refuse when a record already exists for (team, period)
//  2. split the team's period requests into completed and pending
//  3. summarize
//  4. store the summary; the unique (team, period) key decides concurrent closes
//  5. deactivate the team's objectives for the period
//  6. carry pending requests over to the next period key
//  7. end the current period and open the next one
//
// Steps 5-7 share one transaction. A failure there returns the stored record
// with ErrAdvanceFailed; repair it with ResumeClose.
func (e Engine) ClosePeriod(ctx context.Context, caller auth.Caller, teamID string) (domain.PeriodCloseRecord, error) {
	if err := e.require(caller, auth.PermPeriodClose); err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	period, err := e.CurrentPeriod(ctx)
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	if _, err := e.Repo.GetCloseRecord(ctx, e.DB, team.ID, period.Key); err == nil {
		return domain.PeriodCloseRecord{}, domain.ErrAlreadyClosed
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.PeriodCloseRecord{}, err
	}

	reqs, err := e.Repo.ListRequests(ctx, e.DB, repo.RequestFilter{TeamID: team.ID, PeriodKey: period.Key})
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	devs, err := e.Repo.ListDevelopers(ctx, e.DB, team.ID, nil)
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	names := make(map[string]string, len(devs))
	for _, d := range devs {
		names[d.ID] = d.Name
	}
	rec := Summarize(team, period, reqs, names, cfg.Workflow.DoneStatus, cfg.Periods.TopCompleted)
	rec.ID = uuid.NewString()
	rec.ClosedAt = e.stamp()
	rec.ClosedBy = caller.ActorID
	all, err := e.Repo.ListRequests(ctx, e.DB, repo.RequestFilter{TeamID: team.ID})
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	rec.LeftBehind = leftBehind(all, period.Key, cfg.Workflow.DoneStatus)

	if err := e.persistCloseRecord(ctx, rec); err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	log := e.log().With(zap.String("team", team.Code), zap.String("period", period.Key))
	log.Info("period close summary stored", zap.Int("total", rec.TotalRequests), zap.Int("carried_over", rec.CarriedOverCount))
	if len(rec.LeftBehind) > 0 {
		log.Warn("team has unfinished requests in earlier periods", zap.Int("left_behind", len(rec.LeftBehind)))
	}

	if err := e.advance(ctx, caller, team, period, rec.NextPeriodKey, pendingIDs(reqs, cfg.Workflow.DoneStatus), rec.ClosedAt); err != nil {
		log.Error("period advance failed", zap.Error(err))
		return rec, fmt.Errorf("%w: %w", domain.ErrAdvanceFailed, err)
	}
	log.Info("period advanced", zap.String("next", rec.NextPeriodKey))
	return rec, nil
}

func (e Engine) persistCloseRecord(ctx context.Context, rec domain.PeriodCloseRecord) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistFailed, err)
	}
	defer tx.Rollback()
	inserted, err := e.Repo.InsertCloseRecord(ctx, tx, rec)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistFailed, err)
	}
	if !inserted {
		return domain.ErrAlreadyClosed
	}
	if err := e.appendEvent(ctx, tx, events.PeriodClosed, events.Scope{TeamID: rec.TeamID, PeriodKey: rec.PeriodKey}, "period_close", rec.ID, rec.ClosedBy, events.EventPayload{
		"total_requests":     rec.TotalRequests,
		"completed_count":    rec.CompletedCount,
		"carried_over_count": rec.CarriedOverCount,
		"next_period_key":    rec.NextPeriodKey,
		"left_behind_count":  len(rec.LeftBehind),
	}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistFailed, err)
	}
	return nil
}

// advance runs close steps 5-7 atomically.
func (e Engine) advance(ctx context.Context, caller auth.Caller, team domain.Team, period domain.Period, nextKey string, pending []string, closedAt string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	deactivated, err := e.Repo.DeactivateObjectives(ctx, tx, team.ID, period.Key)
	if err != nil {
		return fmt.Errorf("deactivate objectives: %w", err)
	}
	moved, err := e.Repo.CarryOver(ctx, tx, team.ID, period.Key, nextKey, pending, closedAt)
	if err != nil {
		return fmt.Errorf("carry over: %w", err)
	}
	if err := e.Repo.EndPeriod(ctx, tx, period.Key, closedAt); err != nil {
		return fmt.Errorf("end period %s: %w", period.Key, err)
	}
	next := domain.Period{Key: nextKey, Label: nextKey, Ordinal: period.Ordinal + 1, StartedAt: closedAt, Current: true}
	if err := e.Repo.InsertPeriod(ctx, tx, next); err != nil {
		return fmt.Errorf("open period %s: %w", nextKey, err)
	}
	if err := e.appendEvent(ctx, tx, events.PeriodAdvanced, events.Scope{TeamID: team.ID, PeriodKey: period.Key}, "period", nextKey, caller.ActorID, events.EventPayload{
		"from":                   period.Key,
		"to":                     nextKey,
		"carried_over":           moved,
		"objectives_deactivated": deactivated,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ResumeClose finishes a close whose summary was stored but whose advance
// failed. It refuses when there is no record or the period already moved on.
func (e Engine) ResumeClose(ctx context.Context, caller auth.Caller, teamID, periodKey string) (domain.PeriodCloseRecord, error) {
	if err := e.require(caller, auth.PermPeriodClose); err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	period, err := e.CurrentPeriod(ctx)
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	if periodKey == "" {
		periodKey = period.Key
	}
	if period.Key != periodKey {
		return domain.PeriodCloseRecord{}, fmt.Errorf("%w: period %s is not current", domain.ErrNotResumable, periodKey)
	}
	rec, err := e.Repo.GetCloseRecord(ctx, e.DB, team.ID, periodKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PeriodCloseRecord{}, fmt.Errorf("%w: no close record for %s", domain.ErrNotResumable, periodKey)
	}
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	reqs, err := e.Repo.ListRequests(ctx, e.DB, repo.RequestFilter{TeamID: team.ID, PeriodKey: periodKey})
	if err != nil {
		return domain.PeriodCloseRecord{}, err
	}
	if err := e.advance(ctx, caller, team, period, rec.NextPeriodKey, pendingIDs(reqs, cfg.Workflow.DoneStatus), e.stamp()); err != nil {
		return rec, fmt.Errorf("%w: %w", domain.ErrAdvanceFailed, err)
	}
	e.log().Info("period close resumed", zap.String("team", team.Code), zap.String("period", periodKey))
	return rec, nil
}

// CloseRecords lists a team's close summaries, newest first.
func (e Engine) CloseRecords(ctx context.Context, teamID string) ([]domain.PeriodCloseRecord, error) {
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListCloseRecords(ctx, e.DB, team.ID)
}

func pendingIDs(reqs []domain.Request, doneStatus string) []string {
	ids := []string{}
	for _, r := range reqs {
		if r.Status != doneStatus {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// leftBehind returns the unfinished requests outside the current period, in
// intake order.
func leftBehind(reqs []domain.Request, currentKey, doneStatus string) []domain.StrandedRequest {
	out := []domain.StrandedRequest{}
	for _, r := range reqs {
		if r.PeriodKey == currentKey || r.Status == doneStatus {
			continue
		}
		out = append(out, domain.StrandedRequest{RequestID: r.ID, Code: r.Code, Status: r.Status, PeriodKey: r.PeriodKey})
	}
	return out
}

// DefaultTopCompleted is the size of the top list when none is configured.
const DefaultTopCompleted = 5

// Summarize builds the close summary for a team's requests in one period.
// reqs must be in intake order; equal scores keep that order in the top list.
func Summarize(team domain.Team, period domain.Period, reqs []domain.Request, developerNames map[string]string, doneStatus string, topN int) domain.PeriodCloseRecord {
	rec := domain.PeriodCloseRecord{
		TeamID:        team.ID,
		TeamName:      team.Name,
		PeriodKey:     period.Key,
		PeriodLabel:   period.Label,
		NextPeriodKey: periodkey.Next(period.Key),
		Label:         fmt.Sprintf("%s · %s", team.Name, period.Label),
		ByType:        map[string]int{},
		ByStatus:      map[string]int{},
		TopCompleted:  []domain.TopRequest{},
	}
	var completed []domain.Request
	var total float64
	for _, r := range reqs {
		rec.TotalRequests++
		rec.ByType[r.Type]++
		rec.ByStatus[r.Status]++
		total += r.PriorityScore
		if r.Status == doneStatus {
			completed = append(completed, r)
		}
	}
	rec.CompletedCount = len(completed)
	rec.CarriedOverCount = rec.TotalRequests - rec.CompletedCount
	if rec.TotalRequests > 0 {
		rec.AverageScore = priority.Round2(total / float64(rec.TotalRequests))
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].PriorityScore > completed[j].PriorityScore
	})
	if topN <= 0 {
		topN = DefaultTopCompleted
	}
	if len(completed) > topN {
		completed = completed[:topN]
	}
	for _, r := range completed {
		top := domain.TopRequest{
			RequestID:     r.ID,
			Code:          r.Code,
			Title:         r.Title,
			Type:          r.Type,
			PriorityScore: r.PriorityScore,
		}
		if r.DeveloperID != nil {
			top.DeveloperID = *r.DeveloperID
			top.DeveloperName = developerNames[*r.DeveloperID]
		}
		rec.TopCompleted = append(rec.TopCompleted, top)
	}
	return rec
}
