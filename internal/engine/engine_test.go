package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"intakeline/internal/app"
	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/engine"
	"intakeline/internal/engine/auth"
	"intakeline/internal/migrate"
)

var admin = auth.Caller{ActorID: "alice", Role: "admin"}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Team   domain.Team
	Dev    domain.Developer
	Obj    domain.Objective
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-test")
	eng := engine.New(conn, db.SQLite, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := app.Bootstrap(ctx, eng, "tester"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	team, err := eng.CreateTeam(ctx, admin, "OPS", "Operations")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	dev, err := eng.AddDeveloper(ctx, admin, team.ID, "Dana", "dana@example.com")
	if err != nil {
		t.Fatalf("add developer: %v", err)
	}
	obj, err := eng.CreateObjective(ctx, admin, team.ID, "obj-1", "Reduce incident backlog")
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Team: team, Dev: dev, Obj: obj}
}

func (env testEnv) newRequest(t *testing.T, title string, u, i, c int) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, admin, engine.CreateRequestOptions{
		TeamID:     env.Team.ID,
		Title:      title,
		Urgency:    u,
		Importance: i,
		Complexity: c,
	})
	if err != nil {
		t.Fatalf("create request %s: %v", title, err)
	}
	return req
}

func (env testEnv) transition(t *testing.T, in engine.TransitionInput) engine.TransitionResult {
	t.Helper()
	res, err := env.Engine.AttemptTransition(env.Ctx, admin, in)
	if err != nil {
		t.Fatalf("transition %s -> %s: %v", in.RequestID, in.ToStatus, err)
	}
	return res
}

// startWork moves a backlog request into in_progress with the env's objective
// and developer.
func (env testEnv) startWork(t *testing.T, id string) {
	t.Helper()
	if res := env.transition(t, engine.TransitionInput{RequestID: id, ToStatus: "prioritized"}); res.Outcome != engine.OutcomeApplied {
		t.Fatalf("prioritize: %+v", res)
	}
	res := env.transition(t, engine.TransitionInput{
		RequestID:    id,
		ToStatus:     "in_progress",
		ObjectiveIDs: []string{env.Obj.ID},
		AssigneeIDs:  []string{env.Dev.ID},
	})
	if res.Outcome != engine.OutcomeApplied {
		t.Fatalf("start work: %+v", res)
	}
}

func (env testEnv) finish(t *testing.T, id string) {
	t.Helper()
	env.startWork(t, id)
	if res := env.transition(t, engine.TransitionInput{RequestID: id, ToStatus: "done", Confirmed: true}); res.Outcome != engine.OutcomeApplied {
		t.Fatalf("finish: %+v", res)
	}
}

func (env testEnv) exec(t *testing.T, stmt string) {
	t.Helper()
	if _, err := env.Engine.DB.ExecContext(env.Ctx, stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func TestCreateRequestScoresAndNumbers(t *testing.T) {
	env := newTestEnv(t)
	first := env.newRequest(t, "Checkout outage", 5, 5, 1)
	if first.PriorityScore != 10 || first.Code != "OPS-1" || first.Status != "backlog" {
		t.Fatalf("unexpected first request %+v", first)
	}
	if first.PeriodKey != "FY26-27" {
		t.Fatalf("expected current period, got %s", first.PeriodKey)
	}
	second := env.newRequest(t, "Out of range", 0, 9, 10)
	if second.Code != "OPS-2" {
		t.Fatalf("expected OPS-2, got %s", second.Code)
	}
	if second.Urgency != 1 || second.Importance != 5 || second.Complexity != 5 || second.PriorityScore != 1.2 {
		t.Fatalf("expected clamped levels, got %+v", second)
	}
	got, err := env.Engine.GetRequest(env.Ctx, "OPS-2")
	if err != nil || got.ID != second.ID {
		t.Fatalf("lookup by code: %v %+v", err, got)
	}
	if _, err := env.Engine.CreateRequest(env.Ctx, admin, engine.CreateRequestOptions{TeamID: env.Team.ID, Title: "x", Type: "chore"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for type, got %v", err)
	}
}

func TestRescoreAndQuadrantMoves(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Slow report", 3, 3, 3)
	if req.PriorityScore != 3.6 {
		t.Fatalf("expected 3.6, got %v", req.PriorityScore)
	}
	c := 1
	req, err := env.Engine.Rescore(env.Ctx, admin, req.ID, engine.RescoreOptions{Complexity: &c})
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if req.PriorityScore != 6 || req.Urgency != 3 {
		t.Fatalf("unexpected rescore %+v", req)
	}
	if _, err := env.Engine.MoveToQuadrant(env.Ctx, admin, req.ID, "Q2", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("backlog requests are not on the board, got %v", err)
	}
	env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized"})
	req, err = env.Engine.MoveToQuadrant(env.Ctx, admin, req.ID, "Q2", 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if req.Urgency != 2 || req.Importance != 4 || req.Complexity != 1 || req.PriorityScore != 6 {
		t.Fatalf("unexpected quadrant values %+v", req)
	}
	board, err := env.Engine.QuadrantBoard(env.Ctx, env.Team.Code)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(board.Columns) != 4 || board.Columns[1].Quadrant != "Q2" || len(board.Columns[1].Requests) != 1 {
		t.Fatalf("unexpected board %+v", board)
	}
	env.newRequest(t, "Still in backlog", 5, 5, 5)
	board, _ = env.Engine.QuadrantBoard(env.Ctx, env.Team.ID)
	total := 0
	for _, col := range board.Columns {
		total += len(col.Requests)
	}
	if total != 1 {
		t.Fatalf("backlog request must not be on the board, got %d", total)
	}
}

func TestGateRequiresObjectivesAndAssignees(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Migrate billing", 4, 4, 3)
	env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized"})

	res := env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "in_progress"})
	if res.Outcome != engine.OutcomeNeedsObjectivesAndAssignees {
		t.Fatalf("expected gate block, got %+v", res)
	}
	if len(res.Linkage.ObjectiveIDs) != 0 || len(res.Linkage.AssigneeIDs) != 0 {
		t.Fatalf("expected empty selections, got %+v", res.Linkage)
	}
	res = env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "in_progress", ObjectiveIDs: []string{env.Obj.ID}})
	if res.Outcome != engine.OutcomeNeedsObjectivesAndAssignees {
		t.Fatalf("objectives alone must not pass, got %+v", res)
	}
	stored, _ := env.Engine.GetRequest(env.Ctx, req.ID)
	if stored.Status != "prioritized" {
		t.Fatalf("blocked attempt changed status to %s", stored.Status)
	}

	res = env.transition(t, engine.TransitionInput{
		RequestID:    req.ID,
		ToStatus:     "in_progress",
		ObjectiveIDs: []string{env.Obj.ID},
		AssigneeIDs:  []string{env.Dev.ID},
	})
	if res.Outcome != engine.OutcomeApplied || res.Request.Status != "in_progress" {
		t.Fatalf("expected applied, got %+v", res)
	}
	if res.Request.DeveloperID == nil || *res.Request.DeveloperID != env.Dev.ID {
		t.Fatalf("expected primary developer from first assignee, got %v", res.Request.DeveloperID)
	}

	// leaving and re-entering with the stored linkage passes the gate
	env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized"})
	if res := env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "in_progress"}); res.Outcome != engine.OutcomeApplied {
		t.Fatalf("stored linkage should satisfy gate, got %+v", res)
	}

	// re-supplying the same sets replaces, never duplicates
	env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized"})
	res = env.transition(t, engine.TransitionInput{
		RequestID:    req.ID,
		ToStatus:     "in_progress",
		ObjectiveIDs: []string{env.Obj.ID, env.Obj.ID},
		AssigneeIDs:  []string{env.Dev.ID, " " + env.Dev.ID},
	})
	if res.Outcome != engine.OutcomeApplied {
		t.Fatalf("expected applied, got %+v", res)
	}
	link, err := env.Engine.Linkage(env.Ctx, req.ID)
	if err != nil {
		t.Fatalf("linkage: %v", err)
	}
	if len(link.ObjectiveIDs) != 1 || link.ObjectiveIDs[0] != env.Obj.ID || len(link.AssigneeIDs) != 1 || link.AssigneeIDs[0] != env.Dev.ID {
		t.Fatalf("unexpected linkage %+v", link)
	}
}

func TestGateRejectsIllegalTransitionsAndForeignLinks(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Audit logs", 2, 2, 2)
	res := env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "done", Confirmed: true})
	if res.Outcome != engine.OutcomeRejected {
		t.Fatalf("backlog -> done must be rejected, got %+v", res)
	}
	if len(res.Allowed) != 2 || res.Allowed[0].Key != "prioritized" || res.Allowed[1].Key != "cancelled" {
		t.Fatalf("unexpected allowed list %+v", res.Allowed)
	}

	other, err := env.Engine.CreateTeam(env.Ctx, admin, "WEB", "Web")
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	outsider, err := env.Engine.AddDeveloper(env.Ctx, admin, other.ID, "Omar", "")
	if err != nil {
		t.Fatalf("developer: %v", err)
	}
	env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized"})
	res = env.transition(t, engine.TransitionInput{
		RequestID:    req.ID,
		ToStatus:     "in_progress",
		ObjectiveIDs: []string{env.Obj.ID},
		AssigneeIDs:  []string{outsider.ID},
	})
	if res.Outcome != engine.OutcomeRejected {
		t.Fatalf("foreign developer must be rejected, got %+v", res)
	}
	res = env.transition(t, engine.TransitionInput{
		RequestID:    req.ID,
		ToStatus:     "in_progress",
		ObjectiveIDs: []string{"missing"},
		AssigneeIDs:  []string{env.Dev.ID},
	})
	if res.Outcome != engine.OutcomeRejected {
		t.Fatalf("unknown objective must be rejected, got %+v", res)
	}
	link, _ := env.Engine.Linkage(env.Ctx, req.ID)
	stored, _ := env.Engine.GetRequest(env.Ctx, req.ID)
	if len(link.ObjectiveIDs) != 0 || len(link.AssigneeIDs) != 0 || stored.Status != "prioritized" {
		t.Fatalf("rejected attempt left state behind: %+v %s", link, stored.Status)
	}
}

func TestConfirmationRequiredForFinalStatuses(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Dead feature", 1, 1, 1)
	res := env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "cancelled"})
	if res.Outcome != engine.OutcomeNeedsConfirmation {
		t.Fatalf("expected confirmation request, got %+v", res)
	}
	res = env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "cancelled", Confirmed: true})
	if res.Outcome != engine.OutcomeApplied || res.Request.Status != "cancelled" {
		t.Fatalf("expected applied, got %+v", res)
	}
}

func TestStaleVersionIsConflict(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Flaky job", 3, 2, 2)
	u := 5
	if _, err := env.Engine.Rescore(env.Ctx, admin, req.ID, engine.RescoreOptions{Urgency: &u, ExpectedVersion: req.Version}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := env.Engine.Rescore(env.Ctx, admin, req.ID, engine.RescoreOptions{Urgency: &u, ExpectedVersion: req.Version}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err := env.Engine.AttemptTransition(env.Ctx, admin, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized", ExpectedVersion: req.Version})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on transition, got %v", err)
	}
}

func TestRolesAreEnforced(t *testing.T) {
	env := newTestEnv(t)
	viewer := auth.Caller{ActorID: "vic", Role: "viewer"}
	_, err := env.Engine.CreateRequest(env.Ctx, viewer, engine.CreateRequestOptions{TeamID: env.Team.ID, Title: "x"})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != auth.PermRequestWrite {
		t.Fatalf("expected forbidden, got %v", err)
	}
	dev := auth.Caller{ActorID: "dana", Role: "developer"}
	if _, err := env.Engine.ClosePeriod(env.Ctx, dev, env.Team.ID); !errors.As(err, &fe) {
		t.Fatalf("developer must not close periods, got %v", err)
	}
}

func TestBlockerLedger(t *testing.T) {
	env := newTestEnv(t)
	a := env.newRequest(t, "Vendor API down", 5, 4, 2)
	b := env.newRequest(t, "Cleanup", 2, 2, 2)
	if _, err := env.Engine.ReportBlocker(env.Ctx, admin, a.ID, "waiting on vendor"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := env.Engine.ReportBlocker(env.Ctx, admin, a.ID, ""); err != nil {
		t.Fatalf("report: %v", err)
	}
	tally, err := env.Engine.ResolveBlocker(env.Ctx, admin, a.ID, "vendor fixed one")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tally.Balance != 1 || !tally.Active() || tally.Reported != 2 || tally.Resolved != 1 {
		t.Fatalf("unexpected tally %+v", tally)
	}
	env.Engine.ReportBlocker(env.Ctx, admin, b.ID, "")
	env.Engine.ResolveBlocker(env.Ctx, admin, b.ID, "")
	tally, _ = env.Engine.ResolveBlocker(env.Ctx, admin, b.ID, "")
	if tally.Balance != -1 || tally.Active() {
		t.Fatalf("expected negative, inactive balance, got %+v", tally)
	}
	open, err := env.Engine.OpenBlockers(env.Ctx, env.Team.ID)
	if err != nil {
		t.Fatalf("open blockers: %v", err)
	}
	if open.Count != 1 || open.RequestIDs[0] != a.ID {
		t.Fatalf("unexpected open blockers %+v", open)
	}
	stored, _ := env.Engine.GetRequest(env.Ctx, a.ID)
	if stored.Status != "backlog" {
		t.Fatalf("blockers must not change status, got %s", stored.Status)
	}
}

func TestClosePeriodSummarizesCarriesOverAndAdvances(t *testing.T) {
	env := newTestEnv(t)
	done := env.newRequest(t, "Payment outage", 5, 5, 1)
	backlog := env.newRequest(t, "Dark mode", 3, 3, 3)
	prioritized := env.newRequest(t, "Export CSV", 2, 4, 2)
	env.finish(t, done.ID)
	env.transition(t, engine.TransitionInput{RequestID: prioritized.ID, ToStatus: "prioritized"})

	rec, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.TotalRequests != 3 || rec.CompletedCount != 1 || rec.CarriedOverCount != 2 {
		t.Fatalf("unexpected totals %+v", rec)
	}
	if rec.ByStatus["done"] != 1 || rec.ByStatus["backlog"] != 1 || rec.ByStatus["prioritized"] != 1 || rec.ByType[domain.TypeImprovement] != 3 {
		t.Fatalf("unexpected breakdown %+v %+v", rec.ByStatus, rec.ByType)
	}
	if rec.AverageScore != 6.13 {
		t.Fatalf("expected average 6.13, got %v", rec.AverageScore)
	}
	if len(rec.TopCompleted) != 1 || rec.TopCompleted[0].RequestID != done.ID || rec.TopCompleted[0].DeveloperName != "Dana" {
		t.Fatalf("unexpected top list %+v", rec.TopCompleted)
	}
	if rec.NextPeriodKey != "FY27-28" || rec.TeamName != "Operations" || rec.Label != "Operations · FY 2026-27" {
		t.Fatalf("unexpected labels %+v", rec)
	}

	cur, err := env.Engine.CurrentPeriod(env.Ctx)
	if err != nil || cur.Key != "FY27-28" || cur.Ordinal != 2 {
		t.Fatalf("expected FY27-28 current, got %+v %v", cur, err)
	}
	periods, _ := env.Engine.ListPeriods(env.Ctx)
	if len(periods) != 2 || periods[0].Current || periods[0].EndedAt == nil {
		t.Fatalf("old period must be ended, got %+v", periods)
	}
	for _, id := range []string{backlog.ID, prioritized.ID} {
		before := map[string]domain.Request{backlog.ID: backlog, prioritized.ID: prioritized}[id]
		after, _ := env.Engine.GetRequest(env.Ctx, id)
		if after.PeriodKey != "FY27-28" || after.PriorityScore != before.PriorityScore {
			t.Fatalf("carry-over changed more than the period: %+v", after)
		}
	}
	after, _ := env.Engine.GetRequest(env.Ctx, prioritized.ID)
	if after.Status != "prioritized" {
		t.Fatalf("carry-over changed status to %s", after.Status)
	}
	finished, _ := env.Engine.GetRequest(env.Ctx, done.ID)
	if finished.PeriodKey != "FY26-27" {
		t.Fatalf("completed request must stay in its period, got %s", finished.PeriodKey)
	}
	objs, _ := env.Engine.ListObjectives(env.Ctx, env.Team.ID, "FY26-27", false)
	if len(objs) != 1 || objs[0].Active {
		t.Fatalf("objectives must be deactivated, got %+v", objs)
	}
	records, _ := env.Engine.CloseRecords(env.Ctx, env.Team.ID)
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("expected stored record, got %+v", records)
	}
}

func TestClosePeriodRefusesExistingRecord(t *testing.T) {
	env := newTestEnv(t)
	env.newRequest(t, "Anything", 3, 3, 3)
	cur, _ := env.Engine.CurrentPeriod(env.Ctx)
	existing := domain.PeriodCloseRecord{ID: "rec-0", TeamID: env.Team.ID, PeriodKey: cur.Key, NextPeriodKey: "FY27-28", Label: "x", ClosedAt: "2026-03-31T00:00:00Z", ClosedBy: "bob"}
	inserted, err := env.Engine.Repo.InsertCloseRecord(env.Ctx, env.Engine.DB, existing)
	if err != nil || !inserted {
		t.Fatalf("seed record: %v %v", inserted, err)
	}
	inserted, err = env.Engine.Repo.InsertCloseRecord(env.Ctx, env.Engine.DB, domain.PeriodCloseRecord{ID: "rec-1", TeamID: env.Team.ID, PeriodKey: cur.Key, NextPeriodKey: "FY27-28", Label: "y", ClosedAt: "2026-03-31T00:00:00Z", ClosedBy: "carol"})
	if err != nil || inserted {
		t.Fatalf("second insert must be ignored: %v %v", inserted, err)
	}
	if _, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected already closed, got %v", err)
	}
	records, _ := env.Engine.CloseRecords(env.Ctx, env.Team.ID)
	if len(records) != 1 || records[0].ClosedBy != "bob" {
		t.Fatalf("expected the original record only, got %+v", records)
	}
}

func TestClosePeriodPersistFailureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Pending", 3, 3, 3)
	env.exec(t, `CREATE TRIGGER fail_close BEFORE INSERT ON period_close_records BEGIN SELECT RAISE(ABORT, 'disk full'); END;`)

	_, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID)
	if !errors.Is(err, domain.ErrPersistFailed) || errors.Is(err, domain.ErrAdvanceFailed) {
		t.Fatalf("expected persist failure, got %v", err)
	}
	cur, _ := env.Engine.CurrentPeriod(env.Ctx)
	stored, _ := env.Engine.GetRequest(env.Ctx, req.ID)
	objs, _ := env.Engine.ListObjectives(env.Ctx, env.Team.ID, "", true)
	if cur.Key != "FY26-27" || stored.PeriodKey != "FY26-27" || len(objs) != 1 {
		t.Fatalf("persist failure must leave state untouched: %s %s %d", cur.Key, stored.PeriodKey, len(objs))
	}

	env.exec(t, `DROP TRIGGER fail_close;`)
	if _, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID); err != nil {
		t.Fatalf("retry after persist failure: %v", err)
	}
}

func TestClosePeriodAdvanceFailureThenResume(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Pending", 3, 3, 3)
	env.exec(t, `CREATE TRIGGER fail_advance BEFORE INSERT ON periods BEGIN SELECT RAISE(ABORT, 'boom'); END;`)

	rec, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID)
	if !errors.Is(err, domain.ErrAdvanceFailed) {
		t.Fatalf("expected advance failure, got %v", err)
	}
	if rec.ID == "" || rec.CarriedOverCount != 1 {
		t.Fatalf("advance failure must return the stored record, got %+v", rec)
	}
	cur, _ := env.Engine.CurrentPeriod(env.Ctx)
	stored, _ := env.Engine.GetRequest(env.Ctx, req.ID)
	objs, _ := env.Engine.ListObjectives(env.Ctx, env.Team.ID, "", true)
	if cur.Key != "FY26-27" || stored.PeriodKey != "FY26-27" || len(objs) != 1 {
		t.Fatalf("failed advance must roll back steps 5-7: %s %s %d", cur.Key, stored.PeriodKey, len(objs))
	}
	if _, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("a blind retry must not write a second summary, got %v", err)
	}

	env.exec(t, `DROP TRIGGER fail_advance;`)
	resumed, err := env.Engine.ResumeClose(env.Ctx, admin, env.Team.ID, "FY26-27")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != rec.ID {
		t.Fatalf("resume must reuse the stored record")
	}
	cur, _ = env.Engine.CurrentPeriod(env.Ctx)
	stored, _ = env.Engine.GetRequest(env.Ctx, req.ID)
	if cur.Key != "FY27-28" || stored.PeriodKey != "FY27-28" {
		t.Fatalf("resume did not advance: %s %s", cur.Key, stored.PeriodKey)
	}
	if _, err := env.Engine.ResumeClose(env.Ctx, admin, env.Team.ID, "FY26-27"); !errors.Is(err, domain.ErrNotResumable) {
		t.Fatalf("expected not resumable, got %v", err)
	}
	records, _ := env.Engine.CloseRecords(env.Ctx, env.Team.ID)
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
}

func TestSummarizeTopCompletedIsStable(t *testing.T) {
	team := domain.Team{ID: "t1", Name: "Core"}
	period := domain.Period{Key: "PERIOD-7", Label: "Period 7"}
	dev := "d1"
	var reqs []domain.Request
	for i, score := range []float64{5, 8, 8, 3, 8, 1, 9} {
		reqs = append(reqs, domain.Request{ID: string(rune('a' + i)), Type: domain.TypeProject, Status: "done", PriorityScore: score, DeveloperID: &dev})
	}
	reqs = append(reqs,
		domain.Request{ID: "p1", Type: domain.TypeIncident, Status: "backlog", PriorityScore: 2},
		domain.Request{ID: "p2", Type: domain.TypeIncident, Status: "qa_review", PriorityScore: 4},
	)
	rec := engine.Summarize(team, period, reqs, map[string]string{"d1": "Dana"}, "done", 5)
	want := []string{"g", "b", "c", "e", "a"}
	if len(rec.TopCompleted) != len(want) {
		t.Fatalf("expected %d top requests, got %d", len(want), len(rec.TopCompleted))
	}
	for i, id := range want {
		if rec.TopCompleted[i].RequestID != id {
			t.Fatalf("top[%d]=%s want %s", i, rec.TopCompleted[i].RequestID, id)
		}
	}
	if rec.TopCompleted[0].DeveloperName != "Dana" {
		t.Fatalf("expected attribution, got %+v", rec.TopCompleted[0])
	}
	if rec.AverageScore != 5.33 || rec.TotalRequests != 9 || rec.CompletedCount != 7 || rec.CarriedOverCount != 2 {
		t.Fatalf("unexpected summary %+v", rec)
	}
	if rec.ByType[domain.TypeProject] != 7 || rec.ByType[domain.TypeIncident] != 2 || rec.NextPeriodKey != "PERIOD-8" {
		t.Fatalf("unexpected breakdown %+v", rec)
	}

	empty := engine.Summarize(team, period, nil, nil, "done", 5)
	if empty.AverageScore != 0 || empty.TotalRequests != 0 || len(empty.TopCompleted) != 0 {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}

func TestStatusAdministration(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.Engine.UpsertStatus(env.Ctx, admin, domain.StatusDefinition{
		Key:         " Blocked ",
		Label:       "Blocked",
		Position:    35,
		AllowedNext: []string{"IN_PROGRESS", "blocked", "ghost"},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.Key != "blocked" || len(saved.AllowedNext) != 1 || saved.AllowedNext[0] != "in_progress" {
		t.Fatalf("expected normalized status, got %+v", saved)
	}
	next, _ := env.Engine.AllowedTransitions(env.Ctx, "blocked")
	if len(next) != 1 || next[0].Key != "in_progress" {
		t.Fatalf("unexpected transitions %+v", next)
	}

	if _, err := env.Engine.DeactivateStatus(env.Ctx, admin, "qa_review"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	next, _ = env.Engine.AllowedTransitions(env.Ctx, "in_progress")
	for _, s := range next {
		if s.Key == "qa_review" || s.Key == "in_progress" {
			t.Fatalf("inactive or self status offered: %+v", next)
		}
	}
	if ok, _ := env.Engine.IsLegalTransition(env.Ctx, "in_progress", "qa_review"); ok {
		t.Fatalf("inactive target must be illegal")
	}

	if _, err := env.Engine.DeactivateStatus(env.Ctx, admin, "in_progress"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("workflow statuses cannot be deactivated, got %v", err)
	}
	if _, err := env.Engine.UpsertStatus(env.Ctx, admin, domain.StatusDefinition{Key: "on hold", Active: true}); !errors.Is(err, domain.ErrInvalidStatusKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	dev := auth.Caller{ActorID: "dana", Role: "developer"}
	var fe auth.ForbiddenError
	if _, err := env.Engine.UpsertStatus(env.Ctx, dev, saved); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGateRejectsPartialLinkageOverStoredLinkage(t *testing.T) {
	env := newTestEnv(t)
	req := env.newRequest(t, "Upgrade runtime", 4, 4, 2)
	env.startWork(t, req.ID)
	other, err := env.Engine.AddDeveloper(env.Ctx, admin, env.Team.ID, "Eli", "")
	if err != nil {
		t.Fatalf("developer: %v", err)
	}
	env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "prioritized"})

	res := env.transition(t, engine.TransitionInput{RequestID: req.ID, ToStatus: "in_progress", AssigneeIDs: []string{other.ID}})
	if res.Outcome != engine.OutcomeRejected || res.Reason == "" {
		t.Fatalf("assignees alone over a stored linkage must be rejected, got %+v", res)
	}
	link, _ := env.Engine.Linkage(env.Ctx, req.ID)
	stored, _ := env.Engine.GetRequest(env.Ctx, req.ID)
	if len(link.AssigneeIDs) != 1 || link.AssigneeIDs[0] != env.Dev.ID || stored.Status != "prioritized" {
		t.Fatalf("rejected attempt changed state: %+v %s", link, stored.Status)
	}

	res = env.transition(t, engine.TransitionInput{
		RequestID:    req.ID,
		ToStatus:     "in_progress",
		ObjectiveIDs: []string{env.Obj.ID},
		AssigneeIDs:  []string{other.ID},
	})
	if res.Outcome != engine.OutcomeApplied {
		t.Fatalf("expected applied, got %+v", res)
	}
	link, _ = env.Engine.Linkage(env.Ctx, req.ID)
	if len(link.AssigneeIDs) != 1 || link.AssigneeIDs[0] != other.ID {
		t.Fatalf("expected replaced assignees, got %+v", link)
	}
}

func TestClosePeriodListsRequestsLeftInEarlierPeriods(t *testing.T) {
	env := newTestEnv(t)
	env.newRequest(t, "Rotate keys", 3, 3, 3)
	web, err := env.Engine.CreateTeam(env.Ctx, admin, "WEB", "Web")
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	stuck, err := env.Engine.CreateRequest(env.Ctx, admin, engine.CreateRequestOptions{TeamID: web.ID, Title: "Fix header", Urgency: 2, Importance: 2, Complexity: 2})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	opsRec, err := env.Engine.ClosePeriod(env.Ctx, admin, env.Team.ID)
	if err != nil {
		t.Fatalf("close ops: %v", err)
	}
	if len(opsRec.LeftBehind) != 0 {
		t.Fatalf("carried requests are not left behind, got %+v", opsRec.LeftBehind)
	}

	webRec, err := env.Engine.ClosePeriod(env.Ctx, admin, web.ID)
	if err != nil {
		t.Fatalf("close web: %v", err)
	}
	if webRec.PeriodKey != "FY27-28" || webRec.TotalRequests != 0 {
		t.Fatalf("unexpected web summary %+v", webRec)
	}
	if len(webRec.LeftBehind) != 1 {
		t.Fatalf("expected one request left behind, got %+v", webRec.LeftBehind)
	}
	lb := webRec.LeftBehind[0]
	if lb.RequestID != stuck.ID || lb.Code != stuck.Code || lb.PeriodKey != "FY26-27" || lb.Status != "backlog" {
		t.Fatalf("unexpected left-behind entry %+v", lb)
	}
	records, _ := env.Engine.CloseRecords(env.Ctx, web.ID)
	if len(records) != 1 || len(records[0].LeftBehind) != 1 {
		t.Fatalf("left-behind list must be stored with the record, got %+v", records)
	}
}

func TestUpsertStatusKeepsStoredEdgesWhenOmitted(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.Engine.UpsertStatus(env.Ctx, admin, domain.StatusDefinition{Key: "prioritized", Position: 25, Active: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.Position != 25 || saved.Label != "Prioritized" || len(saved.AllowedNext) != 3 {
		t.Fatalf("omitted fields must keep stored values, got %+v", saved)
	}
	if ok, _ := env.Engine.IsLegalTransition(env.Ctx, "prioritized", "in_progress"); !ok {
		t.Fatalf("stored edge lost")
	}

	cleared, err := env.Engine.UpsertStatus(env.Ctx, admin, domain.StatusDefinition{Key: "qa_review", Label: "QA", Position: 40, AllowedNext: []string{}, Active: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(cleared.AllowedNext) != 0 {
		t.Fatalf("an explicit empty set clears edges, got %+v", cleared.AllowedNext)
	}
}
