package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"intakeline/internal/app"
	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/engine"
	"intakeline/internal/migrate"
	intakelinesdk "intakeline/sdk/go"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("intakeline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, db.SQLite, cfg)
	if err := app.Bootstrap(context.Background(), e, "tester"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              testSecret,
		AllowLegacyActorHeader: true,
		EnableDevLogin:         true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func adminClient(srv *httptest.Server) *intakelinesdk.Client {
	c := intakelinesdk.New(srv.URL)
	c.ActorID = "alice"
	c.Role = "admin"
	return c
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/teams", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/teams", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid credentials, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginIssuesRoleToken(t *testing.T) {
	srv := newTestServer(t)
	c := intakelinesdk.New(srv.URL)
	if err := c.Login(context.Background(), "lee", "lead"); err != nil {
		t.Fatalf("login: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + c.BearerToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "lee" || who.Role != "lead" || len(who.Permissions) == 0 {
		t.Fatalf("unexpected principal %+v", who)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "x", "role": "superuser"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unknown role rejected, got %d %s", res.StatusCode, string(data))
	}
}

func TestTransitionGateOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := adminClient(srv)

	team, err := c.CreateTeam(ctx, "ops", "Operations")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if team.Code != "OPS" {
		t.Fatalf("expected upper-cased code, got %s", team.Code)
	}
	dev, err := c.AddDeveloper(ctx, team.Code, "Dana", "")
	if err != nil {
		t.Fatalf("add developer: %v", err)
	}
	obj, err := c.CreateObjective(ctx, team.Code, "okr-1", "Stabilize payments")
	if err != nil {
		t.Fatalf("create objective: %v", err)
	}
	req, err := c.CreateRequest(ctx, team.Code, intakelinesdk.NewRequest{Title: "Checkout errors", Type: "incident", Urgency: 5, Importance: 5, Complexity: 2})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.Code != "OPS-1" || req.PriorityScore != 8 {
		t.Fatalf("unexpected request %+v", req)
	}

	res, err := c.Transition(ctx, req.Code, intakelinesdk.Transition{To: "prioritized"})
	if err != nil || res.Outcome != "applied" {
		t.Fatalf("prioritize: %v %+v", err, res)
	}
	res, err = c.Transition(ctx, req.Code, intakelinesdk.Transition{To: "in_progress"})
	if err != nil || res.Outcome != "needs_objectives_and_assignees" {
		t.Fatalf("expected gate, got %v %+v", err, res)
	}
	res, err = c.Transition(ctx, req.Code, intakelinesdk.Transition{To: "in_progress", ObjectiveIDs: []string{obj.ID}, AssigneeIDs: []string{dev.ID}})
	if err != nil || res.Outcome != "applied" || res.Request.Status != "in_progress" {
		t.Fatalf("expected applied, got %v %+v", err, res)
	}
	if len(res.Linkage.ObjectiveIDs) != 1 || len(res.Linkage.AssigneeIDs) != 1 {
		t.Fatalf("unexpected linkage %+v", res.Linkage)
	}
	res, err = c.Transition(ctx, req.Code, intakelinesdk.Transition{To: "done"})
	if err != nil || res.Outcome != "needs_confirmation" {
		t.Fatalf("expected confirmation, got %v %+v", err, res)
	}
	res, err = c.Transition(ctx, req.Code, intakelinesdk.Transition{To: "backlog"})
	if err != nil || res.Outcome != "rejected" || len(res.Allowed) == 0 {
		t.Fatalf("expected rejection with allowed list, got %v %+v", err, res)
	}
}

func TestErrorsMapToEnvelope(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := adminClient(srv)
	if _, err := c.CreateTeam(ctx, "WEB", "Web"); err != nil {
		t.Fatalf("create team: %v", err)
	}
	req, err := c.CreateRequest(ctx, "WEB", intakelinesdk.NewRequest{Title: "Slow pages", Urgency: 3, Importance: 3, Complexity: 3})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	_, err = c.GetRequest(ctx, "WEB-99")
	var apiErr *intakelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}

	client := srv.Client()
	headers := map[string]string{"X-Actor-Id": "alice", "X-Role": "admin"}
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/requests/"+req.ID+"/scores", map[string]any{"urgency": 5, "expected_version": req.Version}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rescore status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/requests/"+req.ID+"/scores", map[string]any{"urgency": 4, "expected_version": req.Version}, headers)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "version_conflict" {
		t.Fatalf("expected version conflict, got %d %s", res.StatusCode, string(data))
	}

	viewer := map[string]string{"X-Actor-Id": "vic", "X-Role": "viewer"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams", map[string]any{"code": "NEW", "name": "New"}, viewer)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected forbidden, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/statuses/on%20hold", map[string]any{"label": "On hold", "position": 5}, headers)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_status_key" {
		t.Fatalf("expected invalid status key, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/statuses/prioritized", map[string]any{"position": 25}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status without edges: %d %s", res.StatusCode, string(data))
	}
	var status struct {
		Label       string   `json:"label"`
		AllowedNext []string `json:"allowed_next"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Label != "Prioritized" || len(status.AllowedNext) != 3 {
		t.Fatalf("omitted fields must keep stored values, got %+v", status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/WEB/developers", map[string]any{"name": "Noor"}, headers)
	if res.StatusCode >= 300 {
		t.Fatalf("developer without email: %d %s", res.StatusCode, string(data))
	}
}

func TestClosePeriodOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := adminClient(srv)
	if _, err := c.CreateTeam(ctx, "OPS", "Operations"); err != nil {
		t.Fatalf("create team: %v", err)
	}
	for _, title := range []string{"First", "Second"} {
		if _, err := c.CreateRequest(ctx, "OPS", intakelinesdk.NewRequest{Title: title, Urgency: 2, Importance: 2, Complexity: 2}); err != nil {
			t.Fatalf("create request: %v", err)
		}
	}
	if _, err := c.ReportBlocker(ctx, "OPS-1", "waiting on vendor"); err != nil {
		t.Fatalf("report blocker: %v", err)
	}

	rec, err := c.ClosePeriod(ctx, "OPS")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.TotalRequests != 2 || rec.CarriedOverCount != 2 || rec.NextPeriodKey != "FY27-28" {
		t.Fatalf("unexpected close record %+v", rec)
	}
	moved, err := c.GetRequest(ctx, "OPS-1")
	if err != nil || moved.PeriodKey != "FY27-28" {
		t.Fatalf("expected carry-over, got %v %+v", err, moved)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/teams/OPS/blockers", nil, map[string]string{"X-Actor-Id": "alice", "X-Role": "admin"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("blockers status %d: %s", res.StatusCode, string(data))
	}
	var open engine.OpenBlockers
	if err := json.Unmarshal(data, &open); err != nil {
		t.Fatalf("unmarshal blockers: %v", err)
	}
	if open.Count != 1 || open.PeriodKey != "FY27-28" {
		t.Fatalf("blockers must follow carried-over requests, got %+v", open)
	}

	_, err = c.ResumeClose(ctx, "OPS", "FY26-27")
	var apiErr *intakelinesdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_resumable" {
		t.Fatalf("expected not_resumable, got %v", err)
	}

	events, err := c.Events(ctx, 5)
	if err != nil || len(events) != 5 {
		t.Fatalf("events: %v (%d)", err, len(events))
	}
	if events[0].Type != "period_advanced" {
		t.Fatalf("expected newest event period_advanced, got %s", events[0].Type)
	}
}
