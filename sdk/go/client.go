package intakelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Intakeline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	// ActorID and Role are sent as headers when no token is set. Only
	// servers started with legacy actor headers accept them.
	ActorID string
	Role    string
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Team struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Developer struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
}

type Objective struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	PeriodKey string `json:"period_key"`
	Code      string `json:"code"`
	Title     string `json:"title"`
	Active    bool   `json:"active"`
}

// Request represents the API request model (partial).
type Request struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	Type          string  `json:"type"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	Urgency       int     `json:"urgency"`
	Importance    int     `json:"importance"`
	Complexity    int     `json:"complexity"`
	PriorityScore float64 `json:"priority_score"`
	TeamID        string  `json:"team_id"`
	PeriodKey     string  `json:"period_key"`
	DeveloperID   *string `json:"developer_id,omitempty"`
	Version       int     `json:"version"`
}

// NewRequest carries intake fields. Zero levels are clamped to 1.
type NewRequest struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Requester   string `json:"requester,omitempty"`
	Urgency     int    `json:"urgency,omitempty"`
	Importance  int    `json:"importance,omitempty"`
	Complexity  int    `json:"complexity,omitempty"`
}

type Linkage struct {
	RequestID    string   `json:"request_id"`
	ObjectiveIDs []string `json:"objective_ids"`
	AssigneeIDs  []string `json:"assignee_ids"`
}

type Status struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Position    int      `json:"position"`
	AllowedNext []string `json:"allowed_next"`
	Active      bool     `json:"active"`
}

// Transition is a status change attempt.
type Transition struct {
	To              string   `json:"to"`
	ObjectiveIDs    []string `json:"objective_ids,omitempty"`
	AssigneeIDs     []string `json:"assignee_ids,omitempty"`
	Confirmed       bool     `json:"confirmed,omitempty"`
	ExpectedVersion int      `json:"expected_version,omitempty"`
}

// TransitionResult reports the outcome. Only "applied" changed state.
type TransitionResult struct {
	Outcome string   `json:"outcome"`
	Reason  string   `json:"reason,omitempty"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Request Request  `json:"request"`
	Linkage Linkage  `json:"linkage"`
	Allowed []Status `json:"allowed,omitempty"`
}

type BlockerTally struct {
	RequestID string `json:"request_id"`
	Reported  int    `json:"reported"`
	Resolved  int    `json:"resolved"`
	Balance   int    `json:"balance"`
}

type TopRequest struct {
	RequestID     string  `json:"request_id"`
	Code          string  `json:"code"`
	Title         string  `json:"title"`
	PriorityScore float64 `json:"priority_score"`
	DeveloperName string  `json:"developer_name,omitempty"`
}

type CloseRecord struct {
	ID               string         `json:"id"`
	TeamID           string         `json:"team_id"`
	PeriodKey        string         `json:"period_key"`
	NextPeriodKey    string         `json:"next_period_key"`
	Label            string         `json:"label"`
	TotalRequests    int            `json:"total_requests"`
	CompletedCount   int            `json:"completed_count"`
	CarriedOverCount int            `json:"carried_over_count"`
	ByType           map[string]int `json:"by_type"`
	ByStatus         map[string]int `json:"by_status"`
	TopCompleted     []TopRequest   `json:"top_completed"`
	AverageScore     float64        `json:"average_score"`
	ClosedAt         string         `json:"closed_at"`
	ClosedBy         string         `json:"closed_by"`
	LeftBehind       []Stranded     `json:"left_behind"`
}

// Stranded is an unfinished request left in an earlier period.
type Stranded struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	PeriodKey string `json:"period_key"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TeamID     string         `json:"team_id"`
	PeriodKey  string         `json:"period_key"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Login exchanges an actor and role for a token on servers with dev login
// enabled, and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, actorID, role string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID, "role": role}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

func (c *Client) CreateTeam(ctx context.Context, code, name string) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodPost, "teams", map[string]any{"code": code, "name": name}, &resp)
	return resp, err
}

func (c *Client) AddDeveloper(ctx context.Context, team, name, email string) (Developer, error) {
	body := map[string]any{"name": name}
	if email != "" {
		body["email"] = email
	}
	var resp Developer
	err := c.do(ctx, http.MethodPost, teamPath(team, "developers"), body, &resp)
	return resp, err
}

func (c *Client) CreateObjective(ctx context.Context, team, code, title string) (Objective, error) {
	var resp Objective
	err := c.do(ctx, http.MethodPost, teamPath(team, "objectives"), map[string]any{"code": code, "title": title}, &resp)
	return resp, err
}

// CreateRequest files a request for a team.
func (c *Client) CreateRequest(ctx context.Context, team string, in NewRequest) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, teamPath(team, "requests"), in, &resp)
	return resp, err
}

// GetRequest fetches a request by id or code.
func (c *Client) GetRequest(ctx context.Context, idOrCode string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, requestPath(idOrCode, ""), nil, &resp)
	return resp, err
}

// Transition attempts a status change. A non-applied outcome is not an error.
func (c *Client) Transition(ctx context.Context, idOrCode string, in Transition) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, requestPath(idOrCode, "transitions"), in, &resp)
	return resp, err
}

func (c *Client) ReportBlocker(ctx context.Context, idOrCode, note string) (BlockerTally, error) {
	var resp BlockerTally
	err := c.do(ctx, http.MethodPost, requestPath(idOrCode, "blockers"), map[string]any{"note": note}, &resp)
	return resp, err
}

func (c *Client) ResolveBlocker(ctx context.Context, idOrCode, note string) (BlockerTally, error) {
	var resp BlockerTally
	err := c.do(ctx, http.MethodPost, requestPath(idOrCode, "blockers/resolve"), map[string]any{"note": note}, &resp)
	return resp, err
}

// ClosePeriod closes the current period for a team.
func (c *Client) ClosePeriod(ctx context.Context, team string) (CloseRecord, error) {
	var resp CloseRecord
	err := c.do(ctx, http.MethodPost, teamPath(team, "close"), nil, &resp)
	return resp, err
}

// ResumeClose finishes a close whose advance failed.
func (c *Client) ResumeClose(ctx context.Context, team, periodKey string) (CloseRecord, error) {
	var resp CloseRecord
	err := c.do(ctx, http.MethodPost, teamPath(team, "close/resume"), map[string]any{"period_key": periodKey}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		req.Header.Set("X-Role", c.Role)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func teamPath(team, p string) string {
	return fmt.Sprintf("teams/%s/%s", url.PathEscape(team), strings.TrimLeft(p, "/"))
}

func requestPath(id, p string) string {
	if p == "" {
		return fmt.Sprintf("requests/%s", url.PathEscape(id))
	}
	return fmt.Sprintf("requests/%s/%s", url.PathEscape(id), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
