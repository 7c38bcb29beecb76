package server

import (
	"encoding/json"

	"intakeline/internal/domain"
	"intakeline/internal/engine"
)

// output wraps a response body for huma.
type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

// Request payloads

type CreateTeamRequest struct {
	Code string `json:"code" example:"OPS"`
	Name string `json:"name" example:"Operations"`
}

type AddDeveloperRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type CreateObjectiveRequest struct {
	Code  string `json:"code" example:"OKR-1"`
	Title string `json:"title"`
}

type CreateRequestRequest struct {
	Type        string `json:"type,omitempty" enum:"incident,improvement,project"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Requester   string `json:"requester,omitempty"`
	Urgency     int    `json:"urgency,omitempty"`
	Importance  int    `json:"importance,omitempty"`
	Complexity  int    `json:"complexity,omitempty"`
	DeveloperID string `json:"developer_id,omitempty"`
}

type RescoreRequest struct {
	Urgency         *int `json:"urgency,omitempty"`
	Importance      *int `json:"importance,omitempty"`
	Complexity      *int `json:"complexity,omitempty"`
	ExpectedVersion int  `json:"expected_version,omitempty"`
}

type QuadrantMoveRequest struct {
	Quadrant        string `json:"quadrant" enum:"Q1,Q2,Q3,Q4"`
	ExpectedVersion int    `json:"expected_version,omitempty"`
}

type AssignRequest struct {
	DeveloperID     string `json:"developer_id"`
	ExpectedVersion int    `json:"expected_version,omitempty"`
}

type TransitionRequest struct {
	To              string   `json:"to"`
	ObjectiveIDs    []string `json:"objective_ids,omitempty"`
	AssigneeIDs     []string `json:"assignee_ids,omitempty"`
	Confirmed       bool     `json:"confirmed,omitempty"`
	ExpectedVersion int      `json:"expected_version,omitempty"`
}

type BlockerRequest struct {
	Note string `json:"note,omitempty"`
}

// UpsertStatusRequest leaves stored edges and label untouched when
// allowed_next or label is absent.
type UpsertStatusRequest struct {
	Label       string   `json:"label,omitempty"`
	Position    int      `json:"position"`
	AllowedNext []string `json:"allowed_next,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

type ResumeCloseRequest struct {
	PeriodKey string `json:"period_key,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TeamID     string         `json:"team_id,omitempty"`
	PeriodKey  string         `json:"period_key,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type TransitionResponse struct {
	Outcome string                    `json:"outcome" enum:"applied,needs_objectives_and_assignees,needs_confirmation,rejected"`
	Reason  string                    `json:"reason,omitempty"`
	From    string                    `json:"from"`
	To      string                    `json:"to"`
	Request domain.Request            `json:"request"`
	Linkage domain.Linkage            `json:"linkage"`
	Allowed []domain.StatusDefinition `json:"allowed,omitempty"`
}

type listOf[T any] struct {
	Items []T `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TeamID:     e.TeamID,
		PeriodKey:  e.PeriodKey,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func transitionResponse(res engine.TransitionResult) TransitionResponse {
	return TransitionResponse{
		Outcome: string(res.Outcome),
		Reason:  res.Reason,
		From:    res.From,
		To:      res.To,
		Request: res.Request,
		Linkage: res.Linkage,
		Allowed: res.Allowed,
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func items[T any](in []T) listOf[T] {
	return listOf[T]{Items: nonNilSlice(in)}
}
