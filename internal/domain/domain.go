package domain

type Team struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Developer struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Request types.
const (
	TypeIncident    = "incident"
	TypeImprovement = "improvement"
	TypeProject     = "project"
)

// ValidRequestType reports whether t is one of the known request types.
func ValidRequestType(t string) bool {
	switch t {
	case TypeIncident, TypeImprovement, TypeProject:
		return true
	}
	return false
}

type Request struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	Seq           int     `json:"seq"`
	Type          string  `json:"type" enum:"incident,improvement,project"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Requester     string  `json:"requester,omitempty"`
	Status        string  `json:"status"`
	Urgency       int     `json:"urgency" minimum:"1" maximum:"5"`
	Importance    int     `json:"importance" minimum:"1" maximum:"5"`
	Complexity    int     `json:"complexity" minimum:"1" maximum:"5"`
	PriorityScore float64 `json:"priority_score"`
	TeamID        string  `json:"team_id"`
	PeriodKey     string  `json:"period_key"`
	DeveloperID   *string `json:"developer_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	// Version increments on every write and guards concurrent updates.
	Version int `json:"version"`
}

type StatusDefinition struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Position    int      `json:"position"`
	AllowedNext []string `json:"allowed_next"`
	Active      bool     `json:"active"`
}

type Objective struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	PeriodKey string `json:"period_key"`
	Code      string `json:"code"`
	Title     string `json:"title"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Assignment struct {
	RequestID   string `json:"request_id"`
	DeveloperID string `json:"developer_id"`
	AssignedAt  string `json:"assigned_at" format:"date-time"`
	AssignedBy  string `json:"assigned_by"`
}

// Linkage is the objective and assignee selection of one request.
type Linkage struct {
	RequestID    string   `json:"request_id"`
	ObjectiveIDs []string `json:"objective_ids"`
	AssigneeIDs  []string `json:"assignee_ids"`
}

type Period struct {
	Key       string  `json:"key"`
	Label     string  `json:"label"`
	Ordinal   int     `json:"ordinal"`
	StartedAt string  `json:"started_at" format:"date-time"`
	EndedAt   *string `json:"ended_at,omitempty" format:"date-time"`
	Current   bool    `json:"current"`
}

// Activity event types reduced by the blocker ledger.
const (
	EventBlockerReported = "blocker_reported"
	EventBlockerResolved = "blocker_resolved"
)

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TeamID     string `json:"team_id,omitempty"`
	PeriodKey  string `json:"period_key,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// StrandedRequest is an unfinished request of a team that sits in a period
// that is no longer current.
type StrandedRequest struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	PeriodKey string `json:"period_key"`
}

type TopRequest struct {
	RequestID     string  `json:"request_id"`
	Code          string  `json:"code"`
	Title         string  `json:"title"`
	Type          string  `json:"type"`
	PriorityScore float64 `json:"priority_score"`
	DeveloperID   string  `json:"developer_id,omitempty"`
	DeveloperName string  `json:"developer_name,omitempty"`
}

type PeriodCloseRecord struct {
	ID               string         `json:"id"`
	TeamID           string         `json:"team_id"`
	TeamName         string         `json:"team_name"`
	PeriodKey        string         `json:"period_key"`
	PeriodLabel      string         `json:"period_label"`
	NextPeriodKey    string         `json:"next_period_key"`
	Label            string         `json:"label"`
	TotalRequests    int            `json:"total_requests"`
	CompletedCount   int            `json:"completed_count"`
	CarriedOverCount int            `json:"carried_over_count"`
	ByType           map[string]int `json:"by_type"`
	ByStatus         map[string]int `json:"by_status"`
	TopCompleted     []TopRequest   `json:"top_completed"`
	AverageScore     float64        `json:"average_score"`
	ClosedAt         string         `json:"closed_at" format:"date-time"`
	ClosedBy         string         `json:"closed_by"`
	// LeftBehind lists the team's unfinished requests in earlier periods. They
	// are not part of the totals and are not carried over.
	LeftBehind []StrandedRequest `json:"left_behind"`
}
