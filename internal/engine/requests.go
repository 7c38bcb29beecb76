package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/engine/priority"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

// CreateRequestOptions are parameters for intake.
type CreateRequestOptions struct {
	TeamID      string
	Type        string
	Title       string
	Description string
	Requester   string
	Urgency     int
	Importance  int
	Complexity  int
	DeveloperID string
}

// CreateRequest files a request in the initial status of the current period.
// Levels are clamped and the score derived from them.
func (e Engine) CreateRequest(ctx context.Context, caller auth.Caller, opts CreateRequestOptions) (domain.Request, error) {
	if err := e.require(caller, auth.PermRequestWrite); err != nil {
		return domain.Request{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return domain.Request{}, err
	}
	if opts.Type == "" {
		opts.Type = domain.TypeImprovement
	}
	if !domain.ValidRequestType(opts.Type) {
		return domain.Request{}, validationError("unknown request type %q", opts.Type)
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Request{}, validationError("title is required")
	}
	team, err := e.GetTeam(ctx, opts.TeamID)
	if err != nil {
		return domain.Request{}, err
	}
	period, err := e.CurrentPeriod(ctx)
	if err != nil {
		return domain.Request{}, err
	}
	var devID *string
	if opts.DeveloperID != "" {
		if err := e.ensureDevelopersInTeam(ctx, e.DB, team.ID, []string{opts.DeveloperID}); err != nil {
			return domain.Request{}, err
		}
		devID = &opts.DeveloperID
	}
	now := e.stamp()
	u, i, c := priority.Clamp(opts.Urgency), priority.Clamp(opts.Importance), priority.Clamp(opts.Complexity)
	req := domain.Request{
		ID:            uuid.NewString(),
		Type:          opts.Type,
		Title:         opts.Title,
		Description:   opts.Description,
		Requester:     opts.Requester,
		Status:        cfg.Workflow.InitialStatus,
		Urgency:       u,
		Importance:    i,
		Complexity:    c,
		PriorityScore: priority.Score(u, i, c),
		TeamID:        team.ID,
		PeriodKey:     period.Key,
		DeveloperID:   devID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	seq, err := e.Repo.NextRequestSeq(ctx, tx, team.ID)
	if err != nil {
		return domain.Request{}, err
	}
	req.Seq = seq
	req.Code = fmt.Sprintf("%s-%d", team.Code, seq)
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.appendEvent(ctx, tx, events.RequestCreated, scopeOf(req), "request", req.ID, caller.ActorID, events.EventPayload{
		"code":           req.Code,
		"status":         req.Status,
		"priority_score": req.PriorityScore,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	e.log().Info("request created", zap.String("code", req.Code), zap.Float64("score", req.PriorityScore))
	return req, nil
}

func scopeOf(r domain.Request) events.Scope {
	return events.Scope{TeamID: r.TeamID, PeriodKey: r.PeriodKey}
}

// GetRequest resolves a request by id or code.
func (e Engine) GetRequest(ctx context.Context, idOrCode string) (domain.Request, error) {
	return e.Repo.GetRequest(ctx, e.DB, idOrCode)
}

// ListRequests lists a team's requests. An empty period means the current one.
func (e Engine) ListRequests(ctx context.Context, teamID, periodKey, status string) ([]domain.Request, error) {
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if periodKey == "" {
		p, err := e.CurrentPeriod(ctx)
		if err != nil {
			return nil, err
		}
		periodKey = p.Key
	}
	return e.Repo.ListRequests(ctx, e.DB, repo.RequestFilter{TeamID: team.ID, PeriodKey: periodKey, Status: status})
}

// RescoreOptions carries a partial update; nil levels keep their value.
// ExpectedVersion, when set, must match the stored version.
type RescoreOptions struct {
	Urgency         *int
	Importance      *int
	Complexity      *int
	ExpectedVersion int
}

// Rescore updates the levels of a request and recomputes its score.
func (e Engine) Rescore(ctx context.Context, caller auth.Caller, requestID string, opts RescoreOptions) (domain.Request, error) {
	if err := e.require(caller, auth.PermRequestWrite); err != nil {
		return domain.Request{}, err
	}
	return e.mutateRequest(ctx, caller, requestID, opts.ExpectedVersion, events.RequestRescored, func(req *domain.Request) (events.EventPayload, error) {
		if opts.Urgency != nil {
			req.Urgency = priority.Clamp(*opts.Urgency)
		}
		if opts.Importance != nil {
			req.Importance = priority.Clamp(*opts.Importance)
		}
		if opts.Complexity != nil {
			req.Complexity = priority.Clamp(*opts.Complexity)
		}
		return rescore(req), nil
	})
}

func rescore(req *domain.Request) events.EventPayload {
	before := req.PriorityScore
	req.PriorityScore = priority.Score(req.Urgency, req.Importance, req.Complexity)
	return events.EventPayload{
		"urgency":    req.Urgency,
		"importance": req.Importance,
		"complexity": req.Complexity,
		"from_score": before,
		"to_score":   req.PriorityScore,
	}
}

// MoveToQuadrant re-files a request by applying the quadrant's canonical
// urgency and importance. Complexity is kept.
func (e Engine) MoveToQuadrant(ctx context.Context, caller auth.Caller, requestID string, q priority.Quadrant, expectedVersion int) (domain.Request, error) {
	if err := e.require(caller, auth.PermRequestWrite); err != nil {
		return domain.Request{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return domain.Request{}, err
	}
	u, i, err := priority.CanonicalValues(q)
	if err != nil {
		return domain.Request{}, validationError("%v", err)
	}
	return e.mutateRequest(ctx, caller, requestID, expectedVersion, events.RequestRescored, func(req *domain.Request) (events.EventPayload, error) {
		if !priority.Classifiable(req.Status, cfg.Quadrants.ExcludeStatuses) {
			return nil, validationError("request %s in status %s is not on the quadrant board", req.Code, req.Status)
		}
		req.Urgency, req.Importance = u, i
		payload := rescore(req)
		payload["quadrant"] = string(q)
		return payload, nil
	})
}

// AssignDeveloper sets the primary developer; an empty id clears it.
func (e Engine) AssignDeveloper(ctx context.Context, caller auth.Caller, requestID, developerID string, expectedVersion int) (domain.Request, error) {
	if err := e.require(caller, auth.PermRequestWrite); err != nil {
		return domain.Request{}, err
	}
	return e.mutateRequestTx(ctx, caller, requestID, expectedVersion, events.RequestReassigned, func(tx *sql.Tx, req *domain.Request) (events.EventPayload, error) {
		from := ""
		if req.DeveloperID != nil {
			from = *req.DeveloperID
		}
		if developerID == "" {
			req.DeveloperID = nil
		} else {
			if err := e.ensureDevelopersInTeam(ctx, tx, req.TeamID, []string{developerID}); err != nil {
				return nil, err
			}
			id := developerID
			req.DeveloperID = &id
		}
		return events.EventPayload{"from": from, "to": developerID}, nil
	})
}

func (e Engine) mutateRequest(ctx context.Context, caller auth.Caller, requestID string, expectedVersion int, evtType string, fn func(*domain.Request) (events.EventPayload, error)) (domain.Request, error) {
	return e.mutateRequestTx(ctx, caller, requestID, expectedVersion, evtType, func(_ *sql.Tx, req *domain.Request) (events.EventPayload, error) {
		return fn(req)
	})
}

// mutateRequestTx loads, changes and writes one request in a transaction with
// a version check, then appends the event returned by fn.
func (e Engine) mutateRequestTx(ctx context.Context, caller auth.Caller, requestID string, expectedVersion int, evtType string, fn func(*sql.Tx, *domain.Request) (events.EventPayload, error)) (domain.Request, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetRequest(ctx, tx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if expectedVersion > 0 && expectedVersion != req.Version {
		return domain.Request{}, domain.ErrConflict
	}
	payload, err := fn(tx, &req)
	if err != nil {
		return domain.Request{}, err
	}
	req.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRequest(ctx, tx, &req); err != nil {
		return domain.Request{}, err
	}
	if err := e.appendEvent(ctx, tx, evtType, scopeOf(req), "request", req.ID, caller.ActorID, payload); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

func (e Engine) ensureDevelopersInTeam(ctx context.Context, q repo.Querier, teamID string, ids []string) error {
	devs, err := e.Repo.ListDevelopers(ctx, q, "", ids)
	if err != nil {
		return err
	}
	found := make(map[string]domain.Developer, len(devs))
	for _, d := range devs {
		found[d.ID] = d
	}
	for _, id := range ids {
		d, ok := found[id]
		if !ok {
			return validationError("unknown developer %s", id)
		}
		if d.TeamID != teamID {
			return validationError("developer %s is not in the request's team", id)
		}
	}
	return nil
}

// BoardColumn is one quadrant of the board, highest score first.
type BoardColumn struct {
	Quadrant priority.Quadrant `json:"quadrant"`
	Requests []domain.Request  `json:"requests"`
}

type QuadrantBoard struct {
	TeamID    string        `json:"team_id"`
	PeriodKey string        `json:"period_key"`
	Columns   []BoardColumn `json:"columns"`
}

// QuadrantBoard groups a team's classifiable current-period requests by
// quadrant. Equal scores keep intake order.
func (e Engine) QuadrantBoard(ctx context.Context, teamID string) (QuadrantBoard, error) {
	cfg, err := e.config()
	if err != nil {
		return QuadrantBoard{}, err
	}
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return QuadrantBoard{}, err
	}
	period, err := e.CurrentPeriod(ctx)
	if err != nil {
		return QuadrantBoard{}, err
	}
	reqs, err := e.Repo.ListRequests(ctx, e.DB, repo.RequestFilter{TeamID: team.ID, PeriodKey: period.Key})
	if err != nil {
		return QuadrantBoard{}, err
	}
	buckets := map[priority.Quadrant][]domain.Request{}
	for _, r := range reqs {
		if !priority.Classifiable(r.Status, cfg.Quadrants.ExcludeStatuses) {
			continue
		}
		q := priority.Classify(r.Urgency, r.Importance)
		buckets[q] = append(buckets[q], r)
	}
	board := QuadrantBoard{TeamID: team.ID, PeriodKey: period.Key}
	for _, q := range priority.Quadrants {
		col := buckets[q]
		if col == nil {
			col = []domain.Request{}
		}
		sort.SliceStable(col, func(i, j int) bool { return col[i].PriorityScore > col[j].PriorityScore })
		board.Columns = append(board.Columns, BoardColumn{Quadrant: q, Requests: col})
	}
	return board, nil
}
