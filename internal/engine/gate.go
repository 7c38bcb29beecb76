package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"intakeline/internal/domain"
	"intakeline/internal/engine/auth"
	"intakeline/internal/events"
	"intakeline/internal/repo"
)

// Outcome is the result kind of a transition attempt. Only Applied changes
// state; the needs-* outcomes ask the caller to retry with more input.
type Outcome string

const (
	OutcomeApplied                     Outcome = "applied"
	OutcomeNeedsObjectivesAndAssignees Outcome = "needs_objectives_and_assignees"
	OutcomeNeedsConfirmation           Outcome = "needs_confirmation"
	OutcomeRejected                    Outcome = "rejected"
)

type TransitionInput struct {
	RequestID    string
	ToStatus     string
	ObjectiveIDs []string
	AssigneeIDs  []string
	Confirmed    bool
	// ExpectedVersion, when set, must match the stored request version.
	ExpectedVersion int
}

type TransitionResult struct {
	Outcome Outcome        `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	Request domain.Request `json:"request"`
	// Linkage is the applied linkage, or the current selections when blocked.
	Linkage domain.Linkage `json:"linkage"`
	// Allowed lists legal targets when the attempt was rejected.
	Allowed []domain.StatusDefinition `json:"allowed,omitempty"`
}

// AttemptTransition moves a request to another status. Entering the active
// work status requires at least one objective and one assignee; supplying both
// replaces the stored linkage and moves the status in one transaction.
func (e Engine) AttemptTransition(ctx context.Context, caller auth.Caller, in TransitionInput) (TransitionResult, error) {
	if err := e.require(caller, auth.PermRequestTransition); err != nil {
		return TransitionResult{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return TransitionResult{}, err
	}
	p, err := e.Pipeline(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	to := strings.ToLower(strings.TrimSpace(in.ToStatus))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetRequest(ctx, tx, in.RequestID)
	if err != nil {
		return TransitionResult{}, err
	}
	if in.ExpectedVersion > 0 && in.ExpectedVersion != req.Version {
		return TransitionResult{}, domain.ErrConflict
	}
	res := TransitionResult{From: req.Status, To: to, Request: req}
	current, err := e.linkage(ctx, tx, req.ID)
	if err != nil {
		return TransitionResult{}, err
	}
	res.Linkage = current

	if !p.IsLegalTransition(req.Status, to) {
		res.Outcome = OutcomeRejected
		res.Reason = fmt.Sprintf("transition from %s to %s is not allowed", req.Status, to)
		res.Allowed = p.AllowedTransitions(req.Status)
		return res, nil
	}
	if cfg.RequiresConfirmation(to) && !in.Confirmed {
		res.Outcome = OutcomeNeedsConfirmation
		res.Reason = fmt.Sprintf("moving to %s must be confirmed", to)
		return res, nil
	}

	var linked *domain.Linkage
	if to == cfg.Workflow.ActiveStatus {
		objectives, assignees := dedupe(in.ObjectiveIDs), dedupe(in.AssigneeIDs)
		switch {
		case len(objectives) > 0 && len(assignees) > 0:
			if reason, err := e.checkLinkage(ctx, tx, req, objectives, assignees); err != nil {
				return TransitionResult{}, err
			} else if reason != "" {
				res.Outcome = OutcomeRejected
				res.Reason = reason
				return res, nil
			}
			now := e.stamp()
			if err := e.Repo.ReplaceRequestObjectives(ctx, tx, req.ID, objectives, now); err != nil {
				return TransitionResult{}, err
			}
			if err := e.Repo.ReplaceRequestAssignees(ctx, tx, req.ID, assignees, caller.ActorID, now); err != nil {
				return TransitionResult{}, err
			}
			if err := e.appendEvent(ctx, tx, events.LinkageReplaced, scopeOf(req), "request", req.ID, caller.ActorID, events.EventPayload{
				"objective_ids": objectives,
				"assignee_ids":  assignees,
			}); err != nil {
				return TransitionResult{}, err
			}
			if req.DeveloperID == nil {
				first := assignees[0]
				req.DeveloperID = &first
			}
			linked = &domain.Linkage{RequestID: req.ID, ObjectiveIDs: objectives, AssigneeIDs: assignees}
		case len(objectives) > 0 || len(assignees) > 0:
			if len(current.ObjectiveIDs) > 0 && len(current.AssigneeIDs) > 0 {
				res.Outcome = OutcomeRejected
				res.Reason = "objectives and assignees replace the stored linkage together; supply both sets"
				return res, nil
			}
			res.Outcome = OutcomeNeedsObjectivesAndAssignees
			res.Reason = fmt.Sprintf("%s requires at least one objective and one assignee", to)
			return res, nil
		case len(current.ObjectiveIDs) > 0 && len(current.AssigneeIDs) > 0:
			// stored linkage already satisfies the gate
		default:
			res.Outcome = OutcomeNeedsObjectivesAndAssignees
			res.Reason = fmt.Sprintf("%s requires at least one objective and one assignee", to)
			return res, nil
		}
	}

	req.Status = to
	req.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRequest(ctx, tx, &req); err != nil {
		return TransitionResult{}, err
	}
	if err := e.appendEvent(ctx, tx, events.RequestTransition, scopeOf(req), "request", req.ID, caller.ActorID, events.EventPayload{
		"from": res.From,
		"to":   to,
	}); err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}
	res.Outcome = OutcomeApplied
	res.Request = req
	if linked != nil {
		res.Linkage = *linked
	}
	e.log().Info("request transitioned",
		zap.String("code", req.Code),
		zap.String("from", res.From),
		zap.String("to", to),
		zap.String("actor", caller.ActorID))
	return res, nil
}

// checkLinkage returns a rejection reason when an objective or assignee is
// unknown or belongs elsewhere.
func (e Engine) checkLinkage(ctx context.Context, tx *sql.Tx, req domain.Request, objectiveIDs, assigneeIDs []string) (string, error) {
	objs, err := e.Repo.ListObjectives(ctx, tx, repo.ObjectiveFilter{IDs: objectiveIDs})
	if err != nil {
		return "", err
	}
	byID := make(map[string]domain.Objective, len(objs))
	for _, o := range objs {
		byID[o.ID] = o
	}
	for _, id := range objectiveIDs {
		o, ok := byID[id]
		switch {
		case !ok:
			return fmt.Sprintf("unknown objective %s", id), nil
		case o.TeamID != req.TeamID || o.PeriodKey != req.PeriodKey:
			return fmt.Sprintf("objective %s is not in the request's team and period", o.Code), nil
		case !o.Active:
			return fmt.Sprintf("objective %s is inactive", o.Code), nil
		}
	}
	if err := e.ensureDevelopersInTeam(ctx, tx, req.TeamID, assigneeIDs); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "), nil
		}
		return "", err
	}
	return "", nil
}

// Linkage returns the stored objective and assignee selection of a request.
func (e Engine) Linkage(ctx context.Context, requestID string) (domain.Linkage, error) {
	req, err := e.Repo.GetRequest(ctx, e.DB, requestID)
	if err != nil {
		return domain.Linkage{}, err
	}
	return e.linkage(ctx, e.DB, req.ID)
}

func (e Engine) linkage(ctx context.Context, q repo.Querier, requestID string) (domain.Linkage, error) {
	objectives, err := e.Repo.ListRequestObjectiveIDs(ctx, q, requestID)
	if err != nil {
		return domain.Linkage{}, err
	}
	assignments, err := e.Repo.ListRequestAssignees(ctx, q, requestID)
	if err != nil {
		return domain.Linkage{}, err
	}
	l := domain.Linkage{RequestID: requestID, ObjectiveIDs: objectives, AssigneeIDs: []string{}}
	for _, a := range assignments {
		l.AssigneeIDs = append(l.AssigneeIDs, a.DeveloperID)
	}
	return l, nil
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
