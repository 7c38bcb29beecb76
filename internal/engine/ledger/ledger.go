// Package ledger reduces the append-only activity log to per-request blocker
// balances. It never writes.
package ledger

import (
	"sort"

	"intakeline/internal/domain"
)

// Tally is the replayed blocker state of one request. Balance is not clamped,
// so a malformed ledger shows up as a negative value.
type Tally struct {
	RequestID string `json:"request_id"`
	Reported  int    `json:"reported"`
	Resolved  int    `json:"resolved"`
	Balance   int    `json:"balance"`
}

// Active reports whether a blocker is currently open.
func (t Tally) Active() bool { return t.Balance > 0 }

// chronological returns a copy of events sorted oldest first. Stores hand
// events back newest first.
func chronological(events []domain.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func apply(t *Tally, e domain.Event) {
	switch e.Type {
	case domain.EventBlockerReported:
		t.Reported++
		t.Balance++
	case domain.EventBlockerResolved:
		t.Resolved++
		t.Balance--
	}
}

// Balance replays the events of a single request and returns reported minus
// resolved.
func Balance(events []domain.Event) int {
	var t Tally
	for _, e := range chronological(events) {
		apply(&t, e)
	}
	return t.Balance
}

// HasActiveBlocker reports whether the replayed balance is positive.
func HasActiveBlocker(events []domain.Event) bool {
	return Balance(events) > 0
}

// Reduce replays events of many requests, keyed by entity id. Events of other
// types are ignored and do not create entries.
func Reduce(events []domain.Event) map[string]Tally {
	out := map[string]Tally{}
	for _, e := range chronological(events) {
		if e.Type != domain.EventBlockerReported && e.Type != domain.EventBlockerResolved {
			continue
		}
		t := out[e.EntityID]
		t.RequestID = e.EntityID
		apply(&t, e)
		out[e.EntityID] = t
	}
	return out
}

// OpenRequestIDs returns the sorted ids of requests with a positive balance.
func OpenRequestIDs(events []domain.Event) []string {
	ids := []string{}
	for id, t := range Reduce(events) {
		if t.Active() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
