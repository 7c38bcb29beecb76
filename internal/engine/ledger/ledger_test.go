package ledger_test

import (
	"testing"

	"intakeline/internal/domain"
	"intakeline/internal/engine/ledger"
)

func evt(id int64, ts, typ, requestID string) domain.Event {
	return domain.Event{ID: id, TS: ts, Type: typ, EntityKind: "request", EntityID: requestID}
}

func newestFirst(in ...domain.Event) []domain.Event {
	out := make([]domain.Event, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, in[i])
	}
	return out
}

func TestBalanceReportedTwiceResolvedOnce(t *testing.T) {
	events := newestFirst(
		evt(1, "2026-01-01T00:00:00Z", domain.EventBlockerReported, "r1"),
		evt(2, "2026-01-02T00:00:00Z", domain.EventBlockerReported, "r1"),
		evt(3, "2026-01-03T00:00:00Z", domain.EventBlockerResolved, "r1"),
	)
	if got := ledger.Balance(events); got != 1 {
		t.Fatalf("balance = %d, want 1", got)
	}
	if !ledger.HasActiveBlocker(events) {
		t.Fatalf("expected active blocker")
	}
}

func TestBalanceGoesNegative(t *testing.T) {
	events := newestFirst(
		evt(1, "2026-01-01T00:00:00Z", domain.EventBlockerReported, "r1"),
		evt(2, "2026-01-02T00:00:00Z", domain.EventBlockerResolved, "r1"),
		evt(3, "2026-01-03T00:00:00Z", domain.EventBlockerResolved, "r1"),
	)
	if got := ledger.Balance(events); got != -1 {
		t.Fatalf("balance = %d, want -1", got)
	}
	if ledger.HasActiveBlocker(events) {
		t.Fatalf("negative balance must not be active")
	}
}

func TestUnrelatedEventsIgnored(t *testing.T) {
	events := []domain.Event{
		evt(1, "2026-01-01T00:00:00Z", "request.created", "r1"),
		evt(2, "2026-01-01T00:00:00Z", "request.status_changed", "r1"),
	}
	if got := ledger.Balance(events); got != 0 {
		t.Fatalf("balance = %d", got)
	}
	if len(ledger.Reduce(events)) != 0 {
		t.Fatalf("unrelated events must not create tallies")
	}
}

func TestOpenRequestIDs(t *testing.T) {
	events := newestFirst(
		evt(1, "2026-01-01T00:00:00Z", domain.EventBlockerReported, "r2"),
		evt(2, "2026-01-01T00:00:00Z", domain.EventBlockerReported, "r1"),
		evt(3, "2026-01-02T00:00:00Z", domain.EventBlockerResolved, "r1"),
		evt(4, "2026-01-02T00:00:00Z", domain.EventBlockerResolved, "r3"),
		evt(5, "2026-01-03T00:00:00Z", domain.EventBlockerReported, "r4"),
		evt(6, "2026-01-03T00:00:00Z", "comment.added", "r5"),
	)
	got := ledger.OpenRequestIDs(events)
	if len(got) != 2 || got[0] != "r2" || got[1] != "r4" {
		t.Fatalf("open = %v", got)
	}
	tallies := ledger.Reduce(events)
	if tallies["r3"].Balance != -1 || tallies["r3"].Resolved != 1 {
		t.Fatalf("r3 tally = %#v", tallies["r3"])
	}
}
