package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAuditLogAppendRetention(t *testing.T) {
	var log AuditLog
	for i := 0; i < auditRetention+5; i++ {
		log = log.Append(AuditEntry{
			Timestamp: time.Now(),
			Action:    "grant",
			SourceRef: fmt.Sprintf("ref-%d", i),
			Delta:     1,
		})
	}
	if len(log) != auditRetention {
		t.Fatalf("expected %d entries, got %d", auditRetention, len(log))
	}
	// The oldest entries fall off; the newest stay.
	if log[0].SourceRef != "ref-5" || log[len(log)-1].SourceRef != fmt.Sprintf("ref-%d", auditRetention+4) {
		t.Fatalf("unexpected window %s..%s", log[0].SourceRef, log[len(log)-1].SourceRef)
	}
}

func TestAuditLogFindBySourceRef(t *testing.T) {
	log := AuditLog{
		{Action: "a", SourceRef: "ballot:1", Delta: 3},
		{Action: "b", SourceRef: "ballot:2", Delta: 3},
	}
	if e := log.FindBySourceRef("ballot:2"); e == nil || e.Action != "b" {
		t.Fatalf("unexpected lookup result %+v", e)
	}
	if e := log.FindBySourceRef("ballot:9"); e != nil {
		t.Fatalf("expected nil for missing ref, got %+v", e)
	}
	if e := log.FindBySourceRef(""); e != nil {
		t.Fatal("empty ref must never match")
	}
}

func TestTransitionLogRoundTrip(t *testing.T) {
	in := TransitionLog{{
		Timestamp:  time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC),
		OldStatus:  StatusBuilding,
		NewStatus:  StatusSubmitted,
		ReviewerID: uuid.New(),
		Message:    "submitted",
	}}
	value, err := in.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var out TransitionLog
	if err := out.Scan(value); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(out) != 1 || out[0].NewStatus != StatusSubmitted || out[0].ReviewerID != in[0].ReviewerID {
		t.Fatalf("unexpected round trip %+v", out)
	}
}

func TestStringListContains(t *testing.T) {
	list := StringList{"castle", "moat"}
	if !list.Contains("castle") || list.Contains("castle-v2") {
		t.Fatal("Contains must match exact names only")
	}
}

func TestEffectiveHourGoal(t *testing.T) {
	w := UserWeek{Week: 3, ArbitraryOffset: 2, MercenaryOffset: 3}
	if w.EffectiveHourGoal() != 5 {
		t.Fatalf("expected goal 5, got %d", w.EffectiveHourGoal())
	}
	w = UserWeek{Week: 5}
	if w.EffectiveHourGoal() != 9 {
		t.Fatalf("week 5 base must be 9, got %d", w.EffectiveHourGoal())
	}
	w = UserWeek{Week: 2, MercenaryOffset: 99}
	if w.EffectiveHourGoal() != 0 {
		t.Fatalf("goal must floor at zero, got %d", w.EffectiveHourGoal())
	}
}
