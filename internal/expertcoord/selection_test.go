package expertcoord

import (
	"testing"
	"time"
)

func TestSelect_ExcludesQuarantined(t *testing.T) {
	pool := []Expert{
		{ExpertID: "a", Status: ExpertQuarantined, Capabilities: []Capability{"refactor"}},
		{ExpertID: "b", Status: ExpertIdle, Capabilities: []Capability{"refactor"}},
	}
	got := Select(pool, []Capability{"refactor"}, 3)
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only b selected, got %v", got)
	}
}

func TestSelect_PrefersIdleOverBusy(t *testing.T) {
	pool := []Expert{
		{ExpertID: "busy", Status: ExpertBusy, Capabilities: []Capability{"x"}},
		{ExpertID: "idle", Status: ExpertIdle, Capabilities: []Capability{"x"}},
	}
	got := Select(pool, []Capability{"x"}, 1)
	if len(got) != 1 || got[0] != "idle" {
		t.Fatalf("expected idle expert preferred, got %v", got)
	}
}

func TestSelect_RequiresCapabilityIntersection(t *testing.T) {
	pool := []Expert{
		{ExpertID: "a", Status: ExpertIdle, Capabilities: []Capability{"security"}},
		{ExpertID: "b", Status: ExpertIdle, Capabilities: []Capability{"refactor"}},
	}
	got := Select(pool, []Capability{"refactor"}, 5)
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only capability-matching expert, got %v", got)
	}
}

func TestSelect_BoundedByN(t *testing.T) {
	now := time.Now()
	pool := []Expert{
		{ExpertID: "a", Status: ExpertIdle, Capabilities: []Capability{"x"}, LastActiveAt: now},
		{ExpertID: "b", Status: ExpertIdle, Capabilities: []Capability{"x"}, LastActiveAt: now.Add(time.Second)},
		{ExpertID: "c", Status: ExpertIdle, Capabilities: []Capability{"x"}, LastActiveAt: now.Add(2 * time.Second)},
	}
	got := Select(pool, []Capability{"x"}, 2)
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 selected, got %d (%v)", len(got), got)
	}
}
