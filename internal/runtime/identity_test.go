package runtime

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveIDDeterministic(t *testing.T) {
	started := time.Unix(1700000000, 123).UTC()
	id := Identity{
		TargetID:  "local",
		BootID:    "boot",
		PaneID:    "%1",
		PaneEpoch: 1,
		AgentKind: "codex",
		StartedAt: started,
	}
	id1 := DeriveID(id)
	id2 := DeriveID(id)
	if id1 != id2 {
		t.Fatalf("runtime id not deterministic: %s vs %s", id1, id2)
	}
	id.PaneEpoch = 2
	id3 := DeriveID(id)
	if id3 == id1 {
		t.Fatal("runtime id should change when epoch changes")
	}
}

func TestNextEpochIncrementRules(t *testing.T) {
	pid1 := int64(100)
	pid2 := int64(200)
	prev := Occupancy{PaneEpoch: 3, PID: &pid1}

	if got := NextEpoch(&prev, &pid1); got != 3 {
		t.Fatalf("epoch should stay same, got %d", got)
	}
	if got := NextEpoch(&prev, &pid2); got != 4 {
		t.Fatalf("epoch should increment on pid change, got %d", got)
	}
	if got := NextEpoch(nil, &pid1); got != 1 {
		t.Fatalf("first sighting should start at epoch 1, got %d", got)
	}
}

func TestValidateFreshness(t *testing.T) {
	err := ValidateFreshness("runtime-1", "runtime-2")
	if err == nil {
		t.Fatal("expected stale runtime error")
	}
	if !errors.Is(err, ErrStale) {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateFreshness("", "anything"); err != nil {
		t.Fatalf("empty expected id should never be stale: %v", err)
	}
}
