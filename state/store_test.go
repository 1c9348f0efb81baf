package state

import (
	"testing"
	"time"

	"github.com/overlaymesh/router/packet"
)

func TestNew_DefaultsClockAndSeenTTL(t *testing.T) {
	s := New("A", 0, nil)
	if s.Self() != "A" {
		t.Errorf("Self() = %v, want A", s.Self())
	}
	if s.Seen == nil {
		t.Fatal("Seen is nil")
	}
}

func TestStore_Snapshot_IsIndependentCopy(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New("A", 0, func() time.Time { return now })
	s.AddNeighbor("B", 1)
	s.TouchHello("B")

	snap := s.Snapshot()
	if snap.Neighbors["B"].Cost != 1 {
		t.Errorf("snapshot cost = %v, want 1", snap.Neighbors["B"].Cost)
	}
	if !snap.Neighbors["B"].LastHelloTS.Equal(now) {
		t.Errorf("snapshot LastHelloTS = %v, want %v", snap.Neighbors["B"].LastHelloTS, now)
	}

	s.AddNeighbor("C", 2)
	if _, ok := snap.Neighbors["C"]; ok {
		t.Error("snapshot mutated after taking it: sees neighbor added afterward")
	}

	snap.LSDB["A"]["B"] = 99
	if s.Snapshot().LSDB["A"]["B"] != 1 {
		t.Error("mutating returned snapshot leaked into store's internal state")
	}
}

func TestStore_Snapshot_SelfField(t *testing.T) {
	s := New("node-1", 0, nil)
	if s.Snapshot().Self != packet.NodeID("node-1") {
		t.Errorf("Snapshot().Self = %v, want node-1", s.Snapshot().Self)
	}
}
