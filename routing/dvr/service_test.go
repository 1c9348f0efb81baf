package dvr

import (
	"context"
	"testing"
	"time"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/state"
	"github.com/overlaymesh/router/transport/memory"
)

func newTestService(t *testing.T, self packet.NodeID, links map[packet.NodeID]packet.Channel, bus *memory.Bus, now func() time.Time) (*Service, *state.Store) {
	t.Helper()
	st := state.New(self, 0, now)
	tr := bus.Register(string(self) + "-chan")
	cfg := Config{
		AdvertiseInterval:  time.Hour,
		EntryTimeout:       30 * time.Second,
		SplitHorizonPoison: true,
	}
	svc := New(st, tr, self, links, cfg, now)
	return svc, st
}

func TestStart_SeedsDVFromDirectNeighbors(t *testing.T) {
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, nil)
	st.AddNeighbor("B", 2)

	svc.Start(context.Background())
	defer svc.Stop()

	if got := st.GetNextHop("B"); got != "B" {
		t.Errorf("next hop to B = %v, want B", got)
	}
}

func TestOnInfo_RelaxesThroughCheaperPath(t *testing.T) {
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, nil)
	st.AddNeighbor("B", 1)

	svc.Start(context.Background())
	defer svc.Stop()

	svc.OnInfo("B", map[packet.NodeID]float64{"C": 1})

	if got := st.GetNextHop("C"); got != "B" {
		t.Errorf("next hop to C = %v, want B", got)
	}
	snap := st.GetRoutingTable()
	if snap["C"].Cost != 2 {
		t.Errorf("cost to C = %v, want 2", snap["C"].Cost)
	}
}

func TestOnInfo_IgnoresNonNeighborOrigin(t *testing.T) {
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, nil)

	svc.OnInfo("Z", map[packet.NodeID]float64{"C": 1})

	if _, ok := st.GetRoutingSnapshot()["C"]; ok {
		t.Error("route to C installed from a non-neighbor origin")
	}
}

func TestOnInfo_DoesNotRelaxWorsePath(t *testing.T) {
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, nil)
	st.AddNeighbor("B", 1)
	st.AddNeighbor("D", 1)

	svc.Start(context.Background())
	defer svc.Stop()

	svc.OnInfo("B", map[packet.NodeID]float64{"C": 1}) // cost 2 via B
	svc.OnInfo("D", map[packet.NodeID]float64{"C": 5}) // cost 6 via D, worse

	if got := st.GetNextHop("C"); got != "B" {
		t.Errorf("next hop to C = %v, want B (cheaper path must survive)", got)
	}
}

func TestOnInfo_PoisonReverseWhenOriginWithdraws(t *testing.T) {
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, nil)
	st.AddNeighbor("B", 1)

	svc.Start(context.Background())
	defer svc.Stop()

	svc.OnInfo("B", map[packet.NodeID]float64{"C": 1})
	if got := st.GetNextHop("C"); got != "B" {
		t.Fatalf("precondition: next hop to C = %v, want B", got)
	}

	svc.OnInfo("B", map[packet.NodeID]float64{"C": Inf})

	if _, ok := st.GetRoutingSnapshot()["C"]; ok {
		t.Error("route to C should have been withdrawn after origin poisoned it")
	}
}

func TestExpireOld_PoisonsRoutesFromStaleOrigin(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, clock)
	st.AddNeighbor("B", 1)

	svc.Start(context.Background())
	defer svc.Stop()

	svc.OnInfo("B", map[packet.NodeID]float64{"C": 1})
	if got := st.GetNextHop("C"); got != "B" {
		t.Fatalf("precondition: next hop to C = %v, want B", got)
	}

	now = now.Add(31 * time.Second)
	svc.expireOld()
	svc.installIntoState()

	if _, ok := st.GetRoutingSnapshot()["C"]; ok {
		t.Error("route to C should have been poisoned after entry_timeout elapsed")
	}
}

func TestAdvertiseAll_AppliesSplitHorizonPoisonReverse(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	svc, st := newTestService(t, "A", links, bus, nil)
	recvB := bus.Register("B-chan")
	st.AddNeighbor("B", 1)
	st.AddNeighbor("D", 1)

	svc.Start(context.Background())
	defer svc.Stop()

	select {
	case <-recvB.Receive(): // the advertisement sent by Start, before C is known
	case <-time.After(time.Second):
		t.Fatal("expected the start-up advertisement to B")
	}

	svc.OnInfo("B", map[packet.NodeID]float64{"C": 1}) // route to C is via B

	select {
	case msg := <-recvB.Receive():
		p, err := packet.Decode(msg.Payload)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		dv, err := packet.DVPayload(msg.Payload)
		if err != nil {
			t.Fatalf("DVPayload() error = %v", err)
		}
		if p.From != "A" {
			t.Errorf("from = %v, want A", p.From)
		}
		if dv["C"] < Inf {
			t.Errorf("dv[C] sent to B = %v, want poisoned (Inf) since B is C's next hop", dv["C"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected an advertisement to B")
	}
}

func TestInstallIntoState_DropsUnreachableDestinations(t *testing.T) {
	bus := memory.NewBus(0)
	svc, st := newTestService(t, "A", nil, bus, nil)

	svc.mu.Lock()
	svc.dv["Z"] = entry{cost: Inf, hasNH: false}
	svc.dv["C"] = entry{cost: 2, nextHop: "B", hasNH: true}
	svc.mu.Unlock()

	svc.installIntoState()

	snap := st.GetRoutingSnapshot()
	if _, ok := snap["Z"]; ok {
		t.Error("unreachable destination Z should not be installed")
	}
	if snap["C"] != "B" {
		t.Errorf("next hop to C = %v, want B", snap["C"])
	}
}
