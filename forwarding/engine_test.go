package forwarding

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/state"
	"github.com/overlaymesh/router/transport/memory"
)

type fakeRouting struct {
	calls []call
}

type call struct {
	origin packet.NodeID
	view   map[packet.NodeID]float64
}

func (f *fakeRouting) OnInfo(origin packet.NodeID, view map[packet.NodeID]float64) {
	f.calls = append(f.calls, call{origin: origin, view: view})
}

func newTestEngine(t *testing.T, self packet.NodeID, proto packet.Proto, links map[packet.NodeID]packet.Channel, bus *memory.Bus, routing RoutingService, deliver DeliverFunc) (*Engine, *state.Store) {
	t.Helper()
	st := state.New(self, 0, nil)
	tr := bus.Register(string(self) + "-chan")
	eng := New(st, tr, self, proto, links, routing, deliver, Config{HelloTimeout: 20 * time.Second})
	return eng, st
}

func encode(t *testing.T, m map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return data
}

func TestHandleInbound_Hello_TouchesHelloAndDoesNotRelay(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	eng, st := newTestEngine(t, "A", packet.ProtoLSR, links, bus, nil, nil)
	st.AddNeighbor("B", 1)
	recv := bus.Register("B-chan")

	raw := encode(t, map[string]any{"type": "hello", "from": "B", "to": "broadcast", "ttl": 5})
	eng.HandleInbound(context.Background(), raw)

	select {
	case <-recv.Receive():
		t.Error("HELLO must never be relayed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleInbound_Info_NoRoutingServiceDrops(t *testing.T) {
	bus := memory.NewBus(0)
	eng, _ := newTestEngine(t, "A", packet.ProtoFlooding, nil, bus, nil, nil)

	raw := encode(t, map[string]any{"type": "info", "from": "B", "to": "broadcast", "ttl": 5, "payload": map[string]any{"C": 1.0}})
	eng.HandleInbound(context.Background(), raw) // must not panic
}

func TestHandleInbound_Info_CallsRoutingAndRelays(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan", "D": "D-chan"}
	routing := &fakeRouting{}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, links, bus, routing, nil)
	recvB := bus.Register("B-chan")
	recvD := bus.Register("D-chan")

	raw := encode(t, map[string]any{
		"type": "info", "from": "B", "to": "broadcast", "ttl": 5,
		"headers": []any{"B"},
		"payload": map[string]any{"C": 1.0},
	})
	eng.HandleInbound(context.Background(), raw)

	if len(routing.calls) != 1 || routing.calls[0].origin != "B" {
		t.Fatalf("routing calls = %+v, want one call from B", routing.calls)
	}
	if routing.calls[0].view["C"] != 1 {
		t.Errorf("view = %v, want {C:1}", routing.calls[0].view)
	}

	// B is the previous hop (last header entry) so should NOT receive the relay.
	select {
	case <-recvB.Receive():
		t.Error("previous hop B should not receive the relayed INFO")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-recvD.Receive():
	case <-time.After(time.Second):
		t.Error("expected D to receive the relayed INFO")
	}
}

func TestHandleInbound_Info_DVR_ExtractsWrappedDV(t *testing.T) {
	bus := memory.NewBus(0)
	routing := &fakeRouting{}
	eng, _ := newTestEngine(t, "A", packet.ProtoDVR, nil, bus, routing, nil)

	raw := encode(t, map[string]any{
		"proto": "dvr", "type": "info", "from": "B", "to": "broadcast", "ttl": 5,
		"payload": map[string]any{"dv": map[string]any{"C": 2.0}},
	})
	eng.HandleInbound(context.Background(), raw)

	if len(routing.calls) != 1 {
		t.Fatalf("routing calls = %+v, want one call", routing.calls)
	}
	if routing.calls[0].view["C"] != 2 {
		t.Errorf("view = %v, want {C:2}", routing.calls[0].view)
	}
}

func TestHandleInbound_Dedup_DropsRepeatedMsgID(t *testing.T) {
	bus := memory.NewBus(0)
	routing := &fakeRouting{}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, routing, nil)

	raw := encode(t, map[string]any{
		"type": "info", "from": "B", "to": "broadcast", "ttl": 5,
		"msg_id": "fixed-id", "payload": map[string]any{"C": 1.0},
	})
	eng.HandleInbound(context.Background(), raw)
	eng.HandleInbound(context.Background(), raw)

	if len(routing.calls) != 1 {
		t.Errorf("routing calls = %d, want 1 (second delivery should be deduped)", len(routing.calls))
	}
}

func TestHandleInbound_AntiCycle_DropsSelfInHeaders(t *testing.T) {
	bus := memory.NewBus(0)
	routing := &fakeRouting{}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, routing, nil)

	raw := encode(t, map[string]any{
		"type": "info", "from": "B", "to": "broadcast", "ttl": 5,
		"headers": []any{"X", "A"}, "payload": map[string]any{"C": 1.0},
	})
	eng.HandleInbound(context.Background(), raw)

	if len(routing.calls) != 0 {
		t.Errorf("routing calls = %d, want 0 (self already in headers)", len(routing.calls))
	}
}

func TestHandleInbound_TTLGate_DropsZeroTTLInfo(t *testing.T) {
	bus := memory.NewBus(0)
	routing := &fakeRouting{}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, routing, nil)

	raw := encode(t, map[string]any{"type": "info", "from": "B", "to": "broadcast", "ttl": 0, "payload": map[string]any{"C": 1.0}})
	eng.HandleInbound(context.Background(), raw)

	if len(routing.calls) != 0 {
		t.Errorf("routing calls = %d, want 0 (ttl=0 info must be dropped)", len(routing.calls))
	}
}

func TestHandleInbound_TTLGate_HelloExempt(t *testing.T) {
	bus := memory.NewBus(0)
	eng, st := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, nil, nil)
	st.AddNeighbor("B", 1)

	raw := encode(t, map[string]any{"type": "hello", "from": "B", "to": "broadcast", "ttl": 0})
	eng.HandleInbound(context.Background(), raw)

	snap := st.GetAliveLinks(time.Hour)
	if _, ok := snap["B"]; !ok {
		t.Error("hello with ttl=0 should still touch_hello (HELLO is TTL-exempt)")
	}
}

func TestHandleInbound_CompatCoercion_HelloForcedToBroadcast(t *testing.T) {
	bus := memory.NewBus(0)
	eng, st := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, nil, nil)
	st.AddNeighbor("B", 1)

	raw := encode(t, map[string]any{"type": "hello", "from": "B", "to": "A", "ttl": 5})
	eng.HandleInbound(context.Background(), raw) // must not be rejected by ErrHelloNotBcast

	if _, ok := st.GetAliveLinks(time.Hour)["B"]; !ok {
		t.Error("hello addressed to a non-broadcast recipient should still be accepted after coercion")
	}
}

func TestHandleInbound_CompatCoercion_MessageHopsToInfo(t *testing.T) {
	bus := memory.NewBus(0)
	routing := &fakeRouting{}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, routing, nil)

	raw := encode(t, map[string]any{"type": "message", "from": "B", "to": "C", "hops": 3.0})
	eng.HandleInbound(context.Background(), raw)

	if len(routing.calls) != 1 {
		t.Fatalf("routing calls = %+v, want one call (compat message should become info)", routing.calls)
	}
	if routing.calls[0].origin != "B" {
		t.Errorf("origin = %v, want B", routing.calls[0].origin)
	}
	if routing.calls[0].view["C"] != 3 {
		t.Errorf("view = %v, want {C:3}", routing.calls[0].view)
	}
}

func TestHandleInbound_CompatCoercion_ChannelNameNormalizedToNodeID(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	eng, st := newTestEngine(t, "A", packet.ProtoLSR, links, bus, nil, nil)
	st.AddNeighbor("B", 1)

	raw := encode(t, map[string]any{"type": "hello", "from": "B-chan", "to": "broadcast", "ttl": 5})
	eng.HandleInbound(context.Background(), raw)

	if _, ok := st.GetAliveLinks(time.Hour)["B"]; !ok {
		t.Error("from given as a known neighbor channel name should be normalized to its NodeID")
	}
}

func TestOnMessage_DeliversLocally(t *testing.T) {
	bus := memory.NewBus(0)
	var delivered packet.NodeID
	deliver := func(from packet.NodeID, body any) { delivered = from }
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, nil, bus, nil, deliver)

	raw := encode(t, map[string]any{"type": "message", "from": "B", "to": "A", "ttl": 5, "payload": "hi"})
	eng.HandleInbound(context.Background(), raw)

	if delivered != "B" {
		t.Errorf("delivered from = %v, want B", delivered)
	}
}

func TestOnMessage_UnicastsViaNextHop(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	eng, st := newTestEngine(t, "A", packet.ProtoLSR, links, bus, nil, nil)
	st.SetRoutingTable(map[packet.NodeID]packet.NodeID{"C": "B"})
	recv := bus.Register("B-chan")

	raw := encode(t, map[string]any{"type": "message", "from": "X", "to": "C", "ttl": 5, "payload": "hi"})
	eng.HandleInbound(context.Background(), raw)

	select {
	case <-recv.Receive():
	case <-time.After(time.Second):
		t.Fatal("expected the message to be unicast to B (next hop to C)")
	}
}

func TestOnMessage_FloodsWhenNoRoute(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, links, bus, nil, nil)
	recv := bus.Register("B-chan")

	raw := encode(t, map[string]any{"type": "message", "from": "X", "to": "Z", "ttl": 5, "payload": "hi"})
	eng.HandleInbound(context.Background(), raw)

	select {
	case <-recv.Receive():
	case <-time.After(time.Second):
		t.Fatal("expected flood fallback when no route is known")
	}
}

func TestSendMessage_DirectNeighborUnicast(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, links, bus, nil, nil)
	recv := bus.Register("B-chan")

	if err := eng.SendMessage(context.Background(), "B", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case msg := <-recv.Receive():
		p, err := packet.Decode(msg.Payload)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if len(p.Headers) != 0 {
			t.Errorf("headers = %v, want empty on origination", p.Headers)
		}
	case <-time.After(time.Second):
		t.Fatal("expected direct unicast to B")
	}
}

func TestSendMessage_FloodsWhenNoLinksMatch(t *testing.T) {
	bus := memory.NewBus(0)
	links := map[packet.NodeID]packet.Channel{"B": "B-chan"}
	eng, _ := newTestEngine(t, "A", packet.ProtoLSR, links, bus, nil, nil)
	recv := bus.Register("B-chan")

	if err := eng.SendMessage(context.Background(), "Z", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case <-recv.Receive():
	case <-time.After(time.Second):
		t.Fatal("expected flood fallback to all neighbors")
	}
}
