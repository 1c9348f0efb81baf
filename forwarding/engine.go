// Package forwarding implements the Forwarding Engine: the inbound packet
// pipeline (decode, compatibility coercion, validation, dedup, anti-cycle,
// TTL gate, dispatch-by-type) plus periodic housekeeping (spec.md §4.4).
package forwarding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/state"
	"github.com/overlaymesh/router/transport"
)

// DefaultTTL is used when a locally-originated message does not specify a
// TTL, matching the original implementation's TTL_DEFAULT environment knob.
const DefaultTTL = 5

// housekeepingPeriod is the interval of the seen-cache purge and dead-
// neighbor warning loop (spec.md §4.4 "Housekeeping loop").
const housekeepingPeriod = 5 * time.Second

// RoutingService is the capability the forwarding engine invokes for INFO
// packets. routing/lsr.Service, routing/dvr.Service, and
// routing/dijkstra.Service all satisfy this (spec.md §4.3 "polymorphic over
// {start, stop, on_info}").
type RoutingService interface {
	OnInfo(origin packet.NodeID, view map[packet.NodeID]float64)
}

// DeliverFunc is invoked when a MESSAGE packet addressed to this node
// arrives (spec.md §4.4 "deliver locally").
type DeliverFunc func(from packet.NodeID, body any)

// Config holds the engine's tunable knobs.
type Config struct {
	HelloTimeout time.Duration
	TTLDefault   int
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.TTLDefault <= 0 {
		c.TTLDefault = DefaultTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine owns the receive pipeline for one node.
type Engine struct {
	store         *state.Store
	tr            transport.Transport
	self          packet.NodeID
	proto         packet.Proto
	links         map[packet.NodeID]packet.Channel
	channelToNode map[packet.Channel]packet.NodeID
	routing       RoutingService
	deliver       DeliverFunc
	cfg           Config
	log           *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a forwarding Engine. links maps every direct neighbor id to
// its transport channel; routing may be nil (flooding mode, or any mode
// running without its routing service attached, per spec.md §4.4 "if no
// routing service is attached, drop").
func New(store *state.Store, tr transport.Transport, self packet.NodeID, proto packet.Proto, links map[packet.NodeID]packet.Channel, routing RoutingService, deliver DeliverFunc, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	channelToNode := make(map[packet.Channel]packet.NodeID, len(links))
	for nid, ch := range links {
		channelToNode[ch] = nid
	}
	return &Engine{
		store:         store,
		tr:            tr,
		self:          self,
		proto:         proto,
		links:         links,
		channelToNode: channelToNode,
		routing:       routing,
		deliver:       deliver,
		cfg:           cfg,
		log:           cfg.Logger.WithGroup("forwarding"),
	}
}

// Start launches the receive loop and the housekeeping ticker.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(2)
	go e.runReceiveLoop(ctx)
	go e.runHousekeeping(ctx)
	e.log.Info("started", "mode", e.proto)
}

// Stop cancels the receive loop and housekeeping ticker and waits for both.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("stopped")
}

func (e *Engine) runReceiveLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.tr.Receive():
			if !ok {
				return
			}
			e.HandleInbound(ctx, msg.Payload)
		}
	}
}

func (e *Engine) runHousekeeping(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(housekeepingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.housekeepingTick()
		}
	}
}

// housekeepingTick purges expired dedup entries and warns about neighbors
// that have missed their hello_timeout (spec.md §4.4 "Housekeeping loop").
// It performs no topology edits; LSR's own watchdog owns those.
func (e *Engine) housekeepingTick() {
	if purged := e.store.Seen.Purge(); purged > 0 {
		e.log.Debug("purged expired dedup entries", "count", purged)
	}
	for _, n := range e.store.DeadNeighbors(e.cfg.HelloTimeout) {
		e.log.Warn("neighbor missed hello_timeout", "neighbor", n)
	}
}

// HandleInbound runs one raw wire payload through the full inbound pipeline:
// decode, compat coercion, validate, dedup, anti-cycle, TTL gate, dispatch
// (spec.md §4.4).
func (e *Engine) HandleInbound(ctx context.Context, raw []byte) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		e.log.Warn("dropped: invalid json", "error", err)
		return
	}

	e.coerceCompat(m)

	pkt, err := packet.FromMap(m)
	if err != nil {
		e.log.Warn("dropped: schema invalid", "error", err)
		return
	}

	if e.store.Seen.CheckAndMark(pkt.MsgID) {
		e.log.Debug("dropped: seen", "type", pkt.Type, "msg_id", pkt.MsgID)
		return
	}

	if pkt.SeenCycle(e.self) {
		e.log.Debug("dropped: cycle", "type", pkt.Type, "trace_id", pkt.TraceID)
		return
	}

	if pkt.Type != packet.TypeHello && pkt.TTL <= 0 {
		e.log.Debug("dropped: ttl exhausted", "type", pkt.Type, "msg_id", pkt.MsgID)
		return
	}

	switch pkt.Type {
	case packet.TypeHello:
		e.onHello(pkt)
	case packet.TypeInfo:
		e.onInfo(ctx, pkt, raw)
	case packet.TypeMessage:
		e.onMessage(ctx, pkt)
	default:
		e.log.Debug("dropped: unhandled type", "type", pkt.Type)
	}
}

// coerceCompat applies the transport-compatibility coercions that must run
// before schema validation (spec.md §4.4 step 2).
func (e *Engine) coerceCompat(m map[string]any) {
	if from, ok := m["from"].(string); ok {
		if nid, known := e.channelToNode[packet.Channel(from)]; known {
			m["from"] = string(nid)
		}
	}
	if to, ok := m["to"].(string); ok {
		if nid, known := e.channelToNode[packet.Channel(to)]; known {
			m["to"] = string(nid)
		}
	}

	switch strings.ToLower(asString(m["type"])) {
	case "hello":
		if to, _ := m["to"].(string); !strings.EqualFold(to, string(packet.Broadcast)) {
			m["to"] = string(packet.Broadcast)
		}
		switch m["headers"].(type) {
		case []any, map[string]any:
		default:
			m["headers"] = []any{}
		}
		switch m["payload"].(type) {
		case string, map[string]any:
		default:
			m["payload"] = ""
		}
	case "message":
		e.coerceMessageToInfo(m)
	}
}

// coerceMessageToInfo rewrites a legacy per-edge {type:message, from, to,
// hops} packet into an INFO vector, the inverse of LSR's compat
// advertisement (spec.md §4.3.1, §4.4 step 2).
func (e *Engine) coerceMessageToInfo(m map[string]any) {
	hops, ok := asFloat(m["hops"])
	if !ok {
		return
	}
	from, fromOK := m["from"].(string)
	to, toOK := m["to"].(string)
	if !fromOK || !toOK || from == "" || to == "" {
		return
	}

	ttl := 8
	if v, ok := asFloat(m["ttl"]); ok {
		ttl = int(v)
	}

	coerced := map[string]any{
		"proto":   m["proto"],
		"type":    "info",
		"from":    from,
		"to":      string(packet.Broadcast),
		"ttl":     ttl,
		"headers": m["headers"],
		"payload": map[string]any{to: hops},
	}
	if v, ok := m["msg_id"]; ok {
		coerced["msg_id"] = v
	}
	if v, ok := m["trace_id"]; ok {
		coerced["trace_id"] = v
	}

	for k := range m {
		delete(m, k)
	}
	for k, v := range coerced {
		m[k] = v
	}
}

func (e *Engine) onHello(pkt *packet.Packet) {
	e.store.TouchHello(pkt.From)
	e.log.Debug("hello", "from", pkt.From)
}

// onInfo feeds the attached routing service and rebroadcasts the LSP to
// every neighbor but the previous hop (spec.md §4.4 step 7 "INFO").
func (e *Engine) onInfo(ctx context.Context, pkt *packet.Packet, raw []byte) {
	if e.routing == nil {
		e.log.Debug("dropped: info with no routing service attached")
		return
	}

	view, err := e.infoView(pkt, raw)
	if err != nil {
		e.log.Warn("dropped: malformed info payload", "error", err)
		return
	}
	e.routing.OnInfo(pkt.From, view)
	e.relay(ctx, pkt)
}

// infoView extracts the destination->cost view carried by an INFO packet.
// DVR's wire payload is wrapped as {"dv": {...}}, which Decode's generic
// INFO normalization flattens away (see packet.DVPayload), so the DVR case
// re-reads raw wire bytes directly instead of using pkt.Payload.
func (e *Engine) infoView(pkt *packet.Packet, raw []byte) (map[packet.NodeID]float64, error) {
	if pkt.Proto == packet.ProtoDVR {
		dv, err := packet.DVPayload(raw)
		if err != nil {
			return nil, err
		}
		return toNodeViewMap(dv), nil
	}
	flat, _ := pkt.Payload.(map[string]float64)
	return toNodeViewMap(flat), nil
}

func toNodeViewMap(m map[string]float64) map[packet.NodeID]float64 {
	out := make(map[packet.NodeID]float64, len(m))
	for k, v := range m {
		out[packet.NodeID(k)] = v
	}
	return out
}

// onMessage delivers locally-addressed MESSAGE packets or relays them
// toward their destination (spec.md §4.4 step 7 "MESSAGE").
func (e *Engine) onMessage(ctx context.Context, pkt *packet.Packet) {
	if pkt.To == e.self {
		if e.deliver != nil {
			e.deliver(pkt.From, pkt.Payload)
		}
		e.log.Info("message delivered", "from", pkt.From, "trace_id", pkt.TraceID)
		return
	}

	if e.proto == packet.ProtoFlooding {
		e.relay(ctx, pkt)
		return
	}

	if nextHop := e.store.GetNextHop(pkt.To); nextHop != "" {
		if ch, ok := e.links[nextHop]; ok {
			e.forwardUnicast(ctx, pkt, ch, nextHop)
			return
		}
	}
	e.log.Debug("no route, falling back to flood", "to", pkt.To)
	e.relay(ctx, pkt)
}

// relay decrements TTL, appends self to headers, and broadcasts to every
// neighbor except the previous hop.
func (e *Engine) relay(ctx context.Context, pkt *packet.Packet) {
	out := pkt.WithDecrementedTTL().WithAppendedHop(e.self)
	if out.TTL <= 0 {
		return
	}
	channels := e.channelsExcept(lastHeader(pkt.Headers))
	if len(channels) == 0 {
		return
	}
	if err := e.broadcastPacket(ctx, channels, out); err != nil {
		e.log.Warn("relay broadcast failed", "error", err)
	}
}

func (e *Engine) forwardUnicast(ctx context.Context, pkt *packet.Packet, ch packet.Channel, nextHop packet.NodeID) {
	out := pkt.WithDecrementedTTL().WithAppendedHop(e.self)
	if out.TTL <= 0 {
		return
	}
	if err := e.publish(ctx, ch, out); err != nil {
		e.log.Warn("forward failed", "next_hop", nextHop, "error", err)
	}
}

// SendMessage originates a MESSAGE packet to dst: unicast if dst is a direct
// neighbor, else unicast via the routing table, else flood to all neighbors.
// No TTL decrement and empty headers on origination (spec.md §4.4 "Local
// origination").
func (e *Engine) SendMessage(ctx context.Context, dst packet.NodeID, body any) error {
	pkt := packet.NewMessagePacket(e.proto, e.self, dst, body, e.cfg.TTLDefault)

	if ch, ok := e.links[dst]; ok {
		return e.publish(ctx, ch, pkt)
	}
	if nextHop := e.store.GetNextHop(dst); nextHop != "" {
		if ch, ok := e.links[nextHop]; ok {
			return e.publish(ctx, ch, pkt)
		}
	}

	channels := make([]packet.Channel, 0, len(e.links))
	for _, ch := range e.links {
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil
	}
	return e.broadcastPacket(ctx, channels, pkt)
}

func (e *Engine) channelsExcept(exclude packet.NodeID) []packet.Channel {
	out := make([]packet.Channel, 0, len(e.links))
	for nb, ch := range e.links {
		if nb == exclude {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func lastHeader(hdrs []packet.NodeID) packet.NodeID {
	if len(hdrs) == 0 {
		return ""
	}
	return hdrs[len(hdrs)-1]
}

func (e *Engine) publish(ctx context.Context, ch packet.Channel, pkt *packet.Packet) error {
	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("forwarding: encode packet: %w", err)
	}
	return e.tr.Publish(ctx, string(ch), data)
}

func (e *Engine) broadcastPacket(ctx context.Context, channels []packet.Channel, pkt *packet.Packet) error {
	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("forwarding: encode packet: %w", err)
	}
	strs := make([]string, len(channels))
	for i, c := range channels {
		strs[i] = string(c)
	}
	return e.tr.Broadcast(ctx, strs, data)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
