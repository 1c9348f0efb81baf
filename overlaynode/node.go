// Package overlaynode wires the State Store, a transport, an optional
// routing service, and the Forwarding Engine into one runnable node
// (spec.md §4, grounded on the original implementation's Node orchestrator).
package overlaynode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/overlaymesh/router/clock"
	"github.com/overlaymesh/router/config"
	"github.com/overlaymesh/router/forwarding"
	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/routing/dijkstra"
	"github.com/overlaymesh/router/routing/dvr"
	"github.com/overlaymesh/router/routing/lsr"
	"github.com/overlaymesh/router/state"
	"github.com/overlaymesh/router/transport"
	"github.com/overlaymesh/router/transport/mqtt"
	"github.com/overlaymesh/router/transport/redis"
)

// minEntryTimeout is the floor DVR's entry_timeout is raised to when
// hello_timeout is too small to let routes survive a few missed
// advertisements (spec.md §4.3.2, grounded on the original implementation's
// `max(hello_timeout_sec, 25.0)`).
const minEntryTimeout = 25 * time.Second

// Node is one running overlay participant: state, transport, routing, and
// forwarding, plus the periodic HELLO beacon.
type Node struct {
	cfg   *config.Config
	log   *slog.Logger
	clock *clock.Clock

	store *state.Store
	tr    transport.Transport

	links           map[packet.NodeID]packet.Channel
	neighborWeights map[packet.NodeID]float64

	routing forwarding.RoutingService // nil in flooding mode
	engine  *forwarding.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DefaultDeliver logs a received MESSAGE body at info level; callers
// wanting custom handling should pass their own forwarding.DeliverFunc to
// New.
func DefaultDeliver(log *slog.Logger) forwarding.DeliverFunc {
	return func(from packet.NodeID, body any) {
		log.Info("message delivered", "from", from, "body", body)
	}
}

// Load reads envPath's configuration and the names.json/topo.json topology
// it names, builds this node's transport, and constructs a Node ready to
// Start. deliver may be nil to fall back to DefaultDeliver.
func Load(envPath string, deliver forwarding.DeliverFunc) (*Node, error) {
	cfg, err := config.Load(envPath)
	if err != nil {
		return nil, fmt.Errorf("overlaynode: %w", err)
	}

	names, err := config.LoadNames(cfg.NamesPath)
	if err != nil {
		return nil, fmt.Errorf("overlaynode: %w", err)
	}
	topo, err := config.LoadTopo(cfg.TopoPath)
	if err != nil {
		return nil, fmt.Errorf("overlaynode: %w", err)
	}

	links := config.NeighborLinks(names, topo, cfg.Node)
	weights := config.NeighborWeights(topo, cfg.Node)

	log := slog.Default().With("node", cfg.Node)
	if len(links) == 0 {
		log.Warn("this node has no mapped neighbors in names.json/topo.json")
	}
	log.Info("loaded topology", "neighbors", weights, "proto", cfg.Proto, "transport", cfg.TransportKind)

	myChannel := config.MyChannel(names, cfg.Section, cfg.TopoID, cfg.Node)
	tr, err := newTransport(cfg, myChannel, log)
	if err != nil {
		return nil, fmt.Errorf("overlaynode: %w", err)
	}

	return New(cfg, tr, links, weights, config.AdjacencyList(topo), deliver), nil
}

// New constructs a Node from already-resolved configuration and transport.
// Exposed directly so tests (and the memory transport, which Load cannot
// build for lack of a shared Bus) can assemble a Node without touching disk
// or a real broker.
func New(cfg *config.Config, tr transport.Transport, links map[packet.NodeID]packet.Channel, neighborWeights map[packet.NodeID]float64, topo map[packet.NodeID][]packet.NodeID, deliver forwarding.DeliverFunc) *Node {
	log := slog.Default().With("node", cfg.Node)
	clk := clock.New()
	store := state.New(cfg.Node, state.DefaultSeenTTL, clk.Now)
	store.SetNeighbors(neighborWeights)

	if deliver == nil {
		deliver = DefaultDeliver(log)
	}

	n := &Node{
		cfg:             cfg,
		log:             log,
		clock:           clk,
		store:           store,
		tr:              tr,
		links:           links,
		neighborWeights: neighborWeights,
	}

	switch cfg.Proto {
	case packet.ProtoLSR:
		n.routing = lsr.New(store, tr, cfg.Node, links, lsr.Config{
			HelloTimeout:                     cfg.HelloTimeout,
			InfoInterval:                     cfg.InfoInterval,
			OnChangeDebounce:                 lsr.DefaultOnChangeDebounce,
			AdvertiseLinksFromNeighborsTable: true,
			Logger:                           log,
		})
	case packet.ProtoDVR:
		entryTimeout := cfg.HelloTimeout
		if entryTimeout < minEntryTimeout {
			entryTimeout = minEntryTimeout
		}
		n.routing = dvr.New(store, tr, cfg.Node, links, dvr.Config{
			AdvertiseInterval:  cfg.InfoInterval,
			EntryTimeout:       entryTimeout,
			SplitHorizonPoison: true,
			Logger:             log,
		}, clk.Now)
	case packet.ProtoDijkstra:
		n.routing = dijkstra.New(store, cfg.Node, topo, log)
	default:
		// flooding: no routing service attached.
	}

	n.engine = forwarding.New(store, tr, cfg.Node, cfg.Proto, links, n.routing, deliver, forwarding.Config{
		HelloTimeout: cfg.HelloTimeout,
		TTLDefault:   cfg.TTLDefault,
		Logger:       log,
	})

	return n
}

func newTransport(cfg *config.Config, myChannel packet.Channel, log *slog.Logger) (transport.Transport, error) {
	switch cfg.TransportKind {
	case "mqtt":
		return mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Channel:     myChannel.String(),
			Logger:      log,
		}), nil
	case "redis", "":
		return redis.New(redis.Settings{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
		}, myChannel.String(), log), nil
	default:
		return nil, fmt.Errorf("unknown TRANSPORT %q", cfg.TransportKind)
	}
}

// Start connects the transport, starts the routing service (if any) and the
// forwarding engine, emits the initial control packets, and launches the
// periodic HELLO beacon.
func (n *Node) Start(ctx context.Context) error {
	if err := n.tr.Connect(ctx); err != nil {
		return fmt.Errorf("overlaynode: connecting transport: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	switch svc := n.routing.(type) {
	case *lsr.Service:
		svc.Start(ctx)
	case *dvr.Service:
		svc.Start(ctx)
	case *dijkstra.Service:
		svc.Start()
	}

	n.engine.Start(ctx)

	if err := n.emitInitialControlPackets(ctx); err != nil {
		n.log.Warn("failed to emit initial control packets", "error", err)
	}

	n.wg.Add(1)
	go n.runHelloBeacon(ctx)

	n.log.Info("node started", "proto", n.cfg.Proto)
	return nil
}

// Stop cancels the HELLO beacon, stops routing and forwarding, and closes
// the transport.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	switch svc := n.routing.(type) {
	case *lsr.Service:
		svc.Stop()
	case *dvr.Service:
		svc.Stop()
	case *dijkstra.Service:
		svc.Stop()
	}
	n.engine.Stop()

	if err := n.tr.Close(); err != nil {
		n.log.Warn("error closing transport", "error", err)
	}
	n.log.Info("node stopped")
}

// SendMessage originates a MESSAGE addressed to dst, delegating to the
// forwarding engine's direct-neighbor / routed / flood fallback chain
// (spec.md §4.4 "local origination").
func (n *Node) SendMessage(ctx context.Context, dst packet.NodeID, body any) error {
	return n.engine.SendMessage(ctx, dst, body)
}

// RoutingTableText renders the installed routing table as a human-readable
// multi-line listing, destinations in sorted order.
func (n *Node) RoutingTableText() string {
	table := n.store.GetRoutingTable()
	dsts := make([]packet.NodeID, 0, len(table))
	for dst := range table {
		dsts = append(dsts, dst)
	}
	sort.Slice(dsts, func(i, j int) bool { return dsts[i] < dsts[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "routing table for %s:\n", n.cfg.Node)
	for _, dst := range dsts {
		entry := table[dst]
		nextHop := entry.NextHop
		if nextHop == "" {
			nextHop = "-"
		}
		fmt.Fprintf(&b, "  %s -> %s (cost %.2f)\n", dst, nextHop, entry.Cost)
	}
	if len(dsts) == 0 {
		b.WriteString("  (empty)\n")
	}
	return b.String()
}

// emitInitialControlPackets broadcasts a startup HELLO to every neighbor
// and, for LSR only, an additional INFO carrying this node's direct-link
// vector (spec.md §4.1 "bootstrap", grounded on the original
// implementation's `_emit_initial_control_packets` — no extra INFO is sent
// here for DVR, whose own Start already advertises its vector once).
func (n *Node) emitInitialControlPackets(ctx context.Context) error {
	channels := make([]packet.Channel, 0, len(n.links))
	for _, ch := range n.links {
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil
	}

	hello := packet.NewHelloPacket(n.cfg.Proto, n.cfg.Node, n.cfg.TTLDefault)
	if err := n.broadcast(ctx, channels, hello); err != nil {
		return fmt.Errorf("broadcasting hello: %w", err)
	}

	if n.cfg.Proto == packet.ProtoLSR {
		view := make(map[string]float64, len(n.neighborWeights))
		for nb, cost := range n.neighborWeights {
			view[nb.String()] = cost
		}
		info := packet.NewInfoPacket(n.cfg.Proto, n.cfg.Node, view, n.cfg.TTLDefault)
		if err := n.broadcast(ctx, channels, info); err != nil {
			return fmt.Errorf("broadcasting initial info: %w", err)
		}
	}
	return nil
}

func (n *Node) runHelloBeacon(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.HelloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			channels := make([]packet.Channel, 0, len(n.links))
			for _, ch := range n.links {
				channels = append(channels, ch)
			}
			if len(channels) == 0 {
				continue
			}
			hello := packet.NewHelloPacket(n.cfg.Proto, n.cfg.Node, n.cfg.TTLDefault)
			if err := n.broadcast(ctx, channels, hello); err != nil {
				n.log.Warn("hello beacon broadcast failed", "error", err)
			}
		}
	}
}

func (n *Node) broadcast(ctx context.Context, channels []packet.Channel, pkt *packet.Packet) error {
	raw, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.String()
	}
	return n.tr.Broadcast(ctx, names, raw)
}
