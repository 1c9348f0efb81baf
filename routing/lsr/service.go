// Package lsr implements the Link-State Routing service: LSDB maintenance,
// Dijkstra-derived route recomputation, and periodic/debounced link-state
// advertisement (spec.md §4.3.1).
package lsr

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/routing/graph"
	"github.com/overlaymesh/router/state"
	"github.com/overlaymesh/router/transport"
)

const (
	// DefaultOnChangeDebounce is the delay before a debounced recompute runs
	// (spec.md §4.3.1).
	DefaultOnChangeDebounce = 400 * time.Millisecond
	watchdogPeriod          = 5 * time.Second
)

// Config holds LSR's tunable knobs (spec.md §4.3.1).
type Config struct {
	HelloTimeout     time.Duration
	InfoInterval     time.Duration
	OnChangeDebounce time.Duration

	// AdvertiseLinksFromNeighborsTable selects the classic LSR advertisement
	// (alive direct links) when true, or a flat routing-table-derived view
	// (cost 1 to every known destination) when false. The zero value is
	// false; overlaynode.New sets it to true.
	AdvertiseLinksFromNeighborsTable bool

	// CompatAdvertise additionally broadcasts one legacy-shaped {type:message,
	// hops:cost} packet per advertised edge, for interop with peer
	// implementations that expect that shape instead of an INFO vector
	// (spec.md §4.3.1 "Compat advertisement").
	CompatAdvertise bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.OnChangeDebounce <= 0 {
		c.OnChangeDebounce = DefaultOnChangeDebounce
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Service is the LSR routing service for one node.
type Service struct {
	store  *state.Store
	tr     transport.Transport
	self   packet.NodeID
	proto  packet.Proto
	links  map[packet.NodeID]packet.Channel
	cfg    Config
	log    *slog.Logger
	debounce *debouncer

	mu                 sync.Mutex
	lastAdvertisedView map[packet.NodeID]float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an LSR service. links maps every direct neighbor id to its
// transport channel.
func New(store *state.Store, tr transport.Transport, self packet.NodeID, links map[packet.NodeID]packet.Channel, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		store:    store,
		tr:       tr,
		self:     self,
		proto:    packet.ProtoLSR,
		links:    links,
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("lsr"),
		debounce: newDebouncer(cfg.OnChangeDebounce),
	}
}

// Start launches the periodic INFO ticker and the 5s watchdog.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.runTicker(ctx)
	go s.runWatchdog(ctx)
	s.log.Info("started", "info_interval", s.cfg.InfoInterval, "hello_timeout", s.cfg.HelloTimeout)
}

// Stop cancels background tasks and any pending debounce job.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.wg.Wait()
	s.log.Info("stopped")
}

// OnInfo merges an inbound LSP into the LSDB and schedules a debounced
// recompute+advertise (spec.md §4.3.1 "on_info").
func (s *Service) OnInfo(origin packet.NodeID, view map[packet.NodeID]float64) {
	s.store.UpdateLSDB(origin, view)
	s.log.Debug("lsdb updated", "origin", origin, "view", view)
	s.scheduleRecomputeAndAdvertise(context.Background())
}

func (s *Service) runTicker(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.InfoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Advertise(ctx)
		}
	}
}

func (s *Service) runWatchdog(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(watchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.watchdogTick(ctx)
		}
	}
}

func (s *Service) watchdogTick(ctx context.Context) {
	changed := false

	dead := s.store.DeadNeighbors(s.cfg.HelloTimeout)
	if len(dead) > 0 {
		selfRow := s.store.LSDBSnapshot()[s.self]
		for _, n := range dead {
			if _, present := selfRow[n]; present {
				s.store.RemoveNeighbor(n)
				s.log.Warn("dropping link: hello timeout", "neighbor", n)
				changed = true
			}
		}
	}

	maxAge := 3 * s.cfg.InfoInterval
	stale := s.store.PurgeStaleLSDB(maxAge)
	if len(stale) > 0 {
		s.log.Warn("purged stale lsdb entries", "origins", stale)
		changed = true
	}

	if changed {
		s.scheduleRecomputeAndAdvertise(ctx)
	}
}

func (s *Service) scheduleRecomputeAndAdvertise(ctx context.Context) {
	s.debounce.Schedule(func() {
		s.recompute()
		s.Advertise(ctx)
	})
}

// recompute rebuilds the graph, runs Dijkstra from self, and installs the
// derived next-hop table (spec.md §4.3.1 "Recompute").
func (s *Service) recompute() {
	helloTimeout := s.cfg.HelloTimeout
	g := s.store.BuildGraph(&helloTimeout)
	if _, ok := g[s.self]; !ok {
		g[s.self] = make(map[packet.NodeID]float64)
	}

	result := graph.Dijkstra(g, s.self)
	table := result.NextHops(s.self)
	s.store.SetRoutingTable(table)
	s.log.Info("routing table recomputed", "routes", len(table))
}

// Advertise broadcasts the current link view to all neighbors, unless it is
// unchanged from the last advertisement (spec.md §4.3.1 "Advertise").
func (s *Service) Advertise(ctx context.Context) {
	var view map[packet.NodeID]float64
	if s.cfg.AdvertiseLinksFromNeighborsTable {
		view = s.store.GetAliveLinks(s.cfg.HelloTimeout)
	} else {
		view = make(map[packet.NodeID]float64)
		for dst := range s.store.GetRoutingSnapshot() {
			view[dst] = 1
		}
	}

	s.mu.Lock()
	unchanged := maps.Equal(view, s.lastAdvertisedView)
	if !unchanged {
		s.lastAdvertisedView = maps.Clone(view)
	}
	s.mu.Unlock()
	if unchanged {
		return
	}

	channels := s.neighborChannels()
	if len(channels) == 0 {
		return
	}

	pkt := packet.NewInfoPacket(s.proto, s.self, toFloatMap(view), packet.MaxTTL)
	s.broadcastPacket(ctx, channels, pkt)
	s.log.Debug("advertised", "view", view)

	if s.cfg.CompatAdvertise {
		s.advertiseCompat(ctx, view)
	}
}

// compatHopsMessage is the legacy wire shape {type:message, from, to,
// hops, ttl}, with hops a top-level field rather than nested in payload
// (spec.md §4.3.1/§6). forwarding.Engine's coerceMessageToInfo is the
// inverse: it reads this exact shape and rewrites it into an INFO vector.
type compatHopsMessage struct {
	Proto     packet.Proto  `json:"proto"`
	Type      packet.Type   `json:"type"`
	From      packet.NodeID `json:"from"`
	To        packet.NodeID `json:"to"`
	TTL       int           `json:"ttl"`
	Hops      float64       `json:"hops"`
	MsgID     string        `json:"msg_id"`
	Timestamp float64       `json:"timestamp"`
	TraceID   string        `json:"trace_id,omitempty"`
}

// advertiseCompat sends one legacy per-edge {type:message, hops} packet for
// each advertised neighbor, for interop with peers expecting that shape
// (spec.md §4.3.1 "Compat advertisement").
func (s *Service) advertiseCompat(ctx context.Context, view map[packet.NodeID]float64) {
	for neighbor, cost := range view {
		channel, ok := s.links[neighbor]
		if !ok {
			continue
		}
		pkt := packet.NewMessagePacket(s.proto, s.self, neighbor, nil, 8)
		envelope := compatHopsMessage{
			Proto:     pkt.Proto,
			Type:      pkt.Type,
			From:      pkt.From,
			To:        pkt.To,
			TTL:       pkt.TTL,
			Hops:      cost,
			MsgID:     pkt.MsgID,
			Timestamp: pkt.Timestamp,
			TraceID:   pkt.TraceID,
		}
		data, err := json.Marshal(envelope)
		if err != nil {
			s.log.Warn("failed to encode compat advertisement", "neighbor", neighbor, "error", err)
			continue
		}
		if err := s.tr.Publish(ctx, string(channel), data); err != nil {
			s.log.Warn("compat advertisement failed", "neighbor", neighbor, "error", err)
		}
	}
}

func (s *Service) neighborChannels() []packet.Channel {
	out := make([]packet.Channel, 0, len(s.links))
	for _, ch := range s.links {
		out = append(out, ch)
	}
	return out
}

func (s *Service) broadcastPacket(ctx context.Context, channels []packet.Channel, pkt *packet.Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		s.log.Warn("failed to encode advertisement", "error", err)
		return
	}
	strs := make([]string, len(channels))
	for i, c := range channels {
		strs[i] = string(c)
	}
	if err := s.tr.Broadcast(ctx, strs, data); err != nil {
		s.log.Warn("broadcast failed", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, channel packet.Channel, pkt *packet.Packet) error {
	data, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	return s.tr.Publish(ctx, string(channel), data)
}

func toFloatMap(m map[packet.NodeID]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
