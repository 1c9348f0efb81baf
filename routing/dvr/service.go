// Package dvr implements the Distance-Vector Routing service: incremental
// Bellman-Ford over neighbor-advertised vectors with split-horizon/poison
// reverse, and periodic expiry + re-advertisement (spec.md §4.3.2).
package dvr

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/state"
	"github.com/overlaymesh/router/transport"
)

// Inf is the wire sentinel for unreachable (spec.md §4.3.2, §6).
const Inf = 1e9

// epsilon is the tolerance Bellman-Ford uses when comparing candidate costs,
// avoiding float-noise oscillation (spec.md §4.3.2 "strictly, with 1e-9
// tolerance").
const epsilon = 1e-9

// Config holds DVR's tunable knobs.
type Config struct {
	AdvertiseInterval   time.Duration
	EntryTimeout        time.Duration
	SplitHorizonPoison  bool
	Logger              *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type entry struct {
	cost    float64
	nextHop packet.NodeID
	hasNH   bool
}

// Service is the DVR routing service for one node.
type Service struct {
	store *state.Store
	tr    transport.Transport
	self  packet.NodeID
	proto packet.Proto
	links map[packet.NodeID]packet.Channel
	cfg   Config
	log   *slog.Logger

	mu           sync.Mutex
	dv           map[packet.NodeID]entry
	lastSeenFrom map[packet.NodeID]time.Time
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a DVR service. links maps every direct neighbor id to its
// transport channel.
func New(store *state.Store, tr transport.Transport, self packet.NodeID, links map[packet.NodeID]packet.Channel, cfg Config, now func() time.Time) *Service {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:        store,
		tr:           tr,
		self:         self,
		proto:        packet.ProtoDVR,
		links:        links,
		cfg:          cfg,
		log:          cfg.Logger.WithGroup("dvr"),
		dv:           make(map[packet.NodeID]entry),
		lastSeenFrom: make(map[packet.NodeID]time.Time),
		now:          now,
	}
}

// Start seeds the DV with direct neighbors, advertises once, and launches
// the periodic expire+advertise ticker (spec.md §4.3.2 "Start").
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	for _, n := range s.store.Neighbors() {
		cost, ok := s.store.NeighborCost(n)
		if !ok {
			continue
		}
		s.dv[n] = entry{cost: cost, nextHop: n, hasNH: true}
		if _, seen := s.lastSeenFrom[n]; !seen {
			s.lastSeenFrom[n] = now
		}
	}
	s.dv[s.self] = entry{cost: 0, hasNH: false}
	s.mu.Unlock()

	s.advertiseAll(ctx)
	s.installIntoState()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.runTicker(ctx)
	s.log.Info("started", "advertise_interval", s.cfg.AdvertiseInterval)
}

// Stop cancels the periodic ticker.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("stopped")
}

func (s *Service) runTicker(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.AdvertiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireOld()
			s.advertiseAll(ctx)
		}
	}
}

// OnInfo applies an inbound distance vector via Bellman-Ford relaxation
// (spec.md §4.3.2 "on_info"). payload is the flat destination->cost vector
// that forwarding.Engine has already unwrapped from the wire's "dv" object;
// origin must be a direct neighbor, else the update is ignored (DVR never
// acts on flooded INFOs).
func (s *Service) OnInfo(origin packet.NodeID, payload map[packet.NodeID]float64) {
	neighCost, isNeighbor := s.store.NeighborCost(origin)
	if !isNeighbor {
		return
	}

	s.mu.Lock()
	s.lastSeenFrom[origin] = s.now()
	changed := false
	for dest, costViaOrigin := range payload {
		if dest == s.self {
			continue
		}
		old, ok := s.dv[dest]
		if !ok {
			old = entry{cost: Inf}
		}
		newCost := neighCost + costViaOrigin
		if newCost < old.cost-epsilon {
			s.dv[dest] = entry{cost: newCost, nextHop: origin, hasNH: true}
			changed = true
		}
		if old.hasNH && old.nextHop == origin && costViaOrigin >= Inf {
			s.dv[dest] = entry{cost: Inf, hasNH: false}
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.installIntoState()
		s.advertiseAll(context.Background())
	}
}

// expireOld drops DV entries whose origin has not advertised within
// EntryTimeout, poisoning every destination that routed through them
// (spec.md §4.3.2 "Periodic").
func (s *Service) expireOld() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []packet.NodeID
	for origin, ts := range s.lastSeenFrom {
		if now.Sub(ts) > s.cfg.EntryTimeout {
			expired = append(expired, origin)
		}
	}
	if len(expired) == 0 {
		return
	}

	expiredSet := make(map[packet.NodeID]bool, len(expired))
	for _, o := range expired {
		expiredSet[o] = true
	}
	for dest, e := range s.dv {
		if e.hasNH && expiredSet[e.nextHop] {
			s.dv[dest] = entry{cost: Inf, hasNH: false}
		}
	}
	for _, o := range expired {
		delete(s.lastSeenFrom, o)
	}
	s.log.Warn("dv entries expired", "origins", expired)
}

// advertiseAll sends this node's current DV to every neighbor, applying
// split-horizon/poison-reverse per recipient (spec.md §4.3.2 "Advertise").
func (s *Service) advertiseAll(ctx context.Context) {
	s.mu.Lock()
	base := make(map[packet.NodeID]float64, len(s.dv))
	for dest, e := range s.dv {
		base[dest] = e.cost
	}
	base[s.self] = 0
	dvCopy := make(map[packet.NodeID]entry, len(s.dv))
	for k, v := range s.dv {
		dvCopy[k] = v
	}
	s.mu.Unlock()

	for neighbor, channel := range s.links {
		out := make(map[string]float64, len(base))
		for dest, cost := range base {
			out[string(dest)] = cost
		}
		if s.cfg.SplitHorizonPoison {
			for dest, e := range dvCopy {
				if e.hasNH && e.nextHop == neighbor {
					out[string(dest)] = Inf
				}
			}
		}
		pkt := packet.NewInfoPacket(s.proto, s.self, nil, packet.MaxTTL)
		pkt.Payload = map[string]any{"dv": out}
		s.publish(ctx, channel, pkt)
	}
}

// installIntoState writes the current DV into the shared routing table and
// last-costs, dropping unreachable/next-hop-less entries (spec.md §4.3.2
// "Install").
func (s *Service) installIntoState() {
	s.mu.Lock()
	table := make(map[packet.NodeID]packet.NodeID)
	costs := make(map[packet.NodeID]float64)
	for dest, e := range s.dv {
		if dest == s.self {
			continue
		}
		if e.cost < Inf && e.hasNH {
			table[dest] = e.nextHop
			costs[dest] = e.cost
		}
	}
	s.mu.Unlock()

	s.store.SetRoutingTable(table)
	s.store.SetLastCosts(costs)
	s.log.Info("routing table updated", "routes", len(table))
}

func (s *Service) publish(ctx context.Context, channel packet.Channel, pkt *packet.Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		s.log.Warn("failed to encode dv advertisement", "error", err)
		return
	}
	if err := s.tr.Publish(ctx, string(channel), data); err != nil {
		s.log.Warn("publish failed", "error", err)
	}
}
