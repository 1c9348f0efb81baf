// Package dijkstra implements the static Dijkstra routing service: a
// one-shot shortest-path computation over the configured topology at
// startup, with no further route exchange (spec.md §4.3.3).
package dijkstra

import (
	"log/slog"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/routing/graph"
	"github.com/overlaymesh/router/state"
)

// Service computes routes once from a fixed unit-cost topology and installs
// them into the shared state store. It never advertises or consumes INFO.
type Service struct {
	store *state.Store
	self  packet.NodeID
	topo  map[packet.NodeID][]packet.NodeID
	log   *slog.Logger
}

// New constructs a static Dijkstra service. topo is the adjacency list read
// from topo.json: every edge is undirected and has unit cost (spec.md §6,
// §4.3.3).
func New(store *state.Store, self packet.NodeID, topo map[packet.NodeID][]packet.NodeID, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, self: self, topo: topo, log: logger.WithGroup("dijkstra")}
}

// Start computes shortest paths over the static topology and installs the
// resulting next-hop table and costs. It does not launch any background
// goroutine.
func (s *Service) Start() {
	g := s.buildGraph()
	result := graph.Dijkstra(g, s.self)
	table := result.NextHops(s.self)

	costs := make(map[packet.NodeID]float64, len(table))
	for dst := range table {
		costs[dst] = result.Dist[dst]
	}

	s.store.SetRoutingTable(table)
	s.store.SetLastCosts(costs)
	s.log.Info("static routing table installed", "routes", len(table))
}

// Stop is a no-op: the static service holds no background resources.
func (s *Service) Stop() {}

// OnInfo is a no-op: static Dijkstra never exchanges route updates.
func (s *Service) OnInfo(origin packet.NodeID, payload map[packet.NodeID]float64) {}

// buildGraph turns the adjacency-list topology into an undirected,
// unit-cost graph.Graph.
func (s *Service) buildGraph() graph.Graph {
	g := make(graph.Graph)
	for u, vs := range s.topo {
		if g[u] == nil {
			g[u] = make(map[packet.NodeID]float64)
		}
		for _, v := range vs {
			g[u][v] = 1
			if g[v] == nil {
				g[v] = make(map[packet.NodeID]float64)
			}
			g[v][u] = 1
		}
	}
	if g[s.self] == nil {
		g[s.self] = make(map[packet.NodeID]float64)
	}
	return g
}
