package state

import (
	"math"
	"sort"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/routing/graph"
)

// RouteEntry is one rendered row of a routing table: the next hop to use to
// reach a destination, and its cost (spec.md §4.3.1 "get_routing_table").
// NextHop is empty when no route is installed.
type RouteEntry struct {
	NextHop packet.NodeID
	Cost    float64
}

// SetRoutingTable installs a fresh destination -> next_hop mapping,
// replacing whatever was there (spec.md §4.3.1 "Recompute"/"Install").
func (s *Store) SetRoutingTable(table map[packet.NodeID]packet.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routingTable = make(map[packet.NodeID]packet.NodeID, len(table))
	for dst, nh := range table {
		s.routingTable[dst] = nh
	}
}

// SetLastCosts records the most recently published destination costs
// (DVR's view, used as a fallback when the link-state graph has no path).
func (s *Store) SetLastCosts(costs map[packet.NodeID]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastCosts = make(map[packet.NodeID]float64, len(costs))
	for dst, c := range costs {
		s.lastCosts[dst] = c
	}
}

// GetNextHop returns the installed next hop for dst, or "" if none.
func (s *Store) GetNextHop(dst packet.NodeID) packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routingTable[dst]
}

// GetRoutingSnapshot returns a copy of the raw destination -> next_hop map.
func (s *Store) GetRoutingSnapshot() map[packet.NodeID]packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[packet.NodeID]packet.NodeID, len(s.routingTable))
	for dst, nh := range s.routingTable {
		out[dst] = nh
	}
	return out
}

// GetRoutingTable renders the full {dst: {next_hop, cost}} view: next hops
// come from the installed routing table, costs are preferentially computed
// by running Dijkstra over BuildGraph(nil) and fall back to the last
// published DVR-style cost when the graph has no path to dst (spec.md
// §4.3.1 "get_routing_table"). The result is a map, so it carries no
// destination order; an empty or not-yet-converged table yields an empty map.
func (s *Store) GetRoutingTable() map[packet.NodeID]RouteEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.buildGraphLocked(nil)
	if _, ok := g[s.self]; !ok {
		g[s.self] = make(map[packet.NodeID]float64)
	}
	result := graph.Dijkstra(g, s.self)

	dsts := make([]packet.NodeID, 0, len(s.routingTable))
	for dst := range s.routingTable {
		if dst == s.self {
			continue
		}
		dsts = append(dsts, dst)
	}
	sort.Slice(dsts, func(i, j int) bool { return dsts[i] < dsts[j] })

	out := make(map[packet.NodeID]RouteEntry, len(dsts))
	for _, dst := range dsts {
		cost, ok := result.Dist[dst]
		if !ok {
			cost = math.Inf(1)
		}
		if math.IsInf(cost, 1) {
			if c, ok := s.lastCosts[dst]; ok {
				cost = c
			}
		}
		out[dst] = RouteEntry{NextHop: s.routingTable[dst], Cost: cost}
	}
	return out
}
