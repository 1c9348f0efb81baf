// Package graph provides the shared shortest-path routine used by the LSR
// and static-Dijkstra routing services, and by state.Store when rendering a
// routing table snapshot.
package graph

import (
	"math"
	"sort"

	"github.com/overlaymesh/router/packet"
)

// Graph is a symmetric weighted adjacency map: Graph[u][v] is the cost of
// the edge u->v. Callers are responsible for the undirected closure
// (state.Store.BuildGraph already produces one).
type Graph map[packet.NodeID]map[packet.NodeID]float64

// Result holds the outcome of a single-source shortest-path computation.
type Result struct {
	Dist map[packet.NodeID]float64
	Prev map[packet.NodeID]packet.NodeID
}

// Dijkstra computes shortest distances from source over g using an O(V^2)
// array-scan, appropriate for lab-scale graphs (spec.md §4.3.1).
//
// Tie-breaking when multiple unvisited nodes share the minimum tentative
// distance is resolved by iterating node IDs in sorted lexical order, so
// results are deterministic across runs even though the underlying maps have
// no defined iteration order (spec.md §9 "Open Questions").
func Dijkstra(g Graph, source packet.NodeID) Result {
	nodes := make([]packet.NodeID, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	dist := make(map[packet.NodeID]float64, len(nodes))
	prev := make(map[packet.NodeID]packet.NodeID, len(nodes))
	visited := make(map[packet.NodeID]bool, len(nodes))
	for _, n := range nodes {
		dist[n] = math.Inf(1)
	}
	dist[source] = 0

	for range nodes {
		u, best := packet.NodeID(""), math.Inf(1)
		found := false
		for _, n := range nodes {
			if visited[n] {
				continue
			}
			if dist[n] < best {
				u, best = n, dist[n]
				found = true
			}
		}
		if !found {
			break
		}
		visited[u] = true

		neighbors := make([]packet.NodeID, 0, len(g[u]))
		for v := range g[u] {
			neighbors = append(neighbors, v)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, v := range neighbors {
			if visited[v] {
				continue
			}
			alt := dist[u] + g[u][v]
			if alt < dist[v] {
				dist[v] = alt
				prev[v] = u
			}
		}
	}

	return Result{Dist: dist, Prev: prev}
}

// NextHops walks each destination's predecessor chain back to the node whose
// predecessor is source, yielding the immediate neighbor to use as next hop
// (spec.md §4.3.1 "Recompute"). Destinations unreachable from source, or
// equal to source, are omitted.
func (r Result) NextHops(source packet.NodeID) map[packet.NodeID]packet.NodeID {
	hops := make(map[packet.NodeID]packet.NodeID)
	for dst, d := range r.Dist {
		if dst == source || math.IsInf(d, 1) {
			continue
		}
		cur := dst
		for {
			p, ok := r.Prev[cur]
			if !ok {
				break
			}
			if p == source {
				hops[dst] = cur
				break
			}
			cur = p
		}
	}
	return hops
}
