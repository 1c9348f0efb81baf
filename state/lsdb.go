package state

import (
	"time"

	"github.com/overlaymesh/router/packet"
	"github.com/overlaymesh/router/routing/graph"
)

// UpdateLSDB installs origin's advertised link vector, stamping it with the
// current time (spec.md §3 "LSDB").
func (s *Store) UpdateLSDB(origin packet.NodeID, links map[packet.NodeID]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := make(map[packet.NodeID]float64, len(links))
	for n, c := range links {
		row[n] = c
	}
	s.lsdb[origin] = row
	s.lsdbTS[origin] = s.now()
}

// PurgeStaleLSDB removes every origin whose entry is older than maxAge and
// returns the removed origins (spec.md §4.3.1 "Watchdog").
func (s *Store) PurgeStaleLSDB(maxAge time.Duration) []packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed []packet.NodeID
	for origin, ts := range s.lsdbTS {
		if now.Sub(ts) > maxAge {
			delete(s.lsdb, origin)
			delete(s.lsdbTS, origin)
			removed = append(removed, origin)
		}
	}
	return removed
}

// LSDBSnapshot returns a deep copy of the current LSDB.
func (s *Store) LSDBSnapshot() map[packet.NodeID]map[packet.NodeID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLSDBLocked()
}

func (s *Store) cloneLSDBLocked() map[packet.NodeID]map[packet.NodeID]float64 {
	out := make(map[packet.NodeID]map[packet.NodeID]float64, len(s.lsdb))
	for origin, row := range s.lsdb {
		cp := make(map[packet.NodeID]float64, len(row))
		for n, c := range row {
			cp[n] = c
		}
		out[origin] = cp
	}
	return out
}

// BuildGraph constructs a symmetric weighted graph combining self's direct
// links with the LSDB, applying undirected closure (spec.md §4.3.1
// "build_graph"). When helloTimeout is non-nil, direct links are filtered to
// those currently alive, and third-party LSDB edges terminating at a
// non-alive direct neighbor (other than self) are dropped.
func (s *Store) BuildGraph(helloTimeout *time.Duration) graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildGraphLocked(helloTimeout)
}

func (s *Store) buildGraphLocked(helloTimeout *time.Duration) graph.Graph {
	g := make(graph.Graph)
	ensure := func(n packet.NodeID) {
		if g[n] == nil {
			g[n] = make(map[packet.NodeID]float64)
		}
	}
	ensure(s.self)

	for n, info := range s.neighbors {
		if helloTimeout != nil && !s.isAliveLocked(n, *helloTimeout) {
			continue
		}
		g[s.self][n] = info.Cost
		ensure(n)
		if _, ok := g[n][s.self]; !ok {
			g[n][s.self] = info.Cost
		}
	}

	for u, edges := range s.lsdb {
		ensure(u)
		for v, w := range edges {
			if _, direct := s.neighbors[v]; helloTimeout != nil && direct && !s.isAliveLocked(v, *helloTimeout) {
				continue
			}
			g[u][v] = w
			ensure(v)
			if _, ok := g[v][u]; !ok {
				g[v][u] = w
			}
		}
	}

	return g
}
