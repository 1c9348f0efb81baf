package state

import (
	"time"

	"github.com/overlaymesh/router/packet"
)

// NeighborSnapshot is the plain-data view of a neighbor table row, used for
// diagnostics and the optional snapshot-to-file convenience.
type NeighborSnapshot struct {
	Cost        float64   `json:"cost"`
	LastHelloTS time.Time `json:"last_hello_ts"`
}

// Snapshot is a point-in-time, plain-data dump of Store, suitable for
// logging or writing to disk. It is never read back on startup — the spec's
// Non-goals exclude crash-recovery persistence (spec.md §1); this exists
// purely as an operator convenience (the supplemented feature from the
// original implementation's persistence helper).
type Snapshot struct {
	Self         packet.NodeID                            `json:"self"`
	Neighbors    map[packet.NodeID]NeighborSnapshot        `json:"neighbors"`
	LSDB         map[packet.NodeID]map[packet.NodeID]float64 `json:"lsdb"`
	RoutingTable map[packet.NodeID]packet.NodeID           `json:"routing_table"`
	LastCosts    map[packet.NodeID]float64                 `json:"last_costs"`
}

// Snapshot returns a deep copy of the store's current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	neighbors := make(map[packet.NodeID]NeighborSnapshot, len(s.neighbors))
	for id, info := range s.neighbors {
		neighbors[id] = NeighborSnapshot{Cost: info.Cost, LastHelloTS: info.LastHelloTS}
	}

	routing := make(map[packet.NodeID]packet.NodeID, len(s.routingTable))
	for dst, nh := range s.routingTable {
		routing[dst] = nh
	}

	lastCosts := make(map[packet.NodeID]float64, len(s.lastCosts))
	for dst, c := range s.lastCosts {
		lastCosts[dst] = c
	}

	return Snapshot{
		Self:         s.self,
		Neighbors:    neighbors,
		LSDB:         s.cloneLSDBLocked(),
		RoutingTable: routing,
		LastCosts:    lastCosts,
	}
}
