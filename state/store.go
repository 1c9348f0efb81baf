// Package state holds the single mutable State Store shared by the
// forwarding engine, the routing services, and background housekeeping
// tasks (spec.md §4.2). All mutation goes through Store's methods; Store
// guards its fields with one mutex and never calls back into its own public
// methods while holding it, to keep composed operations atomic without
// risking re-entrant deadlock (spec.md §5).
package state

import (
	"sync"
	"time"

	"github.com/overlaymesh/router/packet"
)

// NeighborEntry describes a direct link to a neighbor (spec.md §3).
type NeighborEntry struct {
	Cost        float64
	LastHelloTS time.Time
}

// Store is the node's shared state: neighbor table, link-state database,
// routing table, and message dedup cache.
type Store struct {
	mu   sync.Mutex
	self packet.NodeID
	now  func() time.Time

	neighbors map[packet.NodeID]*NeighborEntry
	lsdb      map[packet.NodeID]map[packet.NodeID]float64
	lsdbTS    map[packet.NodeID]time.Time

	routingTable map[packet.NodeID]packet.NodeID
	lastCosts    map[packet.NodeID]float64

	Seen *SeenCache
}

// New constructs an empty Store for the given node, with the given seen-ttl
// (0 selects DefaultSeenTTL) and clock function (nil selects time.Now).
func New(self packet.NodeID, seenTTL time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		self:         self,
		now:          now,
		neighbors:    make(map[packet.NodeID]*NeighborEntry),
		lsdb:         make(map[packet.NodeID]map[packet.NodeID]float64),
		lsdbTS:       make(map[packet.NodeID]time.Time),
		routingTable: make(map[packet.NodeID]packet.NodeID),
		lastCosts:    make(map[packet.NodeID]float64),
		Seen:         NewSeenCache(seenTTL, now),
	}
}

// Self returns the node id this store belongs to.
func (s *Store) Self() packet.NodeID { return s.self }
