package state

import (
	"time"

	"github.com/overlaymesh/router/packet"
)

// SetNeighbors replaces the neighbor table wholesale with the given direct
// links (topology load at startup, spec.md §6) and seeds self's row in the
// LSDB to match.
func (s *Store) SetNeighbors(links map[packet.NodeID]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.neighbors = make(map[packet.NodeID]*NeighborEntry, len(links))
	selfRow := make(map[packet.NodeID]float64, len(links))
	for n, cost := range links {
		s.neighbors[n] = &NeighborEntry{Cost: cost}
		selfRow[n] = cost
	}
	s.lsdb[s.self] = selfRow
}

// AddNeighbor adds or replaces a direct neighbor link.
func (s *Store) AddNeighbor(id packet.NodeID, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.neighbors[id] = &NeighborEntry{Cost: cost}
	if s.lsdb[s.self] == nil {
		s.lsdb[s.self] = make(map[packet.NodeID]float64)
	}
	s.lsdb[s.self][id] = cost
}

// RemoveNeighbor removes a direct neighbor link.
func (s *Store) RemoveNeighbor(id packet.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.neighbors, id)
	if row, ok := s.lsdb[s.self]; ok {
		delete(row, id)
	}
}

// UpdateLinkCost changes the cost of an existing direct link, leaving its
// liveness untouched. A no-op if id is not a known neighbor.
func (s *Store) UpdateLinkCost(id packet.NodeID, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.neighbors[id]
	if !ok {
		return
	}
	info.Cost = cost
	if s.lsdb[s.self] == nil {
		s.lsdb[s.self] = make(map[packet.NodeID]float64)
	}
	s.lsdb[s.self][id] = cost
}

// TouchHello records that a HELLO was received from id just now, marking it
// alive. A no-op if id is not a known neighbor.
func (s *Store) TouchHello(id packet.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.neighbors[id]; ok {
		info.LastHelloTS = s.now()
	}
}

// DeadNeighbors returns the ids of direct neighbors whose last HELLO is
// older than timeout. Neighbors from whom no HELLO has ever been received
// are not included.
func (s *Store) DeadNeighbors(timeout time.Duration) []packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var dead []packet.NodeID
	for id, info := range s.neighbors {
		if !info.LastHelloTS.IsZero() && now.Sub(info.LastHelloTS) > timeout {
			dead = append(dead, id)
		}
	}
	return dead
}

// GetAliveLinks returns the {neighbor: cost} view of direct links currently
// considered alive under the given hello timeout (spec.md §4.3.1
// "Advertise").
func (s *Store) GetAliveLinks(timeout time.Duration) map[packet.NodeID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[packet.NodeID]float64)
	for id, info := range s.neighbors {
		if !info.LastHelloTS.IsZero() && now.Sub(info.LastHelloTS) <= timeout {
			out[id] = info.Cost
		}
	}
	return out
}

// NeighborCost returns the configured cost of a direct link, if id is a
// known neighbor.
func (s *Store) NeighborCost(id packet.NodeID) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.neighbors[id]
	if !ok {
		return 0, false
	}
	return info.Cost, true
}

// Neighbors returns the set of direct neighbor ids.
func (s *Store) Neighbors() []packet.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]packet.NodeID, 0, len(s.neighbors))
	for id := range s.neighbors {
		out = append(out, id)
	}
	return out
}

func (s *Store) isAliveLocked(id packet.NodeID, timeout time.Duration) bool {
	info, ok := s.neighbors[id]
	if !ok || info.LastHelloTS.IsZero() {
		return false
	}
	return s.now().Sub(info.LastHelloTS) <= timeout
}
