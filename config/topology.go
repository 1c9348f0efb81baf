package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/overlaymesh/router/packet"
)

type namesEnvelope struct {
	Type   string            `json:"type"`
	Config map[string]string `json:"config"`
}

type topoEnvelope struct {
	Type   string                     `json:"type"`
	Config map[string]json.RawMessage `json:"config"`
}

// LoadNames reads the names.json envelope `{"type":"names","config":{node:
// channel}}` (spec.md §6).
func LoadNames(path string) (map[packet.NodeID]packet.Channel, error) {
	var env namesEnvelope
	if err := loadJSON(path, &env); err != nil {
		return nil, err
	}
	if env.Type != "names" {
		return nil, fmt.Errorf("%w: %s: expected type \"names\", got %q", ErrConfigInvalid, path, env.Type)
	}
	out := make(map[packet.NodeID]packet.Channel, len(env.Config))
	for id, ch := range env.Config {
		out[packet.NodeID(id)] = packet.Channel(ch)
	}
	return out, nil
}

// LoadTopo reads the topo.json envelope `{"type":"topo","config":{node:
// neighbors}}`, where neighbors is either a list of NodeIDs (unit cost) or an
// object of `{neighbor: positive cost}` (spec.md §6). Zero or negative costs
// are rejected as ErrConfigInvalid.
func LoadTopo(path string) (map[packet.NodeID]map[packet.NodeID]float64, error) {
	var env topoEnvelope
	if err := loadJSON(path, &env); err != nil {
		return nil, err
	}
	if env.Type != "topo" {
		return nil, fmt.Errorf("%w: %s: expected type \"topo\", got %q", ErrConfigInvalid, path, env.Type)
	}

	out := make(map[packet.NodeID]map[packet.NodeID]float64, len(env.Config))
	for id, raw := range env.Config {
		weights, err := normalizeWeights(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %s", ErrConfigInvalid, id, err)
		}
		out[packet.NodeID(id)] = weights
	}
	return out, nil
}

func normalizeWeights(raw json.RawMessage) (map[packet.NodeID]float64, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make(map[packet.NodeID]float64, len(list))
		for _, id := range list {
			out[packet.NodeID(id)] = 1
		}
		return out, nil
	}

	var weights map[string]float64
	if err := json.Unmarshal(raw, &weights); err != nil {
		return nil, fmt.Errorf("neighbor entry must be a list of ids or an object of weights: %w", err)
	}
	out := make(map[packet.NodeID]float64, len(weights))
	for id, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("weight for %q must be positive, got %v", id, w)
		}
		out[packet.NodeID(id)] = w
	}
	return out, nil
}

// NeighborLinks resolves self's direct neighbors (from topo) to their
// transport channel (from names), dropping any neighbor absent from names.
func NeighborLinks(names map[packet.NodeID]packet.Channel, topo map[packet.NodeID]map[packet.NodeID]float64, self packet.NodeID) map[packet.NodeID]packet.Channel {
	out := make(map[packet.NodeID]packet.Channel)
	for nid := range topo[self] {
		if ch, ok := names[nid]; ok {
			out[nid] = ch
		}
	}
	return out
}

// NeighborWeights returns self's direct-link costs from topo.
func NeighborWeights(topo map[packet.NodeID]map[packet.NodeID]float64, self packet.NodeID) map[packet.NodeID]float64 {
	out := make(map[packet.NodeID]float64, len(topo[self]))
	for nid, w := range topo[self] {
		out[nid] = w
	}
	return out
}

// AdjacencyList reduces a weighted topology to the unit-cost adjacency list
// routing/dijkstra's static mode computes over (spec.md §4.3.3).
func AdjacencyList(topo map[packet.NodeID]map[packet.NodeID]float64) map[packet.NodeID][]packet.NodeID {
	out := make(map[packet.NodeID][]packet.NodeID, len(topo))
	for node, neighbors := range topo {
		ids := make([]packet.NodeID, 0, len(neighbors))
		for nid := range neighbors {
			ids = append(ids, nid)
		}
		out[node] = ids
	}
	return out
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrConfigInvalid, path, err)
	}
	return nil
}
