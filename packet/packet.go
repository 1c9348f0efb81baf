package packet

import "errors"

// Proto identifies which routing strategy produced a packet.
type Proto string

const (
	ProtoLSR      Proto = "lsr"
	ProtoDVR      Proto = "dvr"
	ProtoDijkstra Proto = "dijkstra"
	ProtoFlooding Proto = "flooding"
)

// Type identifies the packet's role on the wire.
type Type string

const (
	TypeHello   Type = "hello"
	TypeInfo    Type = "info"
	TypeMessage Type = "message"
)

const (
	// MaxTTL is the largest permitted TTL value.
	MaxTTL = 64
	// MinTTL is the smallest permitted TTL value.
	MinTTL = 0
	// MaxHeaders bounds the hop trail length (spec §3, §8).
	MaxHeaders = 8
)

var (
	ErrTTLOutOfRange  = errors.New("packet: ttl out of range [0,64]")
	ErrMissingFrom    = errors.New("packet: missing from")
	ErrHelloNotBcast  = errors.New("packet: hello must address broadcast")
	ErrUnknownType    = errors.New("packet: unknown type")
	ErrBadInfoPayload = errors.New("packet: info payload must decode to a cost map")
)

// Packet is the canonical wire-level packet shared by all packet types.
// Fields mirror the wire envelope in spec.md §6.
type Packet struct {
	Proto     Proto          `json:"proto"`
	Type      Type           `json:"type"`
	From      NodeID         `json:"from"`
	To        NodeID         `json:"to"`
	TTL       int            `json:"ttl"`
	Headers   []NodeID       `json:"headers"`
	Payload   any            `json:"payload,omitempty"`
	MsgID     string         `json:"msg_id"`
	Timestamp float64        `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Clone returns a copy of the packet with its own headers slice. Payload is
// not deep-copied: a map or slice payload is shared with the original.
func (p *Packet) Clone() *Packet {
	clone := *p
	if p.Headers != nil {
		clone.Headers = append([]NodeID(nil), p.Headers...)
	}
	return &clone
}

// ClampTTL returns the TTL clamped into [0,64] (spec §4.1 validation rule).
func ClampTTL(ttl int) int {
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// WithDecrementedTTL returns a new packet with ttl = max(0, ttl-1).
func (p *Packet) WithDecrementedTTL() *Packet {
	clone := p.Clone()
	clone.TTL = p.TTL - 1
	if clone.TTL < 0 {
		clone.TTL = 0
	}
	return clone
}

// WithAppendedHop returns a new packet with self appended to the hop trail,
// trimmed to the last MaxHeaders entries.
func (p *Packet) WithAppendedHop(self NodeID) *Packet {
	clone := p.Clone()
	hdrs := append(append([]NodeID(nil), p.Headers...), self)
	clone.Headers = trimHeaders(hdrs)
	return clone
}

// SeenCycle reports whether self already appears in the hop trail.
func (p *Packet) SeenCycle(self NodeID) bool {
	for _, id := range p.Headers {
		if id == self {
			return true
		}
	}
	return false
}

// trimHeaders keeps only the last MaxHeaders entries of the hop trail.
func trimHeaders(hdrs []NodeID) []NodeID {
	if len(hdrs) <= MaxHeaders {
		return hdrs
	}
	return append([]NodeID(nil), hdrs[len(hdrs)-MaxHeaders:]...)
}
