package packet

// NodeID is a short opaque identifier for a node in the overlay, unique per
// topology (e.g. "A").
type NodeID string

// String returns the NodeID as a plain string.
func (n NodeID) String() string {
	return string(n)
}

// IsZero reports whether the NodeID is the empty identifier.
func (n NodeID) IsZero() bool {
	return n == ""
}

// Channel is an opaque string addressing a node on the transport bus.
// The NodeID -> Channel mapping is static configuration (names.json).
type Channel string

// String returns the Channel as a plain string.
func (c Channel) String() string {
	return string(c)
}

// Broadcast is the reserved "to" value meaning "every direct neighbor".
const Broadcast NodeID = "broadcast"
