package packet

import "time"

// NewHelloPacket originates a HELLO packet from self, always addressed to
// broadcast (spec §3, §4.1).
func NewHelloPacket(proto Proto, self NodeID, ttl int) *Packet {
	return ensureTrace(&Packet{
		Proto:     proto,
		Type:      TypeHello,
		From:      self,
		To:        Broadcast,
		TTL:       ClampTTL(ttl),
		Headers:   nil,
		Payload:   "",
		MsgID:     NewMsgID(),
		Timestamp: nowUnix(),
	}, self)
}

// NewInfoPacket originates an INFO packet carrying the given view, broadcast
// to all neighbors (spec §4.1, §4.3.1, §4.3.2).
func NewInfoPacket(proto Proto, self NodeID, view map[string]float64, ttl int) *Packet {
	return ensureTrace(&Packet{
		Proto:     proto,
		Type:      TypeInfo,
		From:      self,
		To:        Broadcast,
		TTL:       ClampTTL(ttl),
		Headers:   nil,
		Payload:   view,
		MsgID:     NewMsgID(),
		Timestamp: nowUnix(),
	}, self)
}

// NewMessagePacket originates a unicast user MESSAGE packet to dst
// (spec §4.1, §4.4 "local origination").
func NewMessagePacket(proto Proto, self, dst NodeID, body any, ttl int) *Packet {
	return ensureTrace(&Packet{
		Proto:     proto,
		Type:      TypeMessage,
		From:      self,
		To:        dst,
		TTL:       ClampTTL(ttl),
		Headers:   nil,
		Payload:   body,
		MsgID:     NewMsgID(),
		Timestamp: nowUnix(),
	}, self)
}

func ensureTrace(p *Packet, originator NodeID) *Packet {
	if p.TraceID == "" {
		p.TraceID = NewTraceID(originator)
	}
	return p
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
