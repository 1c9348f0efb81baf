package packet

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Decode parses raw UTF-8 JSON bytes into a typed Packet, applying the
// validation and normalization rules of spec.md §4.1. It does not perform
// the transport-compatibility coercion of §4.4 step 2 — callers that need
// that should run it over the raw map before calling FromMap (see
// forwarding.Engine, which owns that step).
func Decode(data []byte) (*Packet, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("packet: decode json: %w", err)
	}
	return FromMap(raw)
}

// FromMap builds and validates a Packet from a generic JSON object,
// dispatching validation rules by the "type" field.
func FromMap(raw map[string]any) (*Packet, error) {
	p := &Packet{}

	p.Proto = Proto(asString(raw["proto"]))
	if p.Proto == "" {
		p.Proto = ProtoLSR
	}

	t := strings.ToLower(asString(raw["type"]))
	p.Type = Type(t)

	from := NodeID(asString(raw["from"]))
	if from.IsZero() {
		return nil, ErrMissingFrom
	}
	p.From = from

	p.To = normalizeTo(raw["to"])

	ttl, ttlOK := asInt(raw["ttl"])
	if !ttlOK {
		ttl = 5
	}
	if ttl < MinTTL || ttl > MaxTTL {
		return nil, fmt.Errorf("%w: got %d", ErrTTLOutOfRange, ttl)
	}
	p.TTL = ttl

	p.Headers = normalizeHeaders(raw["headers"])

	p.MsgID = asString(raw["msg_id"])
	if p.MsgID == "" {
		p.MsgID = NewMsgID()
	}

	if ts, ok := asFloat(raw["timestamp"]); ok {
		p.Timestamp = ts
	} else {
		p.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}

	p.TraceID = asString(raw["trace_id"])

	switch Type(t) {
	case TypeHello:
		if p.To != Broadcast {
			return nil, ErrHelloNotBcast
		}
		p.Payload = ""
	case TypeInfo:
		view, err := normalizeInfoPayload(raw["payload"])
		if err != nil {
			return nil, err
		}
		p.Payload = view
	case TypeMessage:
		p.Payload = raw["payload"]
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	return p, nil
}

// normalizeTo canonicalizes the "to" field: any case-insensitive spelling
// of "broadcast" becomes the literal NodeID Broadcast.
func normalizeTo(v any) NodeID {
	s := asString(v)
	if strings.EqualFold(s, string(Broadcast)) {
		return Broadcast
	}
	return NodeID(s)
}

// normalizeHeaders accepts either a bare list of NodeIDs or an object with a
// "path" list, reducing either to the last MaxHeaders entries (spec §4.1).
func normalizeHeaders(v any) []NodeID {
	switch t := v.(type) {
	case []any:
		return trimHeaders(toNodeIDs(t))
	case map[string]any:
		if path, ok := t["path"].([]any); ok {
			return trimHeaders(toNodeIDs(path))
		}
		return nil
	default:
		return nil
	}
}

func toNodeIDs(list []any) []NodeID {
	ids := make([]NodeID, 0, len(list))
	for _, v := range list {
		ids = append(ids, NodeID(asString(v)))
	}
	return ids
}

// normalizeInfoPayload accepts a flat dest->cost map, an object carrying a
// "neighbors" sub-map, or a JSON-encoded string wrapping either shape,
// and reduces it to a flat map (spec §4.1, §6).
func normalizeInfoPayload(v any) (map[string]float64, error) {
	switch t := v.(type) {
	case string:
		var decoded any
		if t == "" {
			return map[string]float64{}, nil
		}
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadInfoPayload, err)
		}
		return normalizeInfoPayload(decoded)
	case map[string]any:
		if neighbors, ok := t["neighbors"].(map[string]any); ok {
			return toCostMap(neighbors), nil
		}
		return toCostMap(t), nil
	case nil:
		return map[string]float64{}, nil
	default:
		return nil, ErrBadInfoPayload
	}
}

func toCostMap(m map[string]any) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if f, ok := asFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

// DVPayload extracts the distance-vector map from a raw INFO packet's
// {"payload":{"dv":{...}}} envelope. Decode's generic INFO-payload
// normalization flattens and drops the "dv" wrapper (see
// TestDecode_DVRInfoPayload_WrappedDV), so forwarding.Engine reads a DVR
// INFO's vector from the wire bytes through this helper instead of using
// the decoded payload.
func DVPayload(data []byte) (map[string]float64, error) {
	var envelope struct {
		Payload struct {
			DV map[string]float64 `json:"dv"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("packet: decode dv payload: %w", err)
	}
	return envelope.Payload.DV, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
