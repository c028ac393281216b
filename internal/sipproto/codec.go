package sipproto

import (
	"encoding/binary"
	"fmt"
)

var byteOrder = binary.LittleEndian

// Encode serializes p into its on-wire representation.
func Encode(p *Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	byteOrder.PutUint32(buf[0:4], uint32(p.Header.SrcNodeID))
	byteOrder.PutUint32(buf[4:8], uint32(p.Header.DestNodeID))
	byteOrder.PutUint16(buf[8:10], p.Header.Length)
	byteOrder.PutUint16(buf[10:12], uint16(p.Header.Type))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Decode parses a wire-format packet from buf.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("sipproto: buffer too short: got %d bytes, want at least %d", len(buf), HeaderSize)
	}

	h := Header{
		SrcNodeID:  int32(byteOrder.Uint32(buf[0:4])),
		DestNodeID: int32(byteOrder.Uint32(buf[4:8])),
		Length:     byteOrder.Uint16(buf[8:10]),
		Type:       Type(byteOrder.Uint16(buf[10:12])),
	}

	rest := buf[HeaderSize:]
	if int(h.Length) > len(rest) {
		return nil, fmt.Errorf("sipproto: declared length %d exceeds available payload %d", h.Length, len(rest))
	}

	payload := make([]byte, h.Length)
	copy(payload, rest[:h.Length])

	return &Packet{Header: h, Payload: payload}, nil
}

// RouteEntry is one (destination node, cost) pair within a RouteUpdate.
type RouteEntry struct {
	NodeID int32
	Cost   uint32
}

// RouteUpdate is the sender's distance vector: a count-prefixed list of
// (destination node id, cost) entries (§3.3).
type RouteUpdate struct {
	Entries []RouteEntry
}

// EncodeRouteUpdate serializes a RouteUpdate for use as a Packet payload.
func EncodeRouteUpdate(ru *RouteUpdate) []byte {
	buf := make([]byte, 4+8*len(ru.Entries))
	byteOrder.PutUint32(buf[0:4], uint32(len(ru.Entries)))
	for i, e := range ru.Entries {
		off := 4 + i*8
		byteOrder.PutUint32(buf[off:off+4], uint32(e.NodeID))
		byteOrder.PutUint32(buf[off+4:off+8], e.Cost)
	}
	return buf
}

// DecodeRouteUpdate parses a RouteUpdate from a Packet payload.
func DecodeRouteUpdate(buf []byte) (*RouteUpdate, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("sipproto: route update buffer too short: %d bytes", len(buf))
	}
	count := int(byteOrder.Uint32(buf[0:4]))
	want := 4 + 8*count
	if len(buf) < want {
		return nil, fmt.Errorf("sipproto: route update declares %d entries but buffer has only %d bytes", count, len(buf))
	}

	entries := make([]RouteEntry, count)
	for i := 0; i < count; i++ {
		off := 4 + i*8
		entries[i] = RouteEntry{
			NodeID: int32(byteOrder.Uint32(buf[off : off+4])),
			Cost:   byteOrder.Uint32(buf[off+4 : off+8]),
		}
	}
	return &RouteUpdate{Entries: entries}, nil
}
