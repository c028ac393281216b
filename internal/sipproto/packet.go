// Package sipproto defines the SIP packet wire format: the fixed header
// carrying source/destination node ids, and the route-update record used by
// the distance-vector routing engine (§3.2, §3.3).
package sipproto

// Type distinguishes a routing control packet from an encapsulated STCP
// segment.
type Type uint16

const (
	RouteUpdate Type = iota
	SIP
)

func (t Type) String() string {
	if t == RouteUpdate {
		return "ROUTE_UPDATE"
	}
	return "SIP"
}

// BroadcastNodeID is the sentinel next-hop value instructing SON to forward
// a packet to every live neighbor link, rather than a single next hop.
const BroadcastNodeID int32 = -1

// HeaderSize is the on-wire size of Header: two i32 node ids plus two u16 fields.
const HeaderSize = 4 + 4 + 2 + 2

// Header is the fixed-layout SIP packet header.
type Header struct {
	SrcNodeID  int32
	DestNodeID int32
	Length     uint16
	Type       Type
}

// Packet is a SIP protocol data unit: a header plus a payload that is either
// an encapsulated STCP segment (Type == SIP) or an encoded RouteUpdate
// (Type == RouteUpdate).
type Packet struct {
	Header  Header
	Payload []byte
}

// NewSegmentPacket wraps an already-encoded STCP segment for transmission
// from src to dest.
func NewSegmentPacket(src, dest int32, segment []byte) *Packet {
	return &Packet{
		Header: Header{
			SrcNodeID:  src,
			DestNodeID: dest,
			Length:     uint16(len(segment)),
			Type:       SIP,
		},
		Payload: segment,
	}
}

// NewRouteUpdatePacket wraps an encoded RouteUpdate for broadcast from src.
func NewRouteUpdatePacket(src int32, payload []byte) *Packet {
	return &Packet{
		Header: Header{
			SrcNodeID:  src,
			DestNodeID: BroadcastNodeID,
			Length:     uint16(len(payload)),
			Type:       RouteUpdate,
		},
		Payload: payload,
	}
}
