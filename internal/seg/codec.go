package seg

import (
	"encoding/binary"
	"fmt"
)

// byteOrder is little-endian throughout the wire format. The endpoints in
// this system are assumed homogeneous (no interoperation with a big-endian
// host is required), so host byte order is an acceptable, explicit choice
// rather than network byte order.
var byteOrder = binary.LittleEndian

func encodeHeader(buf []byte, h *Header) {
	byteOrder.PutUint32(buf[0:4], h.SrcPort)
	byteOrder.PutUint32(buf[4:8], h.DestPort)
	byteOrder.PutUint32(buf[8:12], h.SeqNum)
	byteOrder.PutUint32(buf[12:16], h.AckNum)
	byteOrder.PutUint16(buf[16:18], h.Length)
	byteOrder.PutUint16(buf[18:20], uint16(h.Type))
	byteOrder.PutUint16(buf[20:22], h.RcvWin)
	byteOrder.PutUint16(buf[22:24], h.Checksum)
}

func decodeHeader(buf []byte) Header {
	return Header{
		SrcPort:  byteOrder.Uint32(buf[0:4]),
		DestPort: byteOrder.Uint32(buf[4:8]),
		SeqNum:   byteOrder.Uint32(buf[8:12]),
		AckNum:   byteOrder.Uint32(buf[12:16]),
		Length:   byteOrder.Uint16(buf[16:18]),
		Type:     Type(byteOrder.Uint16(buf[18:20])),
		RcvWin:   byteOrder.Uint16(buf[20:22]),
		Checksum: byteOrder.Uint16(buf[22:24]),
	}
}

// Encode serializes s into its on-wire representation.
func Encode(s *Segment) []byte {
	buf := make([]byte, HeaderSize+len(s.Payload))
	encodeHeader(buf[:HeaderSize], &s.Header)
	copy(buf[HeaderSize:], s.Payload)
	return buf
}

// Decode parses a wire-format segment from buf. The payload is copied out
// of buf, so the caller may reuse buf afterwards.
func Decode(buf []byte) (*Segment, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("seg: buffer too short: got %d bytes, want at least %d", len(buf), HeaderSize)
	}

	h := decodeHeader(buf[:HeaderSize])
	rest := buf[HeaderSize:]
	if int(h.Length) > len(rest) {
		return nil, fmt.Errorf("seg: declared length %d exceeds available payload %d", h.Length, len(rest))
	}

	payload := make([]byte, h.Length)
	copy(payload, rest[:h.Length])

	return &Segment{Header: h, Payload: payload}, nil
}
