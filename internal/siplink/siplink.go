// Package siplink implements the STCP↔SIP local channel (§6): a single TCP
// connection over which an STCP client or server process exchanges
// (nodeId, segment) tuples with the local SIP process. On send, nodeId is
// the segment's destination node; on receive it is the segment's source
// node — the wire envelope is the same shape either way.
package siplink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/netlab-overlay/simplenet/internal/netio"
	"github.com/netlab-overlay/simplenet/internal/seg"
)

// Conn is an STCP process's handle onto the local SIP connection.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex
}

// Dial connects to the local SIP process at addr (SIP_PORT).
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("siplink: connecting to SIP at %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// NewConn wraps an already-established connection, for tests that stand in
// a net.Pipe in place of a real SIP process.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c, r: bufio.NewReader(c)}
}

// SendSegment hands a segment to SIP for delivery toward destNode.
func (c *Conn) SendSegment(destNode int32, s *seg.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	envelope := encode(destNode, seg.Encode(s))
	return netio.WriteFrame(c.conn, envelope)
}

// RecvSegment blocks for the next segment SIP delivers, returning the
// segment's source node id.
func (c *Conn) RecvSegment() (int32, *seg.Segment, error) {
	payload, err := netio.ReadFrame(c.r)
	if err != nil {
		return 0, nil, err
	}
	nodeID, segBytes, err := decode(payload)
	if err != nil {
		return 0, nil, err
	}
	s, err := seg.Decode(segBytes)
	if err != nil {
		return 0, nil, err
	}
	return nodeID, s, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func encode(nodeID int32, segment []byte) []byte {
	buf := make([]byte, 4+len(segment))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(nodeID))
	copy(buf[4:], segment)
	return buf
}

func decode(buf []byte) (int32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("siplink: envelope too short: %d bytes", len(buf))
	}
	return int32(binary.LittleEndian.Uint32(buf[0:4])), buf[4:], nil
}
