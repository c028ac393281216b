package son

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/netlab-overlay/simplenet/internal/netio"
	"github.com/netlab-overlay/simplenet/internal/sipproto"
)

// Client is the SIP process's handle onto its local SON connection
// (§6 "SIP listens on SIP_PORT" is the mirror of this: SIP dials SON on
// SON_PORT). It implements routing.PacketSender.
type Client struct {
	conn net.Conn
	r    *bufio.Reader

	mu sync.Mutex
}

// Dial connects to the local SON process.
func Dial(sonAddr string) (*Client, error) {
	conn, err := net.Dial("tcp", sonAddr)
	if err != nil {
		return nil, fmt.Errorf("son: connecting to SON at %s: %w", sonAddr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// SendPacket hands (nextHop, pkt) to SON for forwarding (§6).
func (c *Client) SendPacket(nextHop int32, pkt *sipproto.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	envelope := encodeNextHopEnvelope(nextHop, sipproto.Encode(pkt))
	return netio.WriteFrame(c.conn, envelope)
}

// ReadPacket blocks for the next packet SON forwards up to SIP.
func (c *Client) ReadPacket() (*sipproto.Packet, error) {
	payload, err := netio.ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	return sipproto.Decode(payload)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
