package son

import (
	"bufio"
	"net"
	"testing"

	"github.com/netlab-overlay/simplenet/internal/netio"
	"github.com/netlab-overlay/simplenet/internal/sipproto"
)

func newMeshWithLinks(neighbors ...int32) (*Mesh, map[int32]net.Conn) {
	m := &Mesh{self: 1, links: map[int32]*link{}, metrics: nil}
	peers := map[int32]net.Conn{}
	for _, n := range neighbors {
		local, peer := net.Pipe()
		m.links[n] = &link{nodeID: n, conn: local}
		peers[n] = peer
	}
	return m, peers
}

func TestSendPacketToKnownNeighbor(t *testing.T) {
	m, peers := newMeshWithLinks(2, 3)
	defer func() {
		for _, c := range peers {
			c.Close()
		}
	}()

	pkt := sipproto.NewSegmentPacket(1, 4, []byte("hello"))

	recvErr := make(chan error, 1)
	var got *sipproto.Packet
	go func() {
		payload, err := netio.ReadFrame(bufio.NewReader(peers[2]))
		if err != nil {
			recvErr <- err
			return
		}
		got, err = sipproto.Decode(payload)
		recvErr <- err
	}()

	if err := m.SendPacket(2, pkt); err != nil {
		t.Fatalf("SendPacket failed: %v", err)
	}
	if err := <-recvErr; err != nil {
		t.Fatalf("receiving side failed: %v", err)
	}
	if got.Header != pkt.Header {
		t.Errorf("header mismatch: got %+v, want %+v", got.Header, pkt.Header)
	}
}

func TestSendPacketBroadcastReachesEveryLiveLink(t *testing.T) {
	m, peers := newMeshWithLinks(2, 3)
	defer func() {
		for _, c := range peers {
			c.Close()
		}
	}()

	pkt := sipproto.NewRouteUpdatePacket(1, []byte("dv"))

	results := make(chan error, 2)
	for _, c := range peers {
		c := c
		go func() {
			_, err := netio.ReadFrame(bufio.NewReader(c))
			results <- err
		}()
	}

	if err := m.SendPacket(BroadcastNodeID, pkt); err != nil {
		t.Fatalf("SendPacket(broadcast) failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Errorf("a broadcast recipient failed to receive: %v", err)
		}
	}
}

func TestSendPacketUnknownNeighborErrors(t *testing.T) {
	m, peers := newMeshWithLinks(2)
	defer func() {
		for _, c := range peers {
			c.Close()
		}
	}()

	if err := m.SendPacket(99, sipproto.NewSegmentPacket(1, 99, nil)); err == nil {
		t.Errorf("expected an error sending to a node with no link entry")
	}
}

func TestSendPacketDownLinkErrors(t *testing.T) {
	m, peers := newMeshWithLinks(2)
	defer func() {
		for _, c := range peers {
			c.Close()
		}
	}()
	m.links[2].set(nil) // simulate a link that dropped

	if err := m.SendPacket(2, sipproto.NewSegmentPacket(1, 2, nil)); err == nil {
		t.Errorf("expected an error sending to a link whose connection is down")
	}
}

func TestNextHopEnvelopeRoundTrip(t *testing.T) {
	encoded := encodeNextHopEnvelope(7, []byte("packet bytes"))
	nextHop, payload, err := decodeNextHopEnvelope(encoded)
	if err != nil {
		t.Fatalf("decodeNextHopEnvelope failed: %v", err)
	}
	if nextHop != 7 {
		t.Errorf("got nextHop %d, want 7", nextHop)
	}
	if string(payload) != "packet bytes" {
		t.Errorf("got payload %q, want %q", payload, "packet bytes")
	}
}

func TestNextHopEnvelopeTooShort(t *testing.T) {
	if _, _, err := decodeNextHopEnvelope([]byte{1, 2, 3}); err == nil {
		t.Errorf("expected error decoding a 3-byte envelope")
	}
}
