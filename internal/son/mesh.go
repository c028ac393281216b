// Package son builds and maintains the self-organizing overlay mesh: one TCP
// link per topological neighbor, plus the local connection to the SIP
// process. It forwards fixed framed packets hop-by-hop and replicates
// broadcasts onto every live link (§4.6, §6).
package son

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/netio"
	"github.com/netlab-overlay/simplenet/internal/sipproto"
	"github.com/netlab-overlay/simplenet/internal/topology"
)

// startDelay gives peer accept tasks time to come up before this node tries
// to dial them (§4.6 "a short start delay").
const startDelay = 500 * time.Millisecond

const dialRetries = 5
const dialRetryInterval = 500 * time.Millisecond

// BroadcastNodeID instructs Mesh to replicate a packet onto every live link.
const BroadcastNodeID = sipproto.BroadcastNodeID

type link struct {
	nodeID int32
	ip     string

	mu   sync.Mutex
	conn net.Conn
}

func (l *link) get() net.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *link) set(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
}

// Mesh is the neighbor table plus the tasks that keep it connected.
type Mesh struct {
	self           int32
	connectionPort int

	links map[int32]*link

	upstream net.Conn // the single local connection from SIP, once accepted

	metrics *metrics.Registry
}

// NewMesh builds the (initially disconnected) neighbor table from the topology.
func NewMesh(t *topology.Topology, connectionPort int, reg *metrics.Registry) *Mesh {
	m := &Mesh{
		self:           t.SelfNodeID,
		connectionPort: connectionPort,
		links:          map[int32]*link{},
		metrics:        reg,
	}
	for _, n := range t.Neighbors() {
		m.links[n] = &link{nodeID: n, ip: t.IPFor(n)}
	}
	return m
}

// Start brings up the neighbor mesh: accepts inbound connections from
// higher-numbered neighbors, dials lower-numbered ones, and launches one
// reader goroutine per established link. onPacket is invoked for every
// packet arriving from any neighbor. It blocks until ctx is cancelled.
func (m *Mesh) Start(ctx context.Context, onPacket func(*sipproto.Packet)) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.acceptNeighbors(ctx, onPacket, &wg)
	}()

	select {
	case <-time.After(startDelay):
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	}

	m.dialNeighbors(ctx, onPacket, &wg)

	go m.reportLiveLinks(ctx)

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (m *Mesh) reportLiveLinks(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := 0
			for _, l := range m.links {
				conn := l.get()
				if conn == nil {
					continue
				}
				n++
				if rtt, ok := probeLinkRTT(conn); ok {
					m.metrics.ObserveLinkRTT(fmt.Sprintf("%d", l.nodeID), rtt.Seconds())
				}
			}
			m.metrics.SetNeighborLinksUp(n)
		}
	}
}

func (m *Mesh) acceptNeighbors(ctx context.Context, onPacket func(*sipproto.Packet), wg *sync.WaitGroup) {
	addr := fmt.Sprintf(":%d", m.connectionPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		applog.Errorf("son: listening on %s: %v", addr, err)
		return
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	pending := 0
	for _, l := range m.links {
		if l.nodeID > m.self {
			pending++
		}
	}

	for pending > 0 {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				applog.Warnf("son: accept on %s: %v", addr, err)
				continue
			}
		}

		remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		matched := false
		for _, l := range m.links {
			if l.nodeID > m.self && l.ip == remoteIP && l.get() == nil {
				l.set(conn)
				matched = true
				applog.Infof("son: neighbor %d connected from %s", l.nodeID, remoteIP)
				wg.Add(1)
				go func(l *link) {
					defer wg.Done()
					m.runLinkReader(ctx, l, onPacket)
				}(l)
				pending--
				break
			}
		}
		if !matched {
			applog.Warnf("son: inbound connection from %s matched no pending neighbor", remoteIP)
			conn.Close()
		}
	}
}

func (m *Mesh) dialNeighbors(ctx context.Context, onPacket func(*sipproto.Packet), wg *sync.WaitGroup) {
	for _, l := range m.links {
		if l.nodeID >= m.self {
			continue
		}
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.dialOne(ctx, l, onPacket, wg)
		}()
	}
}

func (m *Mesh) dialOne(ctx context.Context, l *link, onPacket func(*sipproto.Packet), wg *sync.WaitGroup) {
	addr := fmt.Sprintf("%s:%d", l.ip, m.connectionPort)
	for attempt := 0; attempt < dialRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			applog.Warnf("son: dialing neighbor %d at %s (attempt %d): %v", l.nodeID, addr, attempt+1, err)
			time.Sleep(dialRetryInterval)
			continue
		}

		l.set(conn)
		applog.Infof("son: connected to neighbor %d at %s", l.nodeID, addr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runLinkReader(ctx, l, onPacket)
		}()
		return
	}
	applog.Warnf("son: giving up on neighbor %d after %d attempts; link stays down", l.nodeID, dialRetries)
}

func (m *Mesh) runLinkReader(ctx context.Context, l *link, onPacket func(*sipproto.Packet)) {
	conn := l.get()
	if conn == nil {
		return
	}
	defer func() {
		conn.Close()
		l.set(nil)
	}()

	r := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := netio.ReadFrame(r)
		if err != nil {
			applog.Warnf("son: reading from neighbor %d: %v", l.nodeID, err)
			return
		}
		pkt, err := sipproto.Decode(payload)
		if err != nil {
			applog.Warnf("son: decoding packet from neighbor %d: %v", l.nodeID, err)
			continue
		}
		onPacket(pkt)
	}
}

// SendPacket writes pkt to a specific next hop, or to every live neighbor
// link when nextHop is BroadcastNodeID (§4.6).
func (m *Mesh) SendPacket(nextHop int32, pkt *sipproto.Packet) error {
	encoded := sipproto.Encode(pkt)

	if nextHop == BroadcastNodeID {
		var firstErr error
		for _, l := range m.links {
			if conn := l.get(); conn != nil {
				if err := netio.WriteFrame(conn, encoded); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("son: broadcasting to neighbor %d: %w", l.nodeID, err)
				}
			}
		}
		return firstErr
	}

	l, ok := m.links[nextHop]
	if !ok {
		return fmt.Errorf("son: %d is not a known neighbor", nextHop)
	}
	conn := l.get()
	if conn == nil {
		return fmt.Errorf("son: link to neighbor %d is down", nextHop)
	}
	return netio.WriteFrame(conn, encoded)
}

// encodeNextHopEnvelope/decodeNextHopEnvelope implement the local
// SIP→SON (nextHopNodeId, packet) tuple (§6).
func encodeNextHopEnvelope(nextHop int32, packet []byte) []byte {
	buf := make([]byte, 4+len(packet))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(nextHop))
	copy(buf[4:], packet)
	return buf
}

func decodeNextHopEnvelope(buf []byte) (int32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("son: envelope too short: %d bytes", len(buf))
	}
	return int32(binary.LittleEndian.Uint32(buf[0:4])), buf[4:], nil
}
