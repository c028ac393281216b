package routing

import (
	"context"
	"time"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/sipproto"
	"github.com/netlab-overlay/simplenet/internal/topology"
)

// PacketSender is SON's send-side contract, as seen by the routing engine
// (§6 "SIP ↔ SON carry (nextHopNodeId, packet)").
type PacketSender interface {
	SendPacket(nextHop int32, pkt *sipproto.Packet) error
}

// SegmentDeliverer is the local STCP channel's receive-side contract: the
// engine calls it once per segment addressed to this node (§6 "STCP ↔ SIP
// carry (nodeId, segment)", direction = source node on receive).
type SegmentDeliverer func(srcNode int32, segment []byte)

// Engine is the SIP distance-vector routing engine and forwarding plane
// (§4.4): neighbor-cost table, DV table, and forwarding table, plus the
// broadcaster and receiver tasks that keep them converged.
type Engine struct {
	self int32

	nct *NeighborCostTable
	dv  *DVTable
	fwd *ForwardingTable

	nodes []int32

	son      PacketSender
	upstream SegmentDeliverer
	metrics  *metrics.Registry
}

// NewEngine builds the routing engine's tables from a parsed topology. son
// is the SON send-side handle; upstream is invoked for segments addressed
// to this node.
func NewEngine(t *topology.Topology, son PacketSender, upstream SegmentDeliverer, reg *metrics.Registry) *Engine {
	return &Engine{
		self:     t.SelfNodeID,
		nct:      NewNeighborCostTable(t),
		dv:       NewDVTable(t),
		fwd:      NewForwardingTable(t),
		nodes:    t.Nodes(),
		son:      son,
		upstream: upstream,
		metrics:  reg,
	}
}

// ForwardingSnapshot exposes the forwarding table for diagnostics/tests.
func (e *Engine) ForwardingSnapshot() map[int32]int32 { return e.fwd.Snapshot() }

// DV exposes the distance-vector table for diagnostics/tests.
func (e *Engine) DV() *DVTable { return e.dv }

// RunBroadcaster runs the periodic route-update broadcaster until ctx is
// cancelled (§4.4 "Update broadcaster").
func (e *Engine) RunBroadcaster(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.broadcastOnce()
		}
	}
}

func (e *Engine) broadcastOnce() {
	row := e.dv.SelfRow()
	entries := make([]sipproto.RouteEntry, 0, len(row))
	for node, cost := range row {
		entries = append(entries, sipproto.RouteEntry{NodeID: node, Cost: cost})
	}

	payload := sipproto.EncodeRouteUpdate(&sipproto.RouteUpdate{Entries: entries})
	pkt := sipproto.NewRouteUpdatePacket(e.self, payload)

	if err := e.son.SendPacket(sipproto.BroadcastNodeID, pkt); err != nil {
		applog.Warnf("routing: broadcasting route update: %v", err)
		return
	}
	e.metrics.ObserveRouteUpdateSent()
}

// HandleIncoming dispatches one packet arriving from SON (§4.4 "Receive side").
func (e *Engine) HandleIncoming(pkt *sipproto.Packet) {
	switch pkt.Header.Type {
	case sipproto.RouteUpdate:
		e.handleRouteUpdate(pkt)
	case sipproto.SIP:
		e.handleSegment(pkt)
	default:
		applog.Warnf("routing: packet with unknown type %d discarded", pkt.Header.Type)
	}
}

func (e *Engine) handleRouteUpdate(pkt *sipproto.Packet) {
	ru, err := sipproto.DecodeRouteUpdate(pkt.Payload)
	if err != nil {
		applog.Warnf("routing: malformed route update from node %d: %v", pkt.Header.SrcNodeID, err)
		return
	}
	e.metrics.ObserveRouteUpdateReceived()
	e.relax(pkt.Header.SrcNodeID, ru)
}

// relax applies Bellman-Ford relaxation for a route update from neighbor v
// (§4.4 "Update receiver").
func (e *Engine) relax(v int32, ru *sipproto.RouteUpdate) {
	e.dv.mu.Lock()
	defer e.dv.mu.Unlock()

	row, ok := e.dv.rows[v]
	if !ok {
		// Not a known direct neighbor; a route update can only legitimately
		// arrive from one, since SON only relays packets from established
		// neighbor links.
		return
	}
	for _, entry := range ru.Entries {
		row[entry.NodeID] = entry.Cost
	}

	selfRow := e.dv.rows[e.self]
	neighbors := e.nct.Neighbors()

	for _, y := range e.nodes {
		best := selfRow[y]
		bestVia := int32(0)
		improved := false
		for _, vp := range neighbors {
			viaRow, ok := e.dv.rows[vp]
			if !ok {
				continue
			}
			candidate := addCost(selfRow[vp], viaRow[y])
			if candidate < best {
				best = candidate
				bestVia = vp
				improved = true
			}
		}
		if improved {
			selfRow[y] = best
			e.fwd.Set(y, bestVia)
			e.metrics.ObserveRelaxationImprovement()
		}
	}
}

func (e *Engine) handleSegment(pkt *sipproto.Packet) {
	if pkt.Header.DestNodeID == e.self {
		e.upstream(pkt.Header.SrcNodeID, pkt.Payload)
		return
	}
	e.forward(pkt)
}

func (e *Engine) forward(pkt *sipproto.Packet) {
	nextHop, ok := e.fwd.NextHop(pkt.Header.DestNodeID)
	if !ok {
		applog.Warnf("routing: no route to node %d, dropping segment", pkt.Header.DestNodeID)
		e.metrics.ObserveSegmentDropped()
		return
	}
	if err := e.son.SendPacket(nextHop, pkt); err != nil {
		applog.Warnf("routing: forwarding to node %d via %d: %v", pkt.Header.DestNodeID, nextHop, err)
		return
	}
	e.metrics.ObserveSegmentForwarded()
}

// SendSegment is the forwarding plane's entrypoint for locally-originated
// transport segments (§4.4 "Forwarding plane").
func (e *Engine) SendSegment(destNode int32, segment []byte) {
	pkt := sipproto.NewSegmentPacket(e.self, destNode, segment)
	e.forward(pkt)
}
