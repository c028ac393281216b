// Package routing implements the SIP distance-vector routing engine: the
// neighbor-cost table, the distance-vector table, the forwarding table, and
// the Bellman-Ford relaxation that keeps them converged (§3.6, §4.4).
package routing

import (
	"sync"

	"github.com/netlab-overlay/simplenet/internal/topology"
)

// InfiniteCost is the absorbing sentinel used for unreachable destinations.
// It is chosen small enough that two finite-looking sums of it still compare
// correctly as "at least infinite" without overflowing uint32 arithmetic.
const InfiniteCost uint32 = 1 << 24

// addCost sums two costs, saturating at InfiniteCost instead of overflowing
// or silently wrapping a genuinely infinite path into a finite-looking one
// (§4.4 "Arithmetic").
func addCost(a, b uint32) uint32 {
	if a >= InfiniteCost || b >= InfiniteCost {
		return InfiniteCost
	}
	sum := a + b
	if sum >= InfiniteCost {
		return InfiniteCost
	}
	return sum
}

// NeighborCostTable maps each direct neighbor to its static link cost. It is
// built once from the topology and never mutated during a run; the mutex
// exists to satisfy the uniform "each table guarded by its own lock" rule
// (§4.4) even though writes only happen at construction.
type NeighborCostTable struct {
	mu    sync.RWMutex
	costs map[int32]uint32
}

// NewNeighborCostTable builds the table from a parsed topology.
func NewNeighborCostTable(t *topology.Topology) *NeighborCostTable {
	nct := &NeighborCostTable{costs: map[int32]uint32{}}
	for _, n := range t.Neighbors() {
		cost, ok := t.Cost(t.SelfNodeID, n)
		if !ok {
			cost = uint32(InfiniteCost)
		}
		nct.costs[n] = cost
	}
	return nct
}

// Cost returns the direct link cost to nodeID, or InfiniteCost if nodeID is
// not a direct neighbor.
func (n *NeighborCostTable) Cost(nodeID int32) uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if c, ok := n.costs[nodeID]; ok {
		return c
	}
	return InfiniteCost
}

// Neighbors returns the set of direct neighbor node ids.
func (n *NeighborCostTable) Neighbors() []int32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]int32, 0, len(n.costs))
	for id := range n.costs {
		out = append(out, id)
	}
	return out
}

// DVTable holds one row per self and direct neighbor, each row mapping every
// known destination node id to a cost (§3.6).
type DVTable struct {
	mu   sync.Mutex
	self int32
	rows map[int32]map[int32]uint32
}

// NewDVTable seeds a DVTable from the topology: self and neighbor rows,
// initialized with direct topology costs wherever a direct link exists and
// InfiniteCost otherwise.
func NewDVTable(t *topology.Topology) *DVTable {
	dv := &DVTable{
		self: t.SelfNodeID,
		rows: map[int32]map[int32]uint32{},
	}

	rowNodes := append([]int32{t.SelfNodeID}, t.Neighbors()...)
	nodes := t.Nodes()

	for _, r := range rowNodes {
		row := make(map[int32]uint32, len(nodes))
		for _, y := range nodes {
			if r == y {
				row[y] = 0
				continue
			}
			if cost, ok := t.Cost(r, y); ok {
				row[y] = cost
			} else {
				row[y] = InfiniteCost
			}
		}
		dv.rows[r] = row
	}

	return dv
}

// Get returns dv[row][dest], or InfiniteCost if either is unknown.
func (dv *DVTable) Get(row, dest int32) uint32 {
	dv.mu.Lock()
	defer dv.mu.Unlock()
	return dv.getLocked(row, dest)
}

func (dv *DVTable) getLocked(row, dest int32) uint32 {
	r, ok := dv.rows[row]
	if !ok {
		return InfiniteCost
	}
	c, ok := r[dest]
	if !ok {
		return InfiniteCost
	}
	return c
}

// SelfRow returns a snapshot of the self row, suitable for a route-update
// broadcast.
func (dv *DVTable) SelfRow() map[int32]uint32 {
	dv.mu.Lock()
	defer dv.mu.Unlock()
	out := make(map[int32]uint32, len(dv.rows[dv.self]))
	for k, v := range dv.rows[dv.self] {
		out[k] = v
	}
	return out
}

// ForwardingTable maps each destination node id to the neighbor it should be
// forwarded to (§3.6).
type ForwardingTable struct {
	mu      sync.Mutex
	nextHop map[int32]int32
}

// NewForwardingTable seeds the table with the direct-neighbor identity
// mapping: a neighbor's own next hop is itself.
func NewForwardingTable(t *topology.Topology) *ForwardingTable {
	fwd := &ForwardingTable{nextHop: map[int32]int32{}}
	for _, n := range t.Neighbors() {
		fwd.nextHop[n] = n
	}
	return fwd
}

// NextHop returns the neighbor node id to forward toward dest, and whether a
// route is known at all.
func (f *ForwardingTable) NextHop(dest int32) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nextHop[dest]
	return n, ok
}

// Set records dest's next hop as via.
func (f *ForwardingTable) Set(dest, via int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHop[dest] = via
}

// Snapshot returns a copy of the whole table, for diagnostics/tests.
func (f *ForwardingTable) Snapshot() map[int32]int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]int32, len(f.nextHop))
	for k, v := range f.nextHop {
		out[k] = v
	}
	return out
}
