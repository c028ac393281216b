// Package topology parses the static topology file that seeds both SON's
// neighbor mesh and SIP's routing tables (§6, §9). The overlay topology is
// assumed static for the lifetime of a process: this loader runs once at
// startup and its result is never mutated afterward.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HostPrefix is the hostname convention a node id is derived from:
// "netlab_<N>" names the node with id N.
const HostPrefix = "netlab_"

// edge is one parsed "hostA hostB cost" line, expanded to both directions.
type edge struct {
	from, to int32
	cost     uint32
}

// Topology is the immutable, parsed contents of a topology file plus this
// host's resolved identity within it.
type Topology struct {
	SelfNodeID int32
	nodes      map[int32]struct{}
	neighbors  []int32
	costs      map[[2]int32]uint32
	hostIP     map[int32]string
}

// Load parses the topology file at path and resolves selfHostname (normally
// os.Hostname()) to this host's node id.
func Load(path, selfHostname string) (*Topology, error) {
	selfID, err := NodeIDFromHostname(selfHostname)
	if err != nil {
		return nil, fmt.Errorf("topology: resolving local node id: %w", err)
	}
	return LoadForNode(path, selfID)
}

// LoadForNode parses the topology file at path for an already-known self
// node id, bypassing hostname resolution. Used when a daemon's node id is
// given explicitly (§10 "node id override", for running several nodes on
// one host during local testing).
func LoadForNode(path string, selfID int32) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("topology: opening %s: %w", path, err)
	}
	defer f.Close()

	t := &Topology{
		SelfNodeID: selfID,
		nodes:      map[int32]struct{}{selfID: {}},
		costs:      map[[2]int32]uint32{},
		hostIP:     map[int32]string{},
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("topology: %s:%d: expected 3 fields, got %d", path, lineNo, len(fields))
		}

		hostA, hostB := fields[0], fields[1]
		cost, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("topology: %s:%d: invalid cost %q: %w", path, lineNo, fields[2], err)
		}

		idA, err := NodeIDFromHostname(hostA)
		if err != nil {
			return nil, fmt.Errorf("topology: %s:%d: %w", path, lineNo, err)
		}
		idB, err := NodeIDFromHostname(hostB)
		if err != nil {
			return nil, fmt.Errorf("topology: %s:%d: %w", path, lineNo, err)
		}

		t.addEdge(edge{from: idA, to: idB, cost: uint32(cost)})
		t.addEdge(edge{from: idB, to: idA, cost: uint32(cost)})
		t.nodes[idA] = struct{}{}
		t.nodes[idB] = struct{}{}
		t.hostIP[idA] = hostToIP(hostA)
		t.hostIP[idB] = hostToIP(hostB)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("topology: reading %s: %w", path, err)
	}

	for n := range t.nodes {
		if _, ok := t.costs[[2]int32{selfID, n}]; ok && n != selfID {
			t.neighbors = append(t.neighbors, n)
		}
	}

	return t, nil
}

func (t *Topology) addEdge(e edge) {
	t.costs[[2]int32{e.from, e.to}] = e.cost
}

// Cost returns the direct link cost between two nodes and whether a direct
// link exists. Callers map "not found" onto their own infinite-cost sentinel.
func (t *Topology) Cost(from, to int32) (uint32, bool) {
	if from == to {
		return 0, true
	}
	c, ok := t.costs[[2]int32{from, to}]
	return c, ok
}

// Neighbors returns this host's direct neighbor node ids.
func (t *Topology) Neighbors() []int32 {
	out := make([]int32, len(t.neighbors))
	copy(out, t.neighbors)
	return out
}

// Nodes returns every node id mentioned anywhere in the topology, including self.
func (t *Topology) Nodes() []int32 {
	out := make([]int32, 0, len(t.nodes))
	for n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// IPFor returns the resolved IP address for a node id, or "" if unknown.
func (t *Topology) IPFor(nodeID int32) string {
	return t.hostIP[nodeID]
}

// NodeIDFromHostname extracts the node id from a "netlab_<N>" hostname, per
// the compiled-in naming convention (§6, §9).
func NodeIDFromHostname(hostname string) (int32, error) {
	hostname = strings.TrimSpace(hostname)
	if !strings.HasPrefix(hostname, HostPrefix) {
		return 0, fmt.Errorf("topology: hostname %q does not start with %q", hostname, HostPrefix)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(hostname, HostPrefix), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("topology: hostname %q has non-numeric node suffix: %w", hostname, err)
	}
	return int32(n), nil
}

// hostToIP resolves a "netlab_<N>" hostname to a dialable IP address via the
// compiled-in table (§6). Node ids map onto a fixed /24 the way the original
// lab deployment's four-host table did: ids 0 through 55 map to .200 through
// .255, and any other id resolves to "".
func hostToIP(hostname string) string {
	n, err := NodeIDFromHostname(hostname)
	if err != nil || n < 0 || 200+n > 255 {
		return ""
	}
	return fmt.Sprintf("192.168.163.%d", 200+n)
}
