// Package stcpserver implements the server-side STCP transport (§4.2): the
// server TCB table, its contiguous receive buffer, and the
// listen/accept/recv/close state machine.
package stcpserver

import (
	"errors"
	"sync"
)

// State is a server TCB's place in the connection lifecycle (§4.2).
type State int

const (
	Closed State = iota
	Listening
	Connected
	CloseWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listening:
		return "LISTENING"
	case Connected:
		return "CONNECTED"
	case CloseWait:
		return "CLOSEWAIT"
	default:
		return "UNKNOWN"
	}
}

// RecvBufSize bounds a connection's receive buffer (§3.5).
const RecvBufSize = 64 * 1024

// Sentinel errors, checked with errors.Is (§7).
var (
	ErrPortInUse    = errors.New("stcpserver: local port already bound")
	ErrNoSuchSocket = errors.New("stcpserver: no such socket")
	ErrIllegalState = errors.New("stcpserver: operation not valid in current state")
	ErrAcceptFailed = errors.New("stcpserver: accept was cancelled")
)

// Socket is an opaque handle returned by Listen.
type Socket int32

// tcb is one server transport control block (§3.5).
type tcb struct {
	localPort uint32

	mu          sync.Mutex
	state       State
	remoteNode  int32
	remotePort  uint32
	expectedSeq uint32

	buf  [RecvBufSize]byte
	used int

	// acceptedCh lets Accept wake promptly rather than only on the next
	// polling tick; the public contract still only promises polling-based
	// blocking (§4.2), this is an optimization.
	acceptedCh chan struct{}
}

func newTCB(localPort uint32) *tcb {
	return &tcb{
		localPort:  localPort,
		state:      Closed,
		acceptedCh: make(chan struct{}, 1),
	}
}

// Table is the process-wide server TCB table.
type Table struct {
	mu      sync.Mutex
	byPort  map[uint32]*tcb
	byID    map[Socket]*tcb
	nextSoc Socket
}

// NewTable builds an empty server TCB table.
func NewTable() *Table {
	return &Table{
		byPort: make(map[uint32]*tcb),
		byID:   make(map[Socket]*tcb),
	}
}

func (t *Table) open(localPort uint32) (Socket, *tcb, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byPort[localPort]; ok {
		return 0, nil, ErrPortInUse
	}

	b := newTCB(localPort)
	soc := t.nextSoc
	t.nextSoc++
	t.byPort[localPort] = b
	t.byID[soc] = b
	return soc, b, nil
}

func (t *Table) get(soc Socket) (*tcb, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.byID[soc]
	if !ok {
		return nil, ErrNoSuchSocket
	}
	return b, nil
}

func (t *Table) findByPort(localPort uint32) (*tcb, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.byPort[localPort]
	return b, ok
}

func (t *Table) free(soc Socket, b *tcb) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, soc)
	delete(t.byPort, b.localPort)
}

// append copies bytes into the receive buffer if there is room, else drops
// the whole payload (§4.5, §8 boundary behavior). Caller holds b.mu.
func (b *tcb) append(data []byte) bool {
	if b.used+len(data) > RecvBufSize {
		return false
	}
	copy(b.buf[b.used:], data)
	b.used += len(data)
	return true
}

// consume copies out n bytes and shifts the remainder left (§4.5). Caller
// holds b.mu and has already verified b.used >= n.
func (b *tcb) consume(n int) []byte {
	out := make([]byte, n)
	copy(out, b.buf[:n])
	copy(b.buf[:], b.buf[n:b.used])
	b.used -= n
	return out
}
