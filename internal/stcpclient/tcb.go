// Package stcpclient implements the client-side STCP transport (§4.1): the
// client TCB table, its Go-Back-N send buffer, and the connect/send/
// disconnect/close state machine.
package stcpclient

import (
	"errors"
	"sync"
	"time"

	"github.com/netlab-overlay/simplenet/internal/seg"
)

// State is a client TCB's place in the connection lifecycle (§4.1).
type State int

const (
	Closed State = iota
	SynSent
	Connected
	FinWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case SynSent:
		return "SYNSENT"
	case Connected:
		return "CONNECTED"
	case FinWait:
		return "FINWAIT"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors, checked with errors.Is rather than string comparison (§7).
var (
	ErrTableFull     = errors.New("stcpclient: TCB table full")
	ErrPortInUse     = errors.New("stcpclient: local port already bound")
	ErrNoSuchSocket  = errors.New("stcpclient: no such socket")
	ErrIllegalState  = errors.New("stcpclient: operation not valid in current state")
	ErrConnectFailed = errors.New("stcpclient: connect timed out")
	ErrDisconnectBad = errors.New("stcpclient: disconnect timed out")
)

// Socket is an opaque handle returned by Open.
type Socket int32

// sendBufEntry is one link in the send buffer's singly linked FIFO (§4.5).
type sendBufEntry struct {
	segment *seg.Segment
	sentAt  time.Time
	next    *sendBufEntry
}

// tcb is one client transport control block (§3.4).
type tcb struct {
	id string // correlation id, assigned at open() (§11)

	localPort  uint32
	remoteNode int32
	remotePort uint32

	mu    sync.Mutex
	state State

	nextSeq uint32

	head, unsent, tail *sendBufEntry
	outstanding        int

	// connectResult/disconnectResult are signalled once by the segment
	// handler on the transition out of SYNSENT/FINWAIT; connect/disconnect
	// poll state directly (§4.1, §5) but also select on these so a
	// successful transition does not wait out a full polling tick.
	connectResult    chan struct{}
	disconnectResult chan struct{}

	timerRunning bool
}

func newTCB(localPort uint32) *tcb {
	return &tcb{
		localPort:        localPort,
		state:            Closed,
		connectResult:    make(chan struct{}, 1),
		disconnectResult: make(chan struct{}, 1),
	}
}

// MaxTransportConnections bounds the number of TCBs a table will hold open
// at once, the Go analogue of the reference implementation's
// tcbTable[MAX_TRANSPORT_CONNECTIONS] (§3.4 "fixed-capacity table").
const MaxTransportConnections = 1024

// Table is the process-wide client TCB table (§3.4, §9 "global mutable state").
type Table struct {
	mu      sync.Mutex
	byPort  map[uint32]*tcb
	byID    map[Socket]*tcb
	nextSoc Socket
}

// NewTable builds an empty client TCB table.
func NewTable() *Table {
	return &Table{
		byPort: make(map[uint32]*tcb),
		byID:   make(map[Socket]*tcb),
	}
}

// open allocates a TCB in CLOSED bound to localPort.
func (t *Table) open(localPort uint32) (Socket, *tcb, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byPort[localPort]; ok {
		return 0, nil, ErrPortInUse
	}
	if len(t.byPort) >= MaxTransportConnections {
		return 0, nil, ErrTableFull
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

// findByPort locates the TCB bound to a local port, used by the segment
// handler to dispatch inbound segments (§4.3).
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
