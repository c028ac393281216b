package stcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/netsim"
	"github.com/netlab-overlay/simplenet/internal/seg"
	"github.com/netlab-overlay/simplenet/internal/siplink"
)

// AcceptPollingInterval/RecvPollingInterval/CloseWaitTimeout are the
// cooperative polling parameters for blocking operations (§4.2).
const (
	AcceptPollingInterval = 100 * time.Millisecond
	RecvPollingInterval   = 100 * time.Millisecond
	CloseWaitTimeout      = 2 * time.Second
)

// Server is one STCP server endpoint: its TCB table plus the local SIP
// channel it exchanges segments over (§4.2, §6).
type Server struct {
	table   *Table
	link    *siplink.Conn
	metrics *metrics.Registry
	loss    netsim.Rates
}

// New builds a server transport bound to an already-dialed SIP connection.
func New(link *siplink.Conn, reg *metrics.Registry) *Server {
	return &Server{table: NewTable(), link: link, metrics: reg}
}

// SetLossRates configures simulated wire loss applied to segments this
// server receives (§4.3, §8 scenario 6). The zero value leaves the segment
// handler's receive path unaffected.
func (s *Server) SetLossRates(r netsim.Rates) {
	s.loss = r
}

// Listen allocates a TCB in CLOSED with an empty receive buffer (§4.2).
func (s *Server) Listen(localPort uint32) (Socket, error) {
	soc, _, err := s.table.open(localPort)
	if err != nil {
		return 0, err
	}
	return soc, nil
}

// Accept moves the TCB to LISTENING and blocks until a SYN arrives and the
// state becomes CONNECTED (§4.2).
func (s *Server) Accept(ctx context.Context, soc Socket) error {
	b, err := s.table.get(soc)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.state != Closed {
		b.mu.Unlock()
		return fmt.Errorf("stcpserver: accept: %w", ErrIllegalState)
	}
	b.state = Listening
	b.mu.Unlock()

	ticker := time.NewTicker(AcceptPollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.acceptedCh:
			b.mu.Lock()
			connected := b.state == Connected
			b.mu.Unlock()
			if connected {
				applog.Infof("stcpserver: accepted connection from node %d port %d on local port %d",
					b.remoteNode, b.remotePort, b.localPort)
				return nil
			}
		case <-ticker.C:
			b.mu.Lock()
			connected := b.state == Connected
			b.mu.Unlock()
			if connected {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Recv blocks until at least n bytes are buffered, then copies exactly n
// bytes into the caller's buffer and shifts the remainder left (§4.2, §9
// resolved ambiguity: no off-by-one recomputation of n).
func (s *Server) Recv(ctx context.Context, soc Socket, n int) ([]byte, error) {
	b, err := s.table.get(soc)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(RecvPollingInterval)
	defer ticker.Stop()

	for {
		b.mu.Lock()
		if b.used >= n {
			out := b.consume(n)
			b.mu.Unlock()
			return out, nil
		}
		b.mu.Unlock()

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close frees a CLOSED TCB's slot (§4.2).
func (s *Server) Close(soc Socket) error {
	b, err := s.table.get(soc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state != Closed {
		return fmt.Errorf("stcpserver: close: %w", ErrIllegalState)
	}
	s.table.free(soc, b)
	return nil
}

func (s *Server) sendControl(b *tcb, typ seg.Type) error {
	segm := seg.New(typ, b.localPort, b.remotePort, 0, b.expectedSeq, nil)
	if err := s.link.SendSegment(b.remoteNode, segm); err != nil {
		return err
	}
	s.metrics.ObserveSegmentSent("server", typ.String())
	return nil
}
