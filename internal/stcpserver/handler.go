package stcpserver

import (
	"context"
	"time"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/seg"
)

// RunSegmentHandler is the server's single long-running segment-handler
// task (§4.3): it reads segments from the local SIP channel and dispatches
// each to the TCB it is addressed to until the channel reports closed or ctx
// is cancelled.
func (s *Server) RunSegmentHandler(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		srcNode, sg, err := s.link.RecvSegment()
		if err != nil {
			return err
		}
		s.handleSegment(srcNode, sg)
	}
}

func (s *Server) handleSegment(srcNode int32, sg *seg.Segment) {
	if !s.loss.Apply(sg) {
		applog.Debugf("stcpserver: discarding segment from node %d: simulated loss", srcNode)
		return
	}
	if !sg.Verify() {
		applog.Warnf("stcpserver: discarding segment with bad checksum from node %d", srcNode)
		return
	}

	b, ok := s.table.findByPort(sg.Header.DestPort)
	if !ok {
		applog.Debugf("stcpserver: segment for unknown local port %d discarded", sg.Header.DestPort)
		return
	}

	b.mu.Lock()
	switch sg.Header.Type {
	case seg.SYN:
		s.handleSYN(b, srcNode, sg)
	case seg.DATA:
		s.handleDATA(b, sg)
	case seg.FIN:
		s.handleFIN(b, srcNode)
	default:
		// Any other type is ignored by the server (§4.2).
	}
	b.mu.Unlock()
}

// handleSYN: caller holds b.mu.
func (s *Server) handleSYN(b *tcb, srcNode int32, sg *seg.Segment) {
	switch b.state {
	case Listening:
		b.remoteNode = srcNode
		b.remotePort = sg.Header.SrcPort
		b.expectedSeq = sg.Header.SeqNum + 1
		b.state = Connected
		if err := s.sendControl(b, seg.SYNACK); err != nil {
			applog.Warnf("stcpserver: sending SYNACK: %v", err)
			return
		}
		select {
		case b.acceptedCh <- struct{}{}:
		default:
		}
	case Connected:
		if srcNode == b.remoteNode && sg.Header.SrcPort == b.remotePort {
			// Re-delivery of SYN in CONNECTED reproduces a SYNACK (§8).
			if err := s.sendControl(b, seg.SYNACK); err != nil {
				applog.Warnf("stcpserver: resending SYNACK: %v", err)
			}
		}
	}
}

// handleDATA: caller holds b.mu.
func (s *Server) handleDATA(b *tcb, sg *seg.Segment) {
	if b.state != Connected {
		return
	}
	if sg.Header.SeqNum == b.expectedSeq {
		if b.append(sg.Payload) {
			b.expectedSeq += uint32(len(sg.Payload))
		}
		// On buffer-full the payload is dropped but the current
		// expected_seq is still ACKed (§4.2 cumulative ack policy).
	}
	if err := s.sendControl(b, seg.DATAACK); err != nil {
		applog.Warnf("stcpserver: sending DATAACK: %v", err)
	}
}

// handleFIN: caller holds b.mu.
func (s *Server) handleFIN(b *tcb, srcNode int32) {
	switch b.state {
	case Connected:
		b.state = CloseWait
		if err := s.sendControl(b, seg.FINACK); err != nil {
			applog.Warnf("stcpserver: sending FINACK: %v", err)
			return
		}
		go s.runCloseWaitTimer(b)
	case CloseWait:
		// Re-delivery of FIN in CLOSEWAIT reproduces a FINACK (§8).
		if err := s.sendControl(b, seg.FINACK); err != nil {
			applog.Warnf("stcpserver: resending FINACK: %v", err)
		}
	}
}

// runCloseWaitTimer closes the TCB once CloseWaitTimeout elapses with no
// further FIN (§4.2).
func (s *Server) runCloseWaitTimer(b *tcb) {
	<-time.After(CloseWaitTimeout)

	b.mu.Lock()
	if b.state == CloseWait {
		b.state = Closed
		b.remoteNode = 0
		b.remotePort = 0
		b.expectedSeq = 0
		b.used = 0
	}
	b.mu.Unlock()
}
