package stcpclient

import (
	"context"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/seg"
)

// RunSegmentHandler is the client's single long-running segment-handler
// task (§4.3): it reads segments from the local SIP channel and dispatches
// each to the TCB it is addressed to until the channel reports closed or ctx
// is cancelled.
func (c *Client) RunSegmentHandler(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		srcNode, s, err := c.link.RecvSegment()
		if err != nil {
			return err
		}
		c.handleSegment(srcNode, s)
	}
}

func (c *Client) handleSegment(srcNode int32, s *seg.Segment) {
	if !c.loss.Apply(s) {
		applog.Debugf("stcpclient: discarding segment from node %d: simulated loss", srcNode)
		return
	}
	if !s.Verify() {
		applog.Warnf("stcpclient: discarding segment with bad checksum from node %d", srcNode)
		return
	}

	b, ok := c.table.findByPort(s.Header.DestPort)
	if !ok {
		applog.Debugf("stcpclient: segment for unknown local port %d discarded", s.Header.DestPort)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch s.Header.Type {
	case seg.SYNACK:
		if b.state != SynSent {
			return
		}
		b.ack(s.Header.AckNum)
		b.state = Connected
		select {
		case b.connectResult <- struct{}{}:
		default:
		}

	case seg.FINACK:
		if b.state != FinWait {
			return
		}
		b.ack(s.Header.AckNum)
		b.state = Closed
		b.clear()
		b.remoteNode, b.remotePort = 0, 0
		select {
		case b.disconnectResult <- struct{}{}:
		default:
		}

	case seg.DATAACK:
		if b.state != Connected && b.state != FinWait {
			return
		}
		b.ack(s.Header.AckNum)
		// Released entries free window slots; fill them from the unsent tail.
		if err := b.sendWindow(c.link, c.metrics); err != nil {
			applog.Warnf("stcpclient[%s]: sending after ack: %v", b.id, err)
		}

	default:
		// Any other type is ignored in CONNECTED (§4.1).
	}
}
