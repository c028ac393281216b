package stcpclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/netsim"
	"github.com/netlab-overlay/simplenet/internal/seg"
	"github.com/netlab-overlay/simplenet/internal/siplink"
)

// Timing and retry parameters (§4.1). Concrete values are an implementation
// choice left open by the distilled spec.
const (
	SynTimeout             = 500 * time.Millisecond
	SynMaxRetry            = 5
	FinTimeout             = 500 * time.Millisecond
	FinMaxRetry            = 5
	DataTimeout            = 500 * time.Millisecond
	SendBufPollingInterval = 100 * time.Millisecond
)

// Client is one STCP client endpoint: its TCB table plus the local SIP
// channel it sends segments over (§4.1, §6).
type Client struct {
	table   *Table
	link    *siplink.Conn
	metrics *metrics.Registry
	loss    netsim.Rates
}

// New builds a client transport bound to an already-dialed SIP connection.
func New(link *siplink.Conn, reg *metrics.Registry) *Client {
	return &Client{table: NewTable(), link: link, metrics: reg}
}

// SetLossRates configures simulated wire loss applied to segments this
// client receives (§4.3, §8 scenario 6). The zero value leaves the segment
// handler's receive path unaffected.
func (c *Client) SetLossRates(r netsim.Rates) {
	c.loss = r
}

// Open allocates a TCB in CLOSED bound to localPort (§4.1).
func (c *Client) Open(localPort uint32) (Socket, error) {
	soc, b, err := c.table.open(localPort)
	if err != nil {
		return 0, err
	}
	b.id = uuid.NewString()
	applog.Debugf("stcpclient[%s]: opened on local port %d", b.id, localPort)
	return soc, nil
}

// Connect drives CLOSED→SYNSENT→CONNECTED, retransmitting the SYN up to
// SynMaxRetry times every SynTimeout (§4.1).
func (c *Client) Connect(ctx context.Context, soc Socket, destNode int32, destPort uint32) error {
	b, err := c.table.get(soc)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.state != Closed {
		b.mu.Unlock()
		return fmt.Errorf("stcpclient: connect: %w", ErrIllegalState)
	}
	b.remoteNode = destNode
	b.remotePort = destPort
	b.state = SynSent
	b.append(seg.SYN, nil)
	if err := b.sendWindow(c.link, c.metrics); err != nil {
		b.state = Closed
		b.mu.Unlock()
		return fmt.Errorf("stcpclient: sending SYN: %w", err)
	}
	b.mu.Unlock()

	ticker := time.NewTicker(SynTimeout)
	defer ticker.Stop()

	for attempt := 1; attempt <= SynMaxRetry; attempt++ {
		select {
		case <-b.connectResult:
			b.mu.Lock()
			connected := b.state == Connected
			b.mu.Unlock()
			if connected {
				applog.Infof("stcpclient[%s]: connected to node %d port %d", b.id, destNode, destPort)
				return nil
			}
		case <-ticker.C:
			b.mu.Lock()
			if b.state == Connected {
				b.mu.Unlock()
				return nil
			}
			if err := b.timeout(c.link, c.metrics); err != nil {
				applog.Warnf("stcpclient[%s]: resending SYN: %v", b.id, err)
			}
			b.mu.Unlock()
		case <-ctx.Done():
			b.mu.Lock()
			b.state = Closed
			b.clear()
			b.mu.Unlock()
			return ctx.Err()
		}
	}

	b.mu.Lock()
	b.state = Closed
	b.clear()
	b.mu.Unlock()
	applog.Warnf("stcpclient[%s]: connect to node %d port %d timed out", b.id, destNode, destPort)
	return ErrConnectFailed
}

// Send chunks data into ≤MAX_SEG_LEN segments, enqueues them, and triggers a
// window-bounded send (§4.1).
func (c *Client) Send(soc Socket, data []byte) error {
	b, err := c.table.get(soc)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.state != Connected {
		b.mu.Unlock()
		return fmt.Errorf("stcpclient: send: %w", ErrIllegalState)
	}

	wasEmpty := b.head == nil
	for off := 0; off < len(data); off += seg.MaxSegLen {
		end := off + seg.MaxSegLen
		if end > len(data) {
			end = len(data)
		}
		b.append(seg.DATA, data[off:end])
	}
	if err := b.sendWindow(c.link, c.metrics); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("stcpclient: sending data: %w", err)
	}
	needTimer := wasEmpty && b.head != nil && !b.timerRunning
	if needTimer {
		b.timerRunning = true
	}
	b.mu.Unlock()

	if needTimer {
		go c.runRetransmitTimer(b)
	}
	return nil
}

// Disconnect drives CONNECTED→FINWAIT→CLOSED, retransmitting the FIN up to
// FinMaxRetry times every FinTimeout (§4.1).
func (c *Client) Disconnect(ctx context.Context, soc Socket) error {
	b, err := c.table.get(soc)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.state != Connected {
		b.mu.Unlock()
		return fmt.Errorf("stcpclient: disconnect: %w", ErrIllegalState)
	}
	b.state = FinWait
	b.append(seg.FIN, nil)
	if err := b.sendWindow(c.link, c.metrics); err != nil {
		b.state = Closed
		b.clear()
		b.mu.Unlock()
		return fmt.Errorf("stcpclient: sending FIN: %w", err)
	}
	b.mu.Unlock()

	ticker := time.NewTicker(FinTimeout)
	defer ticker.Stop()

	for attempt := 1; attempt <= FinMaxRetry; attempt++ {
		select {
		case <-b.disconnectResult:
			b.mu.Lock()
			closed := b.state == Closed
			b.mu.Unlock()
			if closed {
				applog.Infof("stcpclient[%s]: disconnected", b.id)
				return nil
			}
		case <-ticker.C:
			b.mu.Lock()
			if b.state == Closed {
				b.mu.Unlock()
				return nil
			}
			if err := b.timeout(c.link, c.metrics); err != nil {
				applog.Warnf("stcpclient[%s]: resending FIN: %v", b.id, err)
			}
			b.mu.Unlock()
		case <-ctx.Done():
			b.mu.Lock()
			b.state = Closed
			b.clear()
			b.mu.Unlock()
			return ctx.Err()
		}
	}

	b.mu.Lock()
	b.state = Closed
	b.clear()
	b.mu.Unlock()
	applog.Warnf("stcpclient[%s]: disconnect timed out, forcing CLOSED", b.id)
	return ErrDisconnectBad
}

// Close frees a CLOSED TCB's slot (§4.1).
func (c *Client) Close(soc Socket) error {
	b, err := c.table.get(soc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state != Closed {
		return fmt.Errorf("stcpclient: close: %w", ErrIllegalState)
	}
	c.table.free(soc, b)
	return nil
}

// runRetransmitTimer polls the send buffer until it drains, retransmitting
// all outstanding segments whenever the head entry exceeds DataTimeout
// (§4.1 "Retransmission timer"). Elapsed time is compared as a
// time.Duration throughout, so no unit ever needs reconciling against
// another (§9 resolved ambiguity).
func (c *Client) runRetransmitTimer(b *tcb) {
	ticker := time.NewTicker(SendBufPollingInterval)
	defer ticker.Stop()

	for range ticker.C {
		b.mu.Lock()
		if b.outstanding == 0 {
			b.timerRunning = false
			b.mu.Unlock()
			return
		}
		if age, ok := b.headAge(); ok && age > DataTimeout {
			if err := b.timeout(c.link, c.metrics); err != nil {
				applog.Warnf("stcpclient[%s]: retransmitting: %v", b.id, err)
			}
		}
		b.mu.Unlock()
	}
}
