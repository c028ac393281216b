package stcpclient

import (
	"time"

	"github.com/netlab-overlay/simplenet/internal/metrics"
	"github.com/netlab-overlay/simplenet/internal/seg"
	"github.com/netlab-overlay/simplenet/internal/siplink"
)

// GBNWindow bounds the number of outstanding (sent, unacked) segments per
// connection (§4.1, §8 invariant 3).
const GBNWindow = 10

// append assigns seq = nextSeq, advances nextSeq by the payload length, and
// links the new segment at the buffer's tail (§4.5). Caller holds b.mu.
func (b *tcb) append(typ seg.Type, payload []byte) *sendBufEntry {
	s := seg.New(typ, b.localPort, b.remotePort, b.nextSeq, 0, payload)
	b.nextSeq += uint32(len(payload))
	if typ != seg.DATA {
		// SYN/FIN carry no payload but still occupy one sequence slot, so
		// the peer's cumulative ack can distinguish "control segment acked"
		// from "no segments sent yet".
		b.nextSeq++
	}

	entry := &sendBufEntry{segment: s}
	if b.tail == nil {
		b.head = entry
		b.unsent = entry
	} else {
		b.tail.next = entry
		if b.unsent == nil {
			b.unsent = entry
		}
	}
	b.tail = entry
	return entry
}

// sendWindow transmits from unsent forward while outstanding < GBNWindow
// (§4.5). Caller holds b.mu.
func (b *tcb) sendWindow(link *siplink.Conn, reg *metrics.Registry) error {
	now := time.Now()
	for b.unsent != nil && b.outstanding < GBNWindow {
		entry := b.unsent
		if err := link.SendSegment(b.remoteNode, entry.segment); err != nil {
			return err
		}
		entry.sentAt = now
		reg.ObserveSegmentSent("client", entry.segment.Header.Type.String())
		b.outstanding++
		b.unsent = entry.next
	}
	return nil
}

// ack cumulatively releases every entry with seq < n from the head (§4.5).
// Duplicate/stale acks (n <= the oldest outstanding seq) are benign no-ops.
// Caller holds b.mu.
func (b *tcb) ack(n uint32) {
	released := 0
	for b.head != nil && b.head.segment.Header.SeqNum < n {
		b.head = b.head.next
		released++
	}
	if b.head == nil {
		b.tail = nil
		b.unsent = nil
	}
	if released > b.outstanding {
		released = b.outstanding
	}
	b.outstanding -= released
}

// timeout retransmits every currently outstanding entry and refreshes their
// timestamps (§4.5, Go-Back-N semantics). Caller holds b.mu.
func (b *tcb) timeout(link *siplink.Conn, reg *metrics.Registry) error {
	now := time.Now()
	n := 0
	for e := b.head; e != nil && n < b.outstanding; e = e.next {
		if err := link.SendSegment(b.remoteNode, e.segment); err != nil {
			return err
		}
		e.sentAt = now
		reg.ObserveRetransmission()
		n++
	}
	return nil
}

// clear deallocates the whole chain and resets counters (§4.5), used on
// teardown.
func (b *tcb) clear() {
	b.head, b.unsent, b.tail = nil, nil, nil
	b.outstanding = 0
}

// headAge reports how long the oldest outstanding segment has waited for an
// ack, or false if the buffer has nothing outstanding. Caller holds b.mu.
func (b *tcb) headAge() (time.Duration, bool) {
	if b.head == nil || b.outstanding == 0 {
		return 0, false
	}
	return time.Since(b.head.sentAt), true
}
