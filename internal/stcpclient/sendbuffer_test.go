package stcpclient

import (
	"net"
	"testing"
	"time"

	"github.com/netlab-overlay/simplenet/internal/seg"
	"github.com/netlab-overlay/simplenet/internal/siplink"
)

// newLoopbackLink returns a *siplink.Conn wired to a net.Pipe whose peer end
// is drained in the background, so SendSegment calls never block.
func newLoopbackLink(t *testing.T) *siplink.Conn {
	t.Helper()
	client, peer := net.Pipe()
	t.Cleanup(func() { client.Close(); peer.Close() })

	go func() {
		r := siplink.NewConn(peer)
		for {
			if _, _, err := r.RecvSegment(); err != nil {
				return
			}
		}
	}()

	return siplink.NewConn(client)
}

func TestSendBufferAppendAssignsSequentialSeqNums(t *testing.T) {
	b := newTCB(100)
	b.remotePort = 200

	e1 := b.append(seg.DATA, []byte("abc"))
	e2 := b.append(seg.DATA, []byte("de"))

	if e1.segment.Header.SeqNum != 0 {
		t.Errorf("first entry seq = %d, want 0", e1.segment.Header.SeqNum)
	}
	if e2.segment.Header.SeqNum != 3 {
		t.Errorf("second entry seq = %d, want 3 (after 3-byte DATA)", e2.segment.Header.SeqNum)
	}
	if b.nextSeq != 5 {
		t.Errorf("nextSeq = %d, want 5", b.nextSeq)
	}
}

func TestSendBufferControlSegmentsConsumeOneSeq(t *testing.T) {
	b := newTCB(100)
	b.remotePort = 200

	syn := b.append(seg.SYN, nil)
	data := b.append(seg.DATA, []byte("x"))

	if syn.segment.Header.SeqNum != 0 {
		t.Errorf("SYN seq = %d, want 0", syn.segment.Header.SeqNum)
	}
	if data.segment.Header.SeqNum != 1 {
		t.Errorf("DATA seq after SYN = %d, want 1 (SYN consumed seq 0)", data.segment.Header.SeqNum)
	}
}

func TestSendBufferListInvariants(t *testing.T) {
	b := newTCB(100)
	b.remotePort = 200

	if b.head != nil || b.tail != nil || b.unsent != nil {
		t.Fatalf("freshly built tcb must have a nil buffer chain")
	}

	b.append(seg.DATA, []byte("a"))
	b.append(seg.DATA, []byte("b"))
	b.append(seg.DATA, []byte("c"))

	if b.head == nil || b.tail == nil {
		t.Fatalf("after three appends, head and tail must be non-nil")
	}
	count := 0
	for e := b.head; e != nil; e = e.next {
		count++
	}
	if count != 3 {
		t.Errorf("chain length = %d, want 3", count)
	}
}

func TestSendWindowRespectsGBNWindow(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	for i := 0; i < GBNWindow+5; i++ {
		b.append(seg.DATA, []byte("x"))
	}

	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}

	if b.outstanding != GBNWindow {
		t.Errorf("outstanding = %d, want %d (capped at GBNWindow)", b.outstanding, GBNWindow)
	}
	if b.unsent == nil {
		t.Fatalf("expected unsent entries left after window cap")
	}
}

func TestAckCumulativelyReleasesEntries(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	entries := make([]*sendBufEntry, 0, 5)
	for i := 0; i < 5; i++ {
		entries = append(entries, b.append(seg.DATA, []byte("x")))
	}
	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}
	if b.outstanding != 5 {
		t.Fatalf("outstanding = %d, want 5", b.outstanding)
	}

	// Ack everything up through entries[2]'s seq (cumulative: releases 0,1,2).
	b.ack(entries[3].segment.Header.SeqNum)

	if b.outstanding != 2 {
		t.Errorf("outstanding after ack = %d, want 2", b.outstanding)
	}
	if b.head != entries[3] {
		t.Errorf("head after ack should be entries[3]")
	}
}

func TestAckDrainingEverythingResetsChain(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	b.append(seg.DATA, []byte("a"))
	b.append(seg.DATA, []byte("b"))
	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}

	b.ack(b.nextSeq) // acks past every outstanding seq

	if b.head != nil || b.tail != nil || b.unsent != nil {
		t.Errorf("expected fully-drained chain to reset head/tail/unsent to nil")
	}
	if b.outstanding != 0 {
		t.Errorf("outstanding = %d, want 0", b.outstanding)
	}
}

func TestAckIgnoresStaleAck(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	b.append(seg.DATA, []byte("a"))
	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}

	b.ack(0) // seq 0 is the oldest outstanding; ack(0) releases nothing

	if b.outstanding != 1 {
		t.Errorf("outstanding after stale ack = %d, want 1 (unchanged)", b.outstanding)
	}
}

func TestHeadAgeReportsElapsedSinceSend(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	if _, ok := b.headAge(); ok {
		t.Fatalf("headAge on an empty buffer should report ok=false")
	}

	b.append(seg.DATA, []byte("a"))
	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	age, ok := b.headAge()
	if !ok {
		t.Fatalf("expected headAge to report ok=true with an outstanding segment")
	}
	if age <= 0 {
		t.Errorf("age = %v, want > 0", age)
	}
}

func TestTimeoutRetransmitsOutstandingOnly(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	b.append(seg.DATA, []byte("a"))
	b.append(seg.DATA, []byte("b"))
	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}
	before := b.head.sentAt
	unsent := b.append(seg.DATA, []byte("c")) // queued, never sent

	time.Sleep(5 * time.Millisecond)
	if err := b.timeout(link, nil); err != nil {
		t.Fatalf("timeout failed: %v", err)
	}

	if !b.head.sentAt.After(before) {
		t.Errorf("timeout should refresh sentAt on every outstanding entry")
	}
	if b.outstanding != 2 {
		t.Errorf("outstanding after timeout = %d, want unchanged 2", b.outstanding)
	}
	if !unsent.sentAt.IsZero() {
		t.Errorf("timeout sent the never-sent entry; want only outstanding entries retransmitted")
	}
}

func TestClearResetsBuffer(t *testing.T) {
	b := newTCB(100)
	b.remoteNode = 1
	b.remotePort = 200
	link := newLoopbackLink(t)

	b.append(seg.DATA, []byte("a"))
	b.append(seg.DATA, []byte("b"))
	if err := b.sendWindow(link, nil); err != nil {
		t.Fatalf("sendWindow failed: %v", err)
	}

	b.clear()

	if b.head != nil || b.tail != nil || b.unsent != nil {
		t.Errorf("clear must reset the whole chain to nil")
	}
	if b.outstanding != 0 {
		t.Errorf("clear must reset outstanding to 0")
	}
}
