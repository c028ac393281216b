package son

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/netio"
	"github.com/netlab-overlay/simplenet/internal/sipproto"
)

// ServeSIP accepts the single local connection from the SIP process on
// sonPort, forwarding decoded packets reported by SON's link readers back up
// to SIP, and reading (nextHopNodeId, packet) tuples from SIP to push onto
// neighbor links (§4.6 "Upstream task", §6 local IPC ports). It reconnects
// on every accept and blocks until ctx is cancelled.
func (m *Mesh) ServeSIP(ctx context.Context, sonPort int, received <-chan *sipproto.Packet) error {
	addr := fmt.Sprintf("127.0.0.1:%d", sonPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("son: listening on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("son: accepting SIP connection: %w", err)
			}
		}

		applog.Infof("son: SIP process connected on %s", addr)
		m.serveOneSIPConn(ctx, conn, received)
		applog.Warnf("son: SIP connection closed, awaiting reconnect")
	}
}

func (m *Mesh) serveOneSIPConn(ctx context.Context, conn net.Conn, received <-chan *sipproto.Packet) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-received:
				if !ok {
					return
				}
				if err := netio.WriteFrame(conn, sipproto.Encode(pkt)); err != nil {
					applog.Warnf("son: writing packet up to SIP: %v", err)
					return
				}
			}
		}
	}()

	r := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-done:
			return
		default:
		}

		payload, err := netio.ReadFrame(r)
		if err != nil {
			<-done
			return
		}
		nextHop, packet, err := decodeNextHopEnvelope(payload)
		if err != nil {
			applog.Warnf("son: malformed envelope from SIP: %v", err)
			continue
		}
		pkt, err := sipproto.Decode(packet)
		if err != nil {
			applog.Warnf("son: decoding packet from SIP: %v", err)
			continue
		}
		if err := m.SendPacket(nextHop, pkt); err != nil {
			applog.Warnf("son: %v", err)
		}
	}
}
