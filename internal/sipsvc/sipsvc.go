// Package sipsvc is the SIP daemon's listening side of the STCP↔SIP local
// channel (§6): it accepts the single connection from the local STCP client
// or server process, decodes (destNode, segment) envelopes into forwarding-
// plane sends, and re-encodes segments delivered to this node for the
// application to read back.
package sipsvc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/netlab-overlay/simplenet/internal/applog"
	"github.com/netlab-overlay/simplenet/internal/netio"
)

// SegmentSender is the routing engine's forwarding-plane entrypoint, as seen
// from this local listener.
type SegmentSender interface {
	SendSegment(destNode int32, segment []byte)
}

// Service owns the single local STCP connection and exposes SendUp as the
// routing engine's upstream delivery callback.
type Service struct {
	mu   sync.Mutex
	conn net.Conn
}

// SendUp writes a segment delivered from srcNode out to the connected STCP
// process, if one is currently connected; otherwise it is dropped, matching
// the "in-flight data may be lost but the process does not crash" policy
// for a broken downstream channel (§7).
func (s *Service) SendUp(srcNode int32, segment []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	buf := make([]byte, 4+len(segment))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(srcNode))
	copy(buf[4:], segment)
	if err := netio.WriteFrame(conn, buf); err != nil {
		applog.Warnf("sipsvc: delivering segment from node %d to STCP: %v", srcNode, err)
	}
}

// Serve accepts STCP connections on addr (SIP_PORT) for the lifetime of
// ctx, re-accepting whenever the current connection drops.
func (s *Service) Serve(ctx context.Context, addr string, engine SegmentSender) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sipsvc: listening on %s: %w", addr, err)
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
				return fmt.Errorf("sipsvc: accepting STCP connection: %w", err)
			}
		}

		applog.Infof("sipsvc: STCP process connected on %s", addr)
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.serveOne(ctx, conn, engine)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		applog.Warnf("sipsvc: STCP connection closed, awaiting reconnect")
	}
}

func (s *Service) serveOne(ctx context.Context, conn net.Conn, engine SegmentSender) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := netio.ReadFrame(r)
		if err != nil {
			return
		}
		if len(payload) < 4 {
			applog.Warnf("sipsvc: malformed envelope from STCP")
			continue
		}
		destNode := int32(binary.LittleEndian.Uint32(payload[0:4]))
		segment := payload[4:]
		engine.SendSegment(destNode, segment)
	}
}
