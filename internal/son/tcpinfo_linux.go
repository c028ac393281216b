//go:build linux

package son

import (
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// probeLinkRTT reads the kernel's TCP_INFO for a neighbor connection's
// underlying socket and reports its smoothed RTT estimate. This is the
// direct analogue of the TCP-statistics repositories' fd-extraction-plus-
// getsockopt technique, applied to SON's plain net.TCPConn neighbor links
// (§11).
func probeLinkRTT(conn net.Conn) (time.Duration, bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, false
	}
	fd := netfd.GetFdFromConn(tc)
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return 0, false
	}
	return time.Duration(info.Rtt) * time.Microsecond, true
}
