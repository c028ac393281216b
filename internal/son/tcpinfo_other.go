//go:build !linux

package son

import (
	"net"
	"time"
)

// probeLinkRTT is unsupported outside Linux; the RTT histogram simply
// receives no observations on those platforms.
func probeLinkRTT(conn net.Conn) (time.Duration, bool) {
	return 0, false
}
