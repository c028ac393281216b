// Package netsim simulates unreliable-wire conditions on STCP segments,
// the Go analogue of the reference implementation's seglost(): a segment
// crossing the wire can be dropped outright or have a single bit flipped,
// exercising checksum detection and Go-Back-N recovery (§4.3, §8 scenario 6).
// Both rates default to zero, so a handler that never configures a Rates
// value behaves exactly as if netsim were not wired in at all.
package netsim

import (
	"math/rand"

	"github.com/netlab-overlay/simplenet/internal/seg"
)

// Rates bundles independent per-segment probabilities, checked in the
// segment handler's receive path before a segment is handed to its TCB.
type Rates struct {
	// DropRate is the probability a received segment is discarded before
	// any other processing, as if it never arrived.
	DropRate float64
	// BitFlipRate is the probability a received segment has one random bit
	// flipped across its encoded header+payload, left to be rejected by
	// the segment's own checksum verification.
	BitFlipRate float64
}

// Apply rolls the configured rates against s. It reports false if the
// segment should be discarded as simulated loss; callers proceed with their
// normal checksum verification otherwise, which will naturally reject any
// segment this call corrupted with a bit flip.
func (r Rates) Apply(s *seg.Segment) bool {
	if roll(r.DropRate) {
		return false
	}
	if roll(r.BitFlipRate) {
		return flipRandomBit(s)
	}
	return true
}

func roll(p float64) bool {
	return p > 0 && rand.Float64() < p
}

// flipRandomBit corrupts one random bit somewhere in s's on-wire encoding
// (header, including the checksum field, or payload) and re-decodes it back
// into s, mirroring seglost()'s direct pointer-level bit flip on the
// in-memory segment. Unlike the C original, a flip that produces an
// undecodable frame (e.g. a corrupted length field) falls back to treating
// the segment as simulated loss rather than risking undefined behavior.
func flipRandomBit(s *seg.Segment) bool {
	buf := seg.Encode(s)
	if len(buf) == 0 {
		return true
	}
	bit := rand.Intn(len(buf) * 8)
	buf[bit/8] ^= 1 << uint(bit%8)

	flipped, err := seg.Decode(buf)
	if err != nil {
		return false
	}
	*s = *flipped
	return true
}
