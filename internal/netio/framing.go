// Package netio implements the record framing shared by every local and
// overlay stream in this system: STCP↔SIP, SIP↔SON, and SON↔neighbor links
// all exchange records framed the same way (§6).
//
// Every record is prefixed by the two-byte sentinel "!&" and suffixed by
// "!#". A four-byte big-endian length between the sentinels tells the reader
// how many payload bytes to expect, so framing stays agnostic of whatever
// segment or packet schema is riding inside it. Readers resynchronize after
// a malformed record by continuing to scan for the next "!&".
package netio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var beginSign = [2]byte{'!', '&'}
var endSign = [2]byte{'!', '#'}

// ErrDesync is returned by ReadFrame when a record's trailing sentinel does
// not match; the reader has already consumed the bytes it believed were the
// payload and must resynchronize on the next call.
var ErrDesync = errors.New("netio: frame missing end sentinel, resynchronizing")

// MaxFrameLen bounds a single frame's declared length, guarding against a
// corrupted length field driving an unbounded read.
const MaxFrameLen = 64 * 1024

// WriteFrame writes payload as one sentinel-delimited record.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("netio: payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, 0, 2+4+len(payload)+2)
	buf = append(buf, beginSign[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	buf = append(buf, endSign[:]...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame blocks until it has scanned past the next "!&" sentinel, read a
// complete record, and verified the trailing "!#". It returns the payload
// bytes on success.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	if err := scanToSentinel(r, beginSign); err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("netio: reading length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("netio: declared length %d exceeds max frame size", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("netio: reading payload: %w", err)
	}

	var tail [2]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, fmt.Errorf("netio: reading end sentinel: %w", err)
	}
	if tail != endSign {
		return payload, ErrDesync
	}

	return payload, nil
}

// scanToSentinel consumes bytes from r until it has seen the two bytes of
// sign consecutively, leaving the reader positioned just past them.
func scanToSentinel(r *bufio.Reader, sign [2]byte) error {
	state := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("netio: scanning for sentinel: %w", err)
		}
		switch state {
		case 0:
			if b == sign[0] {
				state = 1
			}
		case 1:
			if b == sign[1] {
				return nil
			}
			if b == sign[0] {
				state = 1
			} else {
				state = 0
			}
		}
	}
}
