package netio

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"small", []byte("hello")},
		{"contains sentinel-like bytes", []byte("!& inside !# payload")},
		{"near max frame len", bytes.Repeat([]byte{0x42}, MaxFrameLen)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tc.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			got, err := ReadFrame(bufio.NewReader(&buf))
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tc.payload) {
				t.Errorf("payload mismatch: got %v, want %v", got, tc.payload)
			}
		})
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameLen+1)
	if err := WriteFrame(&buf, oversized); err == nil {
		t.Errorf("expected error for payload exceeding MaxFrameLen")
	}
}

func TestReadFrameMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	records := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, rec := range records {
		if err := WriteFrame(&buf, rec); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	r := bufio.NewReader(&buf)
	for i, want := range records {
		got, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("ReadFrame #%d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("record %d: got %v, want %v", i, got, want)
		}
	}
}

func TestReadFrameResyncsAfterGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("garbage that is not a frame at all")
	if err := WriteFrame(&buf, []byte("real record")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame failed to resync past garbage: %v", err)
	}
	if !bytes.Equal(got, []byte("real record")) {
		t.Errorf("got %v, want %q", got, "real record")
	}
}

func TestReadFrameDetectsDesync(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("payload")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	encoded := buf.Bytes()
	// Corrupt the trailing sentinel so the declared length still reads the
	// payload correctly but the end marker no longer matches.
	encoded[len(encoded)-1] = 'X'

	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
	if !errors.Is(err, ErrDesync) {
		t.Errorf("got err %v, want ErrDesync", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(beginSign[:])
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // absurdly large declared length
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	buf.Write(lenBuf[:])

	if _, err := ReadFrame(bufio.NewReader(&buf)); err == nil {
		t.Errorf("expected error for declared length exceeding MaxFrameLen")
	}
}
