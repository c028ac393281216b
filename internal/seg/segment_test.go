package seg

import (
	"bytes"
	"testing"
)

func TestNewStampsVerifiableChecksum(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"odd length payload", []byte("hello")},
		{"even length payload", []byte("hello!")},
		{"exactly MaxSegLen", make([]byte, MaxSegLen)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(DATA, 87, 88, 10, 0, tc.payload)
			if !s.Verify() {
				t.Fatalf("freshly stamped segment failed Verify()")
			}
		})
	}
}

func TestVerifyDetectsModification(t *testing.T) {
	s := New(DATA, 87, 88, 10, 0, []byte("payload"))
	if len(s.Payload) == 0 {
		t.Fatal("expected non-empty payload")
	}
	s.Payload[0] ^= 0xFF
	if s.Verify() {
		t.Fatalf("Verify() should fail after payload mutation")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	types := []Type{SYN, SYNACK, FIN, FINACK, DATA, DATAACK}

	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			original := New(typ, 1234, 5678, 99, 42, []byte("round trip payload"))
			encoded := Encode(original)
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Header != original.Header {
				t.Errorf("header mismatch: got %+v, want %+v", decoded.Header, original.Header)
			}
			if !bytes.Equal(decoded.Payload, original.Payload) {
				t.Errorf("payload mismatch: got %v, want %v", decoded.Payload, original.Payload)
			}
			if !decoded.Verify() {
				t.Errorf("decoded segment failed checksum verification")
			}
		})
	}
}

func TestDecodeTooShort(t *testing.T) {
	cases := []int{0, 1, HeaderSize - 1}
	for _, n := range cases {
		if _, err := Decode(make([]byte, n)); err == nil {
			t.Errorf("Decode(%d bytes): expected error, got nil", n)
		}
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	s := New(DATA, 1, 2, 0, 0, []byte("abc"))
	encoded := Encode(s)
	truncated := encoded[:len(encoded)-1]
	if _, err := Decode(truncated); err == nil {
		t.Errorf("Decode: expected error for payload shorter than declared Length")
	}
}

func TestChecksumPadsOddLength(t *testing.T) {
	odd := New(DATA, 1, 2, 0, 0, []byte("abcde"))   // 5 bytes, odd
	even := New(DATA, 1, 2, 0, 0, []byte("abcdef")) // 6 bytes, even
	if !odd.Verify() || !even.Verify() {
		t.Fatalf("expected both odd- and even-length payloads to verify")
	}
}
