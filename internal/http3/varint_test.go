package http3

import (
	"bytes"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []struct {
		value   uint64
		wantLen int
	}{
		{0, 1},
		{1, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1073741823, 4},
		{1073741824, 8},
		{MaxVarint, 8},
	}
	for _, tc := range cases {
		encoded := AppendVarint(nil, tc.value)
		if len(encoded) != tc.wantLen {
			t.Errorf("AppendVarint(%d): got %d bytes, want %d", tc.value, len(encoded), tc.wantLen)
		}
		if got := VarintLen(tc.value); got != tc.wantLen {
			t.Errorf("VarintLen(%d): got %d, want %d", tc.value, got, tc.wantLen)
		}
		decoded, n, err := ReadVarint(encoded)
		if err != nil {
			t.Errorf("ReadVarint(%d): unexpected error: %v", tc.value, err)
			continue
		}
		if decoded != tc.value || n != tc.wantLen {
			t.Errorf("ReadVarint(%d): got (%d, %d), want (%d, %d)", tc.value, decoded, n, tc.value, tc.wantLen)
		}
	}
}

func TestVarintKnownEncodings(t *testing.T) {
	// Worked examples from RFC 9000 Appendix A.1.
	cases := []struct {
		value   uint64
		encoded []byte
	}{
		{37, []byte{0x25}},
		{15293, []byte{0x7b, 0xbd}},
		{494878333, []byte{0x9d, 0x7f, 0x3e, 0x7d}},
		{151288809941952652, []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
	}
	for _, tc := range cases {
		if got := AppendVarint(nil, tc.value); !bytes.Equal(got, tc.encoded) {
			t.Errorf("AppendVarint(%d): got %x, want %x", tc.value, got, tc.encoded)
		}
		decoded, _, err := ReadVarint(tc.encoded)
		if err != nil {
			t.Fatalf("ReadVarint(%x): %v", tc.encoded, err)
		}
		if decoded != tc.value {
			t.Errorf("ReadVarint(%x): got %d, want %d", tc.encoded, decoded, tc.value)
		}
	}
}

func TestVarintTruncated(t *testing.T) {
	if _, _, err := ReadVarint(nil); err != ErrTruncatedFrame {
		t.Errorf("ReadVarint(nil): got %v, want ErrTruncatedFrame", err)
	}
	full := AppendVarint(nil, MaxVarint)
	for i := 0; i < len(full); i++ {
		if _, _, err := ReadVarint(full[:i]); err != ErrTruncatedFrame {
			t.Errorf("ReadVarint with %d of %d bytes: got %v, want ErrTruncatedFrame", i, len(full), err)
		}
	}
}

func TestVarintOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("AppendVarint(2^62) did not panic")
		}
	}()
	AppendVarint(nil, uint64(1)<<62)
}
