package http3

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeHeadersRoundTrip(t *testing.T) {
	in := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
		{Name: "user-agent", Value: "h3probe"},
	}
	block, err := EncodeHeaders(in)
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}
	out, err := DecodeHeaders(block)
	if err != nil {
		t.Fatalf("DecodeHeaders: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d fields, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("field %d: got %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestEncodeHeadersLiteralExactBytes(t *testing.T) {
	block := EncodeHeadersLiteral([]HeaderField{{Name: "x-a", Value: "1"}})
	want := []byte{
		0x00, 0x00, // required insert count 0, delta base 0
		0x33, 'x', '-', 'a', // literal name, never-indexed, length 3
		0x01, '1', // literal value, length 1
	}
	if !bytes.Equal(block, want) {
		t.Fatalf("got %x, want %x", block, want)
	}
}

func TestEncodeHeadersLiteralDecodable(t *testing.T) {
	in := []HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: "x-long-header-name-exceeding-the-prefix", Value: "a value long enough to need a continued length byte as well, padding padding padding padding padding padding padding padding"},
	}
	out, err := DecodeHeaders(EncodeHeadersLiteral(in))
	if err != nil {
		t.Fatalf("DecodeHeaders: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d fields, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("field %d: got %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestEncodeHeadersLiteralPreservesOrderAndCase(t *testing.T) {
	// Deliberately malformed sections must come out byte-faithful: pseudo
	// headers after regular ones, uppercase names, duplicates.
	in := []HeaderField{
		{Name: "regular", Value: "first"},
		{Name: ":path", Value: "/late-pseudo"},
		{Name: "UPPERCASE", Value: "x"},
		{Name: "regular", Value: "second"},
	}
	out, err := DecodeHeaders(EncodeHeadersLiteral(in))
	if err != nil {
		t.Fatalf("DecodeHeaders: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("field %d: got %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestDecodeHeadersMalformed(t *testing.T) {
	// A dynamic-table reference with required insert count > 0 cannot be
	// satisfied by a static-only decoder.
	_, err := DecodeHeaders([]byte{0xff, 0xff, 0xff})
	var merr *MalformedHeaderBlockError
	if !errors.As(err, &merr) {
		t.Fatalf("got %v, want MalformedHeaderBlockError", err)
	}
}

func TestHeaderFieldIsPseudo(t *testing.T) {
	if !(HeaderField{Name: ":status", Value: "200"}).IsPseudo() {
		t.Error(":status not recognized as pseudo-header")
	}
	if (HeaderField{Name: "content-type", Value: "text/plain"}).IsPseudo() {
		t.Error("content-type recognized as pseudo-header")
	}
}

func TestAppendPrefixedIntBoundaries(t *testing.T) {
	cases := []struct {
		prefixBits uint
		value      uint64
		want       []byte
	}{
		{3, 6, []byte{0x06}},
		{3, 7, []byte{0x07, 0x00}},
		{3, 10, []byte{0x07, 0x03}},
		{7, 1337, []byte{0x7f, 0x9a, 0x0a}}, // RFC 7541 Appendix C.1.2
	}
	for _, tc := range cases {
		if got := appendPrefixedInt(nil, 0, tc.prefixBits, tc.value); !bytes.Equal(got, tc.want) {
			t.Errorf("appendPrefixedInt(%d bits, %d): got %x, want %x", tc.prefixBits, tc.value, got, tc.want)
		}
	}
}
