package http3

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/quic-go/qpack"
)

// HeaderField is a single (name, value) pair in a field section.
// Pseudo-headers (":method", ":path", ...) are ordinary entries; order is
// meaningful and preserved exactly as submitted.
type HeaderField struct {
	Name  string
	Value string
}

// IsPseudo reports whether the field is a pseudo-header.
func (f HeaderField) IsPseudo() bool {
	return strings.HasPrefix(f.Name, ":")
}

// EncodeHeaders produces a QPACK header block for fields using the
// static-table encoder from github.com/quic-go/qpack. No dynamic table is
// ever used, so the block is decodable without encoder-stream state. This is
// the "literal, no dynamic table" strategy the exerciser relies on.
func EncodeHeaders(fields []HeaderField) ([]byte, error) {
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	for _, f := range fields {
		if err := enc.WriteField(qpack.HeaderField{Name: f.Name, Value: f.Value}); err != nil {
			return nil, fmt.Errorf("qpack: encoding field %q: %w", f.Name, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("qpack: closing encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeHeadersLiteral produces a header block consisting solely of
// never-indexed literal field lines with literal names (RFC 9204 Section
// 4.5.6), no huffman coding and no static-table references. The output is a
// byte-exact function of the input, which matters when a scenario needs to
// put deliberately invalid names or values on the wire in a specific order.
func EncodeHeadersLiteral(fields []HeaderField) []byte {
	// Required Insert Count 0, Delta Base 0: no dynamic table.
	buf := []byte{0x00, 0x00}
	for _, f := range fields {
		// 001 N=1 H=0 + 3-bit name length prefix.
		buf = appendPrefixedInt(buf, 0x30, 3, uint64(len(f.Name)))
		buf = append(buf, f.Name...)
		// H=0 + 7-bit value length prefix.
		buf = appendPrefixedInt(buf, 0x00, 7, uint64(len(f.Value)))
		buf = append(buf, f.Value...)
	}
	return buf
}

// appendPrefixedInt appends v using the prefixed-integer encoding of RFC
// 7541 Section 5.1 with the given prefix width, OR-ing base into the first
// byte's high bits.
func appendPrefixedInt(dst []byte, base byte, prefixBits uint, v uint64) []byte {
	max := uint64(1)<<prefixBits - 1
	if v < max {
		return append(dst, base|byte(v))
	}
	dst = append(dst, base|byte(max))
	v -= max
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// DecodeHeaders parses a QPACK header block into an ordered field list.
// Failures are wrapped as MalformedHeaderBlockError so callers can tell a
// broken local codec apart from target misbehavior.
func DecodeHeaders(block []byte) ([]HeaderField, error) {
	dec := qpack.NewDecoder(nil)
	hfs, err := dec.DecodeFull(block)
	if err != nil {
		return nil, &MalformedHeaderBlockError{Err: err}
	}
	fields := make([]HeaderField, len(hfs))
	for i, hf := range hfs {
		fields[i] = HeaderField{Name: hf.Name, Value: hf.Value}
	}
	return fields, nil
}
