package http3

// QUIC variable-length integer encoding, RFC 9000 Section 16.
//
// The two most significant bits of the first byte select the encoded length
// (1, 2, 4 or 8 bytes); the remaining bits carry the value in network byte
// order.

// MaxVarint is the largest value representable as a QUIC variable-length
// integer (2^62 - 1).
const MaxVarint = (1 << 62) - 1

// VarintLen returns the number of bytes AppendVarint will use for v.
// It panics if v exceeds MaxVarint.
func VarintLen(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	case v <= MaxVarint:
		return 8
	default:
		panic("http3: varint value out of range")
	}
}

// AppendVarint appends the variable-length encoding of v to b and returns
// the extended slice. It panics if v exceeds MaxVarint; callers that accept
// untrusted values must range-check first (EncodeFrame does).
func AppendVarint(b []byte, v uint64) []byte {
	switch {
	case v <= 63:
		return append(b, byte(v))
	case v <= 16383:
		return append(b, byte(v>>8)|0x40, byte(v))
	case v <= 1073741823:
		return append(b, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	case v <= MaxVarint:
		return append(b,
			byte(v>>56)|0xc0, byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		panic("http3: varint value out of range")
	}
}

// ReadVarint decodes a variable-length integer from the start of b and
// returns the value and the number of bytes consumed. If b does not contain
// the complete encoding it returns ErrTruncatedFrame; callers buffer and
// retry once more bytes arrive.
func ReadVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncatedFrame
	}
	length := 1 << (b[0] >> 6)
	if len(b) < length {
		return 0, 0, ErrTruncatedFrame
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < length; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, length, nil
}
