package http3

import "fmt"

// FrameType represents an HTTP/3 frame type (RFC 9114 Section 7.2). Frame
// types are variable-length integers, not a closed enum: unknown and
// reserved values are fully representable and encodable.
type FrameType uint64

const (
	// FrameData is for DATA frames (0x0).
	FrameData FrameType = 0x0
	// FrameHeaders is for HEADERS frames (0x1).
	FrameHeaders FrameType = 0x1
	// FrameCancelPush is for CANCEL_PUSH frames (0x3).
	FrameCancelPush FrameType = 0x3
	// FrameSettings is for SETTINGS frames (0x4).
	FrameSettings FrameType = 0x4
	// FramePushPromise is for PUSH_PROMISE frames (0x5).
	FramePushPromise FrameType = 0x5
	// FrameGoAway is for GOAWAY frames (0x7).
	FrameGoAway FrameType = 0x7
	// FrameMaxPushID is for MAX_PUSH_ID frames (0xd).
	FrameMaxPushID FrameType = 0xd

	// The HTTP/2 carryover types below are reserved in HTTP/3 (RFC 9114
	// Section 11.2.1); receiving one is a connection error. The exerciser
	// sends them on purpose.

	// FramePriorityReserved is the reserved HTTP/2 PRIORITY type (0x2).
	FramePriorityReserved FrameType = 0x2
	// FramePingReserved is the reserved HTTP/2 PING type (0x6).
	FramePingReserved FrameType = 0x6
	// FrameWindowUpdateReserved is the reserved HTTP/2 WINDOW_UPDATE type (0x8).
	FrameWindowUpdateReserved FrameType = 0x8
	// FrameContinuationReserved is the reserved HTTP/2 CONTINUATION type (0x9).
	FrameContinuationReserved FrameType = 0x9

	// FramePriorityUpdateRequest is for PRIORITY_UPDATE frames addressing a
	// request stream (0xf0700, RFC 9218).
	FramePriorityUpdateRequest FrameType = 0xf0700
	// FramePriorityUpdatePush is for PRIORITY_UPDATE frames addressing a push
	// stream (0xf0701, RFC 9218).
	FramePriorityUpdatePush FrameType = 0xf0701
)

// String returns the string representation of the FrameType.
func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FrameCancelPush:
		return "CANCEL_PUSH"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FrameGoAway:
		return "GOAWAY"
	case FrameMaxPushID:
		return "MAX_PUSH_ID"
	case FramePriorityReserved, FramePingReserved, FrameWindowUpdateReserved, FrameContinuationReserved:
		return fmt.Sprintf("RESERVED_H2_0x%x", uint64(t))
	case FramePriorityUpdateRequest:
		return "PRIORITY_UPDATE_REQUEST"
	case FramePriorityUpdatePush:
		return "PRIORITY_UPDATE_PUSH"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_TYPE_0x%x", uint64(t))
	}
}

// IsReservedH2 reports whether t is one of the HTTP/2 frame types whose
// values are reserved (and forbidden) in HTTP/3.
func (t FrameType) IsReservedH2() bool {
	switch t {
	case FramePriorityReserved, FramePingReserved, FrameWindowUpdateReserved, FrameContinuationReserved:
		return true
	}
	return false
}

// StreamTypeID identifies a unidirectional stream type (RFC 9114 Section
// 6.2). Like frame types these are open-ended varints.
type StreamTypeID uint64

const (
	// StreamTypeControl identifies the control stream (0x00).
	StreamTypeControl StreamTypeID = 0x00
	// StreamTypePush identifies a push stream (0x01).
	StreamTypePush StreamTypeID = 0x01
	// StreamTypeQPACKEncoder identifies the QPACK encoder stream (0x02).
	StreamTypeQPACKEncoder StreamTypeID = 0x02
	// StreamTypeQPACKDecoder identifies the QPACK decoder stream (0x03).
	StreamTypeQPACKDecoder StreamTypeID = 0x03
)

// String returns the string representation of the StreamTypeID.
func (t StreamTypeID) String() string {
	switch t {
	case StreamTypeControl:
		return "control"
	case StreamTypePush:
		return "push"
	case StreamTypeQPACKEncoder:
		return "qpack_encoder"
	case StreamTypeQPACKDecoder:
		return "qpack_decoder"
	default:
		return fmt.Sprintf("unknown_0x%x", uint64(t))
	}
}

// Frame is a generic HTTP/3 frame: a type and an opaque payload. The pair is
// always constructible and encodable, even when the combination is illegal
// for the stream it will be sent on; legality checking lives in the Tracker
// predicates, not the codec.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// AppendFrame appends the wire encoding of f (varint type, varint length,
// payload) to dst and returns the extended slice. It panics if f.Type
// exceeds MaxVarint; use EncodeFrame for checked encoding.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = AppendVarint(dst, uint64(f.Type))
	dst = AppendVarint(dst, uint64(len(f.Payload)))
	return append(dst, f.Payload...)
}

// EncodeFrame serializes f into a freshly allocated buffer. Any type/payload
// pair within varint range encodes successfully; a type beyond 2^62-1 is a
// construction error (it cannot exist on the wire).
func EncodeFrame(f Frame) ([]byte, error) {
	if uint64(f.Type) > MaxVarint {
		return nil, &InvalidFrameConstructionError{
			Reason: fmt.Sprintf("frame type 0x%x exceeds varint range", uint64(f.Type)),
		}
	}
	buf := make([]byte, 0, VarintLen(uint64(f.Type))+VarintLen(uint64(len(f.Payload)))+len(f.Payload))
	return AppendFrame(buf, f), nil
}

// DecodeFrame parses one frame from the start of b and returns the frame and
// the number of bytes consumed. The payload is returned uninterpreted;
// unrecognized types are surfaced as-is for the caller to classify. If b
// holds fewer bytes than the declared length, DecodeFrame returns
// ErrTruncatedFrame and consumes nothing, so the caller can buffer and retry.
func DecodeFrame(b []byte) (Frame, int, error) {
	ftype, n, err := ReadVarint(b)
	if err != nil {
		return Frame{}, 0, err
	}
	length, m, err := ReadVarint(b[n:])
	if err != nil {
		return Frame{}, 0, err
	}
	header := n + m
	if uint64(len(b)-header) < length {
		return Frame{}, 0, ErrTruncatedFrame
	}
	payload := make([]byte, length)
	copy(payload, b[header:header+int(length)])
	return Frame{Type: FrameType(ftype), Payload: payload}, header + int(length), nil
}

// SettingID identifies an HTTP/3 settings parameter (RFC 9114 Section 7.2.4.1).
type SettingID uint64

const (
	// SettingQPACKMaxTableCapacity (0x1): QPACK dynamic table capacity.
	SettingQPACKMaxTableCapacity SettingID = 0x1
	// SettingMaxFieldSectionSize (0x6): Largest acceptable field section.
	SettingMaxFieldSectionSize SettingID = 0x6
	// SettingQPACKBlockedStreams (0x7): Streams that may block on QPACK.
	SettingQPACKBlockedStreams SettingID = 0x7
	// SettingEnableConnectProtocol (0x8): Extended CONNECT (RFC 9220).
	SettingEnableConnectProtocol SettingID = 0x8
	// SettingH3Datagram (0x33): HTTP datagrams (RFC 9297).
	SettingH3Datagram SettingID = 0x33
)

// ReservedSettingIDs are the HTTP/2 settings identifiers that MUST NOT
// appear in an HTTP/3 SETTINGS frame (RFC 9114 Section 7.2.4.1). The
// exerciser sends them on purpose.
var ReservedSettingIDs = []SettingID{0x0, 0x2, 0x3, 0x4, 0x5}

// String returns the string representation of the SettingID.
func (s SettingID) String() string {
	switch s {
	case SettingQPACKMaxTableCapacity:
		return "SETTINGS_QPACK_MAX_TABLE_CAPACITY"
	case SettingMaxFieldSectionSize:
		return "SETTINGS_MAX_FIELD_SECTION_SIZE"
	case SettingQPACKBlockedStreams:
		return "SETTINGS_QPACK_BLOCKED_STREAMS"
	case SettingEnableConnectProtocol:
		return "SETTINGS_ENABLE_CONNECT_PROTOCOL"
	case SettingH3Datagram:
		return "SETTINGS_H3_DATAGRAM"
	default:
		return fmt.Sprintf("UNKNOWN_SETTING_0x%x", uint64(s))
	}
}

// IsReserved reports whether s is a reserved HTTP/2 carryover identifier.
func (s SettingID) IsReserved() bool {
	for _, id := range ReservedSettingIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Setting is a single identifier/value pair in a SETTINGS payload.
type Setting struct {
	ID    SettingID
	Value uint64
}

// DefaultSettings returns the settings a conformant endpoint built on this
// package advertises. The QPACK values are zero because the minimal codec
// never uses a dynamic table.
func DefaultSettings() []Setting {
	return []Setting{
		{ID: SettingQPACKMaxTableCapacity, Value: 0},
		{ID: SettingQPACKBlockedStreams, Value: 0},
	}
}

// EncodeSettings serializes a SETTINGS payload. Order and duplicates are
// preserved exactly as given; several violation scenarios depend on
// emitting duplicate or reserved identifiers.
func EncodeSettings(settings []Setting) ([]byte, error) {
	var buf []byte
	for _, s := range settings {
		if uint64(s.ID) > MaxVarint || s.Value > MaxVarint {
			return nil, &InvalidFrameConstructionError{
				Reason: fmt.Sprintf("setting 0x%x=%d exceeds varint range", uint64(s.ID), s.Value),
			}
		}
		buf = AppendVarint(buf, uint64(s.ID))
		buf = AppendVarint(buf, s.Value)
	}
	return buf, nil
}

// DecodeSettings parses a SETTINGS payload into an ordered list. Reserved
// and duplicate identifiers are returned as-is; judging them is the
// caller's business.
func DecodeSettings(payload []byte) ([]Setting, error) {
	var settings []Setting
	for len(payload) > 0 {
		id, n, err := ReadVarint(payload)
		if err != nil {
			return nil, fmt.Errorf("settings payload: truncated identifier: %w", err)
		}
		payload = payload[n:]
		value, n, err := ReadVarint(payload)
		if err != nil {
			return nil, fmt.Errorf("settings payload: truncated value for 0x%x: %w", id, err)
		}
		payload = payload[n:]
		settings = append(settings, Setting{ID: SettingID(id), Value: value})
	}
	return settings, nil
}
