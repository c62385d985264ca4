package http3

import "fmt"

// Perspective is the side of the connection a session occupies.
type Perspective int

const (
	// PerspectiveClient is the connection initiator.
	PerspectiveClient Perspective = iota
	// PerspectiveServer is the connection acceptor.
	PerspectiveServer
)

// String returns the string representation of the Perspective.
func (p Perspective) String() string {
	if p == PerspectiveClient {
		return "client"
	}
	return "server"
}

// Direction is a stream's directionality.
type Direction int

const (
	// DirBidi is a bidirectional stream.
	DirBidi Direction = iota
	// DirUni is a unidirectional stream.
	DirUni
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	if d == DirBidi {
		return "bidi"
	}
	return "uni"
}

// StreamRole is the protocol-level classification of a stream: what the
// stream is for, as opposed to its transport-level directionality.
type StreamRole int

const (
	// RoleRequest is a bidirectional request/response stream.
	RoleRequest StreamRole = iota
	// RoleControl is a control stream (uni, declared type 0x00).
	RoleControl
	// RolePush is a push stream (uni, declared type 0x01).
	RolePush
	// RoleQPACKEncoder is a QPACK encoder stream (uni, declared type 0x02).
	RoleQPACKEncoder
	// RoleQPACKDecoder is a QPACK decoder stream (uni, declared type 0x03).
	RoleQPACKDecoder
	// RoleUnknownUni is a unidirectional stream whose declared type is not
	// one an HTTP/3 endpoint recognizes. Such streams are legal to open and
	// a conformant peer ignores them.
	RoleUnknownUni
)

// String returns the string representation of the StreamRole.
func (r StreamRole) String() string {
	switch r {
	case RoleRequest:
		return "request"
	case RoleControl:
		return "control"
	case RolePush:
		return "push"
	case RoleQPACKEncoder:
		return "qpack_encoder"
	case RoleQPACKDecoder:
		return "qpack_decoder"
	default:
		return "unknown_uni"
	}
}

// RoleForStreamType maps a declared unidirectional stream type to its role.
func RoleForStreamType(t StreamTypeID) StreamRole {
	switch t {
	case StreamTypeControl:
		return RoleControl
	case StreamTypePush:
		return RolePush
	case StreamTypeQPACKEncoder:
		return RoleQPACKEncoder
	case StreamTypeQPACKDecoder:
		return RoleQPACKDecoder
	default:
		return RoleUnknownUni
	}
}

// Stream is a session-level handle for one QUIC stream. The handle is
// descriptive: ID, direction, initiator and classified role. Send/receive
// state lives in the Session; legality history lives in the Tracker.
type Stream struct {
	// ID is the QUIC stream ID.
	ID uint64
	// Dir is the stream's directionality.
	Dir Direction
	// Local reports whether this side opened the stream.
	Local bool
	// Role is the protocol classification. For locally opened unidirectional
	// streams it reflects the declared type written at open; for peer
	// unidirectional streams it is set once the type varint has been read.
	Role StreamRole
	// DeclaredType is the raw stream type varint for unidirectional streams.
	// It preserves unknown values that Role collapses to RoleUnknownUni.
	DeclaredType StreamTypeID
	// PushID is the push identifier carried at the head of a push stream.
	// Valid only when Role is RolePush and the varint has been read.
	PushID uint64
}

// String returns a short description for logging.
func (s *Stream) String() string {
	return fmt.Sprintf("stream %d (%s %s, %s)", s.ID, s.Dir, s.Role, initiator(s.Local))
}

func initiator(local bool) string {
	if local {
		return "local"
	}
	return "peer"
}
