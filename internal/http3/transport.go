package http3

import "context"

// Transport is the QUIC collaborator a Session drives. It deals in raw
// stream bytes and transport events only; it knows nothing about HTTP/3
// framing. Two implementations exist: an in-process pair for tests and the
// reference responder, and an adapter over a real QUIC stack for exercising
// live targets.
type Transport interface {
	// OpenStream opens a new stream of the given direction and returns its
	// stream ID. The ID follows QUIC numbering for this side's perspective.
	OpenStream(dir Direction) (uint64, error)

	// Send writes b on the stream. The write is ordered with respect to
	// other Send calls on the same stream.
	Send(streamID uint64, b []byte) error

	// CloseSend cleanly finishes the send side of the stream (FIN).
	CloseSend(streamID uint64) error

	// ResetStream abruptly terminates the stream with an application error
	// code.
	ResetStream(streamID uint64, code ErrorCode) error

	// Receive blocks until the next transport event or ctx is done. After a
	// ConnectionClosedEvent has been returned, further calls fail.
	Receive(ctx context.Context) (Event, error)

	// Close closes the connection with an application error code and reason.
	// It is safe to call more than once.
	Close(code ErrorCode, reason string) error
}

// Event is a transport-level occurrence surfaced by Receive. The concrete
// types are StreamDataEvent, StreamResetEvent and ConnectionClosedEvent.
type Event interface {
	isTransportEvent()
}

// StreamDataEvent carries bytes received on a stream. FIN marks the clean
// end of the peer's send side; a FIN may arrive with or without data.
type StreamDataEvent struct {
	StreamID uint64
	Dir      Direction
	// Local reports whether this side opened the stream the data arrived on.
	Local bool
	Data  []byte
	FIN   bool
}

func (StreamDataEvent) isTransportEvent() {}

// StreamResetEvent reports that the peer abruptly terminated a stream.
type StreamResetEvent struct {
	StreamID  uint64
	ErrorCode ErrorCode
}

func (StreamResetEvent) isTransportEvent() {}

// ConnectionClosedEvent reports connection termination. Remote distinguishes
// a close initiated by the peer from one this side requested.
type ConnectionClosedEvent struct {
	ErrorCode ErrorCode
	Reason    string
	Remote    bool
}

func (ConnectionClosedEvent) isTransportEvent() {}
