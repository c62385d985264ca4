package http3

import (
	"errors"
	"fmt"
)

// ErrorCode represents an HTTP/3 application error code.
type ErrorCode uint64

// HTTP/3 error codes from RFC 9114 Section 8.1 and QPACK error codes from
// RFC 9204 Section 6.
const (
	// ErrCodeNoError (0x100): No error, graceful shutdown.
	ErrCodeNoError ErrorCode = 0x100
	// ErrCodeGeneralProtocolError (0x101): Peer violated the protocol in a way
	// that does not match a more specific code.
	ErrCodeGeneralProtocolError ErrorCode = 0x101
	// ErrCodeInternalError (0x102): Internal fault in the HTTP/3 stack.
	ErrCodeInternalError ErrorCode = 0x102
	// ErrCodeStreamCreationError (0x103): A stream was opened that the peer is
	// not permitted to open, or a duplicate critical stream was opened.
	ErrCodeStreamCreationError ErrorCode = 0x103
	// ErrCodeClosedCriticalStream (0x104): A critical stream was closed.
	ErrCodeClosedCriticalStream ErrorCode = 0x104
	// ErrCodeFrameUnexpected (0x105): A frame was received where it is not
	// permitted.
	ErrCodeFrameUnexpected ErrorCode = 0x105
	// ErrCodeFrameError (0x106): A frame violated layout or size rules.
	ErrCodeFrameError ErrorCode = 0x106
	// ErrCodeExcessiveLoad (0x107): The peer is generating excessive load.
	ErrCodeExcessiveLoad ErrorCode = 0x107
	// ErrCodeIDError (0x108): A stream ID or push ID was used incorrectly.
	ErrCodeIDError ErrorCode = 0x108
	// ErrCodeSettingsError (0x109): A SETTINGS frame violated the rules for
	// settings parameters.
	ErrCodeSettingsError ErrorCode = 0x109
	// ErrCodeMissingSettings (0x10a): The first frame on the control stream
	// was not SETTINGS.
	ErrCodeMissingSettings ErrorCode = 0x10a
	// ErrCodeRequestRejected (0x10b): Request not processed.
	ErrCodeRequestRejected ErrorCode = 0x10b
	// ErrCodeRequestCancelled (0x10c): Request cancelled.
	ErrCodeRequestCancelled ErrorCode = 0x10c
	// ErrCodeRequestIncomplete (0x10d): Stream ended before the request was
	// complete.
	ErrCodeRequestIncomplete ErrorCode = 0x10d
	// ErrCodeMessageError (0x10e): Malformed HTTP message.
	ErrCodeMessageError ErrorCode = 0x10e
	// ErrCodeConnectError (0x10f): TCP connection for a CONNECT request failed.
	ErrCodeConnectError ErrorCode = 0x10f
	// ErrCodeVersionFallback (0x110): Retry over HTTP/1.1.
	ErrCodeVersionFallback ErrorCode = 0x110
	// ErrCodeQPACKDecompressionFailed (0x200): A header block could not be
	// decoded.
	ErrCodeQPACKDecompressionFailed ErrorCode = 0x200
	// ErrCodeQPACKEncoderStreamError (0x201): Error on the QPACK encoder stream.
	ErrCodeQPACKEncoderStreamError ErrorCode = 0x201
	// ErrCodeQPACKDecoderStreamError (0x202): Error on the QPACK decoder stream.
	ErrCodeQPACKDecoderStreamError ErrorCode = 0x202
)

// String returns the RFC name of the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeNoError:
		return "H3_NO_ERROR"
	case ErrCodeGeneralProtocolError:
		return "H3_GENERAL_PROTOCOL_ERROR"
	case ErrCodeInternalError:
		return "H3_INTERNAL_ERROR"
	case ErrCodeStreamCreationError:
		return "H3_STREAM_CREATION_ERROR"
	case ErrCodeClosedCriticalStream:
		return "H3_CLOSED_CRITICAL_STREAM"
	case ErrCodeFrameUnexpected:
		return "H3_FRAME_UNEXPECTED"
	case ErrCodeFrameError:
		return "H3_FRAME_ERROR"
	case ErrCodeExcessiveLoad:
		return "H3_EXCESSIVE_LOAD"
	case ErrCodeIDError:
		return "H3_ID_ERROR"
	case ErrCodeSettingsError:
		return "H3_SETTINGS_ERROR"
	case ErrCodeMissingSettings:
		return "H3_MISSING_SETTINGS"
	case ErrCodeRequestRejected:
		return "H3_REQUEST_REJECTED"
	case ErrCodeRequestCancelled:
		return "H3_REQUEST_CANCELLED"
	case ErrCodeRequestIncomplete:
		return "H3_REQUEST_INCOMPLETE"
	case ErrCodeMessageError:
		return "H3_MESSAGE_ERROR"
	case ErrCodeConnectError:
		return "H3_CONNECT_ERROR"
	case ErrCodeVersionFallback:
		return "H3_VERSION_FALLBACK"
	case ErrCodeQPACKDecompressionFailed:
		return "QPACK_DECOMPRESSION_FAILED"
	case ErrCodeQPACKEncoderStreamError:
		return "QPACK_ENCODER_STREAM_ERROR"
	case ErrCodeQPACKDecoderStreamError:
		return "QPACK_DECODER_STREAM_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE_0x%x", uint64(e))
	}
}

// ErrTruncatedFrame is reported by DecodeFrame and ReadVarint when the input
// ends before the declared encoding is complete. It signals "buffer more
// bytes and retry", not a protocol violation.
var ErrTruncatedFrame = errors.New("http3: truncated frame")

// TransportError wraps a connection-level I/O failure from the transport
// collaborator. It is fatal to the session and never retried internally.
type TransportError struct {
	Op  string
	Err error
}

// Error returns a string representation of the TransportError.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport failure.
func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a TransportError for the given operation.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// InvalidFrameConstructionError indicates caller misuse of the codec or
// session API (for example a frame type beyond the varint range, or a
// payload exceeding the configured maximum). It is a test-authoring bug,
// distinct from an intentional protocol violation.
type InvalidFrameConstructionError struct {
	Reason string
}

// Error returns a string representation of the construction error.
func (e *InvalidFrameConstructionError) Error() string {
	return fmt.Sprintf("invalid frame construction: %s", e.Reason)
}

// ViolationPreventedError is returned by SendFrame when a predicate named in
// the enforce set evaluated false. Nothing was sent. This is an expected,
// recoverable condition: the test asserted that a specific rule would have
// been violated.
type ViolationPreventedError struct {
	Predicate Predicate
}

// Error returns a string representation of the prevented violation.
func (e *ViolationPreventedError) Error() string {
	return fmt.Sprintf("send blocked: legality predicate %q failed", string(e.Predicate))
}

// MalformedHeaderBlockError indicates a local QPACK decode failure. It marks
// the observation inconclusive; it does not say anything about the target.
type MalformedHeaderBlockError struct {
	Err error
}

// Error returns a string representation of the decode failure.
func (e *MalformedHeaderBlockError) Error() string {
	return fmt.Sprintf("malformed header block: %v", e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *MalformedHeaderBlockError) Unwrap() error { return e.Err }

// UnknownPredicateError is returned when an enforce set or Check call names
// a predicate that does not exist. Like InvalidFrameConstructionError it
// indicates a test-authoring bug.
type UnknownPredicateError struct {
	Name Predicate
}

// Error returns a string representation of the unknown predicate error.
func (e *UnknownPredicateError) Error() string {
	return fmt.Sprintf("unknown legality predicate %q", string(e.Name))
}
