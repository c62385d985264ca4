package http3

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SessionOptions configure a Session.
type SessionOptions struct {
	// Logger receives per-frame debug logging. Defaults to a no-op logger.
	Logger zerolog.Logger
	// MaxFrameSize, when non-zero, bounds frame payloads in both directions:
	// an outgoing payload above the bound is rejected as a construction
	// error, and an incoming frame declaring a larger length fails the
	// session with a transport error.
	MaxFrameSize uint64
}

// SessionEvent is a protocol-level occurrence surfaced by ReceiveEvent. The
// concrete types are StreamOpenedEvent, FrameEvent, StreamEndedEvent,
// ResetEvent and ClosedEvent.
type SessionEvent interface {
	isSessionEvent()
}

// StreamOpenedEvent reports a peer-initiated stream whose role is now known:
// immediately for bidirectional streams, and once the declared type varint
// (plus the push ID, for push streams) has been read for unidirectional
// ones.
type StreamOpenedEvent struct {
	Stream *Stream
}

func (StreamOpenedEvent) isSessionEvent() {}

// FrameEvent reports one complete frame received on a stream. FIN is set
// when the frame's last byte was also the last byte of the stream.
type FrameEvent struct {
	Stream *Stream
	Frame  Frame
	FIN    bool
}

func (FrameEvent) isSessionEvent() {}

// StreamEndedEvent reports a stream FIN that did not coincide with the end
// of a frame: either a clean end after (or without) complete frames, or,
// when Truncated is set, an end cutting a frame short.
type StreamEndedEvent struct {
	Stream    *Stream
	Truncated bool
}

func (StreamEndedEvent) isSessionEvent() {}

// ResetEvent reports that the peer reset a stream.
type ResetEvent struct {
	Stream    *Stream
	ErrorCode ErrorCode
}

func (ResetEvent) isSessionEvent() {}

// ClosedEvent reports connection termination, remote or local.
type ClosedEvent struct {
	ErrorCode ErrorCode
	Reason    string
	Remote    bool
}

func (ClosedEvent) isSessionEvent() {}

// recvState is per-stream receive-side parse state.
type recvState struct {
	buf        []byte
	typeRead   bool
	pushIDRead bool
	finSeen    bool
	ended      bool
}

// Session is a raw HTTP/3 session over a Transport. It performs no legality
// checking on its own: any frame may be sent on any stream, streams of any
// declared type may be opened, and SETTINGS is never sent implicitly. Rules
// are applied only when a caller names Tracker predicates in an enforce set.
type Session struct {
	tr          Transport
	perspective Perspective
	tracker     *Tracker
	log         zerolog.Logger
	opts        SessionOptions

	mu      sync.Mutex
	streams map[uint64]*Stream
	recv    map[uint64]*recvState
	pending []SessionEvent
	closed  bool
}

// NewSession wraps a transport in a raw HTTP/3 session. The session starts
// with no streams: callers open the control stream (and decide whether to
// send SETTINGS on it) explicitly.
func NewSession(tr Transport, p Perspective, opts SessionOptions) *Session {
	return &Session{
		tr:          tr,
		perspective: p,
		tracker:     NewTracker(p),
		log:         opts.Logger,
		opts:        opts,
		streams:     make(map[uint64]*Stream),
		recv:        make(map[uint64]*recvState),
	}
}

// Perspective returns the side of the connection this session occupies.
func (s *Session) Perspective() Perspective { return s.perspective }

// Tracker returns the session's legality tracker for direct inspection and
// Check calls.
func (s *Session) Tracker() *Tracker { return s.tracker }

// StreamByID returns the stream handle for id, if the session knows it.
func (s *Session) StreamByID(id uint64) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	return st, ok
}

// OpenControlStream opens a unidirectional stream and writes the control
// stream type (0x00). No SETTINGS frame is sent; a second control stream is
// not refused unless the caller enforces PredSingleControlStream.
func (s *Session) OpenControlStream(enforce ...Predicate) (*Stream, error) {
	return s.openUni(StreamTypeControl, nil, enforce)
}

// OpenRequestStream opens a bidirectional request stream.
func (s *Session) OpenRequestStream() (*Stream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	id, err := s.tr.OpenStream(DirBidi)
	if err != nil {
		return nil, NewTransportError("open stream", err)
	}
	st := &Stream{ID: id, Dir: DirBidi, Local: true, Role: RoleRequest}
	s.registerStream(st)
	s.log.Debug().Uint64("stream_id", id).Msg("opened request stream")
	return st, nil
}

// OpenPushStream opens a unidirectional stream declared as a push stream
// (0x01) carrying the given push ID. Clients opening push streams violate
// RFC 9114; the session permits it unless PredClientDoesNotPush is enforced.
func (s *Session) OpenPushStream(pushID uint64, enforce ...Predicate) (*Stream, error) {
	st, err := s.openUni(StreamTypePush, AppendVarint(nil, pushID), enforce)
	if err != nil {
		return nil, err
	}
	st.PushID = pushID
	return st, nil
}

// OpenUniStream opens a unidirectional stream and writes the given declared
// type varint, known or not. Unknown types are legal on the wire; conformant
// peers ignore such streams.
func (s *Session) OpenUniStream(declaredType StreamTypeID, enforce ...Predicate) (*Stream, error) {
	return s.openUni(declaredType, nil, enforce)
}

func (s *Session) openUni(declaredType StreamTypeID, extra []byte, enforce []Predicate) (*Stream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if uint64(declaredType) > MaxVarint {
		return nil, &InvalidFrameConstructionError{
			Reason: fmt.Sprintf("stream type 0x%x exceeds varint range", uint64(declaredType)),
		}
	}
	id, err := s.tr.OpenStream(DirUni)
	if err != nil {
		return nil, NewTransportError("open stream", err)
	}
	st := &Stream{
		ID:           id,
		Dir:          DirUni,
		Local:        true,
		Role:         RoleForStreamType(declaredType),
		DeclaredType: declaredType,
	}
	for _, p := range enforce {
		ok, err := s.tracker.Evaluate(p, st, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = s.tr.CloseSend(id)
			return nil, &ViolationPreventedError{Predicate: p}
		}
	}
	buf := AppendVarint(nil, uint64(declaredType))
	buf = append(buf, extra...)
	if err := s.tr.Send(id, buf); err != nil {
		return nil, NewTransportError("send stream type", err)
	}
	s.registerStream(st)
	s.log.Debug().
		Uint64("stream_id", id).
		Str("declared_type", declaredType.String()).
		Msg("opened unidirectional stream")
	return st, nil
}

func (s *Session) registerStream(st *Stream) {
	s.mu.Lock()
	s.streams[st.ID] = st
	s.mu.Unlock()
	s.tracker.RegisterStream(st)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewTransportError("send", fmt.Errorf("session closed"))
	}
	return nil
}

// SendFrame encodes f and sends it on st. With an empty enforce set any
// type/payload combination within varint range is sent as-is. Each named
// predicate is evaluated against the tracker first; the first one that fails
// aborts the send with ViolationPreventedError and nothing reaches the wire.
func (s *Session) SendFrame(st *Stream, f Frame, enforce ...Predicate) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.opts.MaxFrameSize > 0 && uint64(len(f.Payload)) > s.opts.MaxFrameSize {
		return &InvalidFrameConstructionError{
			Reason: fmt.Sprintf("payload length %d exceeds configured maximum %d",
				len(f.Payload), s.opts.MaxFrameSize),
		}
	}
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	for _, p := range enforce {
		ok, err := s.tracker.Evaluate(p, st, &f)
		if err != nil {
			return err
		}
		if !ok {
			return &ViolationPreventedError{Predicate: p}
		}
	}
	if err := s.tr.Send(st.ID, buf); err != nil {
		return NewTransportError("send frame", err)
	}
	s.tracker.RecordSent(st, f)
	s.log.Debug().
		Uint64("stream_id", st.ID).
		Str("frame_type", f.Type.String()).
		Int("payload_len", len(f.Payload)).
		Msg("sent frame")
	return nil
}

// SendHeaders QPACK-encodes fields and sends them as a HEADERS frame.
func (s *Session) SendHeaders(st *Stream, fields []HeaderField, enforce ...Predicate) error {
	block, err := EncodeHeaders(fields)
	if err != nil {
		return err
	}
	return s.SendFrame(st, Frame{Type: FrameHeaders, Payload: block}, enforce...)
}

// SendData sends body as a DATA frame.
func (s *Session) SendData(st *Stream, body []byte, enforce ...Predicate) error {
	return s.SendFrame(st, Frame{Type: FrameData, Payload: body}, enforce...)
}

// SendSettings sends a SETTINGS frame with the given parameters, in the
// given order, duplicates and reserved identifiers included.
func (s *Session) SendSettings(st *Stream, settings []Setting, enforce ...Predicate) error {
	payload, err := EncodeSettings(settings)
	if err != nil {
		return err
	}
	return s.SendFrame(st, Frame{Type: FrameSettings, Payload: payload}, enforce...)
}

// SendGoAway sends a GOAWAY frame carrying the given stream or push ID.
func (s *Session) SendGoAway(st *Stream, id uint64, enforce ...Predicate) error {
	if id > MaxVarint {
		return &InvalidFrameConstructionError{Reason: "GOAWAY ID exceeds varint range"}
	}
	return s.SendFrame(st, Frame{Type: FrameGoAway, Payload: AppendVarint(nil, id)}, enforce...)
}

// SendMaxPushID sends a MAX_PUSH_ID frame.
func (s *Session) SendMaxPushID(st *Stream, pushID uint64, enforce ...Predicate) error {
	if pushID > MaxVarint {
		return &InvalidFrameConstructionError{Reason: "push ID exceeds varint range"}
	}
	return s.SendFrame(st, Frame{Type: FrameMaxPushID, Payload: AppendVarint(nil, pushID)}, enforce...)
}

// SendCancelPush sends a CANCEL_PUSH frame for the given push ID, announced
// or not.
func (s *Session) SendCancelPush(st *Stream, pushID uint64, enforce ...Predicate) error {
	if pushID > MaxVarint {
		return &InvalidFrameConstructionError{Reason: "push ID exceeds varint range"}
	}
	return s.SendFrame(st, Frame{Type: FrameCancelPush, Payload: AppendVarint(nil, pushID)}, enforce...)
}

// SendPushPromise sends a PUSH_PROMISE frame carrying the push ID and a
// QPACK-encoded field section.
func (s *Session) SendPushPromise(st *Stream, pushID uint64, fields []HeaderField, enforce ...Predicate) error {
	if pushID > MaxVarint {
		return &InvalidFrameConstructionError{Reason: "push ID exceeds varint range"}
	}
	block, err := EncodeHeaders(fields)
	if err != nil {
		return err
	}
	payload := AppendVarint(nil, pushID)
	payload = append(payload, block...)
	return s.SendFrame(st, Frame{Type: FramePushPromise, Payload: payload}, enforce...)
}

// SendRawStreamBytes writes b on the stream with no framing, no tracking and
// no checks. It exists for payloads that must be byte-exact garbage.
func (s *Session) SendRawStreamBytes(st *Stream, b []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.tr.Send(st.ID, b); err != nil {
		return NewTransportError("send raw bytes", err)
	}
	return nil
}

// CloseStream cleanly finishes the send side of the stream.
func (s *Session) CloseStream(st *Stream) error {
	if err := s.tr.CloseSend(st.ID); err != nil {
		return NewTransportError("close stream", err)
	}
	return nil
}

// ResetStream abruptly terminates the stream with an error code.
func (s *Session) ResetStream(st *Stream, code ErrorCode) error {
	if err := s.tr.ResetStream(st.ID, code); err != nil {
		return NewTransportError("reset stream", err)
	}
	return nil
}

// Close closes the connection with an application error code. It is
// idempotent; repeated calls are no-ops.
func (s *Session) Close(code ErrorCode, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if err := s.tr.Close(code, reason); err != nil {
		return NewTransportError("close connection", err)
	}
	return nil
}

// ReceiveEvent returns the next protocol-level event, blocking until one is
// available or ctx is done. Cancellation leaves all partial parse state
// intact; a later call resumes where this one stopped. After a ClosedEvent,
// further calls fail.
func (s *Session) ReceiveEvent(ctx context.Context) (SessionEvent, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		tev, err := s.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, NewTransportError("receive", err)
		}
		if err := s.processTransportEvent(tev); err != nil {
			return nil, err
		}
	}
}

func (s *Session) processTransportEvent(tev Event) error {
	switch ev := tev.(type) {
	case StreamDataEvent:
		return s.processStreamData(ev)
	case StreamResetEvent:
		st := s.streamForEvent(ev.StreamID, DirBidi, false)
		s.enqueue(ResetEvent{Stream: st, ErrorCode: ev.ErrorCode})
		return nil
	case ConnectionClosedEvent:
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.enqueue(ClosedEvent{ErrorCode: ev.ErrorCode, Reason: ev.Reason, Remote: ev.Remote})
		return nil
	default:
		return NewTransportError("receive", fmt.Errorf("unknown transport event %T", tev))
	}
}

// streamForEvent resolves the stream handle for a transport event, creating
// one for a previously unseen peer-initiated stream.
func (s *Session) streamForEvent(id uint64, dir Direction, local bool) *Stream {
	s.mu.Lock()
	st, ok := s.streams[id]
	s.mu.Unlock()
	if ok {
		return st
	}
	st = &Stream{ID: id, Dir: dir, Local: local}
	if dir == DirBidi {
		st.Role = RoleRequest
	} else {
		st.Role = RoleUnknownUni
	}
	s.mu.Lock()
	s.streams[id] = st
	s.mu.Unlock()
	if dir == DirBidi && !local {
		// Bidi streams have no type prefix; the role is known at once.
		s.tracker.RegisterStream(st)
		s.enqueue(StreamOpenedEvent{Stream: st})
	}
	return st
}

func (s *Session) processStreamData(ev StreamDataEvent) error {
	st := s.streamForEvent(ev.StreamID, ev.Dir, ev.Local)

	s.mu.Lock()
	rs, ok := s.recv[ev.StreamID]
	if !ok {
		rs = &recvState{}
		s.recv[ev.StreamID] = rs
	}
	rs.buf = append(rs.buf, ev.Data...)
	if ev.FIN {
		rs.finSeen = true
	}
	s.mu.Unlock()

	return s.parseStream(st, rs)
}

// parseStream drains as much of the stream's receive buffer as complete
// encodings allow, queueing session events for each.
func (s *Session) parseStream(st *Stream, rs *recvState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs.ended {
		return nil
	}

	// Peer unidirectional streams lead with a declared type varint.
	if st.Dir == DirUni && !st.Local && !rs.typeRead {
		t, n, err := ReadVarint(rs.buf)
		if err != nil {
			return s.maybeEndLocked(st, rs)
		}
		rs.buf = rs.buf[n:]
		rs.typeRead = true
		st.DeclaredType = StreamTypeID(t)
		st.Role = RoleForStreamType(st.DeclaredType)
		s.tracker.RegisterStream(st)
		if st.Role != RolePush {
			s.pending = append(s.pending, StreamOpenedEvent{Stream: st})
		}
	}

	// Push streams carry a push ID before their frames.
	if st.Dir == DirUni && !st.Local && st.Role == RolePush && !rs.pushIDRead {
		id, n, err := ReadVarint(rs.buf)
		if err != nil {
			return s.maybeEndLocked(st, rs)
		}
		rs.buf = rs.buf[n:]
		rs.pushIDRead = true
		st.PushID = id
		s.pending = append(s.pending, StreamOpenedEvent{Stream: st})
	}

	// QPACK instruction streams and unknown stream types carry no frames;
	// their bytes are consumed without interpretation.
	if st.Role == RoleQPACKEncoder || st.Role == RoleQPACKDecoder || st.Role == RoleUnknownUni {
		rs.buf = nil
		return s.maybeEndLocked(st, rs)
	}

	for {
		if s.opts.MaxFrameSize > 0 {
			if length, ok := peekFrameLength(rs.buf); ok && length > s.opts.MaxFrameSize {
				return NewTransportError("receive", fmt.Errorf(
					"stream %d: incoming frame declares %d bytes, maximum is %d",
					st.ID, length, s.opts.MaxFrameSize))
			}
		}
		f, n, err := DecodeFrame(rs.buf)
		if err != nil {
			// Incomplete; wait for more bytes or the FIN verdict.
			return s.maybeEndLocked(st, rs)
		}
		rs.buf = rs.buf[n:]
		fin := rs.finSeen && len(rs.buf) == 0
		s.tracker.RecordReceived(st, f)
		s.log.Debug().
			Uint64("stream_id", st.ID).
			Str("role", st.Role.String()).
			Str("frame_type", f.Type.String()).
			Int("payload_len", len(f.Payload)).
			Bool("fin", fin).
			Msg("received frame")
		s.pending = append(s.pending, FrameEvent{Stream: st, Frame: f, FIN: fin})
		if fin {
			rs.ended = true
			return nil
		}
	}
}

// maybeEndLocked queues a StreamEndedEvent when the FIN has arrived and no
// further complete frame can be parsed. A non-empty residual buffer means
// the peer cut a frame short.
func (s *Session) maybeEndLocked(st *Stream, rs *recvState) error {
	if !rs.finSeen || rs.ended {
		return nil
	}
	rs.ended = true
	s.pending = append(s.pending, StreamEndedEvent{Stream: st, Truncated: len(rs.buf) > 0})
	return nil
}

func (s *Session) enqueue(ev SessionEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

// peekFrameLength reads the declared payload length of the frame at the
// start of b without consuming anything. ok is false while the header is
// still incomplete.
func peekFrameLength(b []byte) (uint64, bool) {
	_, n, err := ReadVarint(b)
	if err != nil {
		return 0, false
	}
	length, _, err := ReadVarint(b[n:])
	if err != nil {
		return 0, false
	}
	return length, true
}
