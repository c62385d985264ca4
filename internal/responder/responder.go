// Package responder implements a minimal conformant HTTP/3 server endpoint.
// It answers simple requests and polices both the connection-level rules and
// the message-semantics rules the probe deliberately violates, closing the
// connection or resetting streams with the error codes RFC 9114 prescribes.
package responder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"example.com/h3probe/internal/http3"
)

// DefaultStaticBody is served for GET /.
const DefaultStaticBody = "h3probe reference responder\n"

// DefaultMaxRequestStreams bounds concurrently open request streams before
// the responder refuses further load.
const DefaultMaxRequestStreams = 32

// Options configure a Responder.
type Options struct {
	// Logger receives per-connection logging. Defaults to a no-op logger.
	Logger zerolog.Logger
	// StaticBody is the response body for GET /. Empty means
	// DefaultStaticBody.
	StaticBody []byte
	// EchoPath is the path whose request body is echoed back. Empty means
	// "/echo".
	EchoPath string
	// MaxRequestStreams bounds concurrently open request streams. Zero means
	// DefaultMaxRequestStreams.
	MaxRequestStreams int
}

// Responder serves connections one at a time per Serve call. A Responder is
// stateless between connections and safe for concurrent Serve calls.
type Responder struct {
	log        zerolog.Logger
	staticBody []byte
	echoPath   string
	maxStreams int
}

// New creates a Responder with the given options.
func New(opts Options) *Responder {
	r := &Responder{
		log:        opts.Logger,
		staticBody: opts.StaticBody,
		echoPath:   opts.EchoPath,
		maxStreams: opts.MaxRequestStreams,
	}
	if len(r.staticBody) == 0 {
		r.staticBody = []byte(DefaultStaticBody)
	}
	if r.echoPath == "" {
		r.echoPath = "/echo"
	}
	if r.maxStreams <= 0 {
		r.maxStreams = DefaultMaxRequestStreams
	}
	return r
}

// request accumulates one request stream until its FIN.
type request struct {
	headersSeen bool
	headers     []http3.HeaderField
	body        []byte
	responded   bool
}

// conn is the per-connection serving state.
type conn struct {
	r       *Responder
	session *http3.Session
	ctrl    *http3.Stream
	log     zerolog.Logger

	peerSettingsSeen bool
	requests         map[uint64]*request
	frameSeq         int
}

// Serve runs the responder over one transport until the connection closes or
// ctx is done. The session's setup is conformant: a single control stream
// with SETTINGS as its first and only frame.
func (r *Responder) Serve(ctx context.Context, tr http3.Transport) error {
	session := http3.NewSession(tr, http3.PerspectiveServer, http3.SessionOptions{Logger: r.log})
	c := &conn{
		r:        r,
		session:  session,
		log:      r.log,
		requests: make(map[uint64]*request),
	}

	ctrl, err := session.OpenControlStream()
	if err != nil {
		return fmt.Errorf("responder: opening control stream: %w", err)
	}
	c.ctrl = ctrl
	if err := session.SendSettings(ctrl, http3.DefaultSettings()); err != nil {
		return fmt.Errorf("responder: sending settings: %w", err)
	}

	for {
		ev, err := session.ReceiveEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = session.Close(http3.ErrCodeNoError, "shutting down")
				return ctx.Err()
			}
			return err
		}
		done, err := c.handle(ev)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handle processes one session event. It returns done=true once the
// connection is finished, whether gracefully or by a policing close.
func (c *conn) handle(ev http3.SessionEvent) (bool, error) {
	switch e := ev.(type) {
	case http3.StreamOpenedEvent:
		return c.handleOpened(e.Stream)
	case http3.FrameEvent:
		return c.handleFrame(e)
	case http3.StreamEndedEvent:
		return c.handleEnded(e)
	case http3.ResetEvent:
		delete(c.requests, e.Stream.ID)
		return false, nil
	case http3.ClosedEvent:
		c.log.Info().
			Str("error_code", e.ErrorCode.String()).
			Bool("remote", e.Remote).
			Msg("connection closed")
		return true, nil
	default:
		return false, fmt.Errorf("responder: unexpected session event %T", ev)
	}
}

func (c *conn) handleOpened(st *http3.Stream) (bool, error) {
	switch st.Role {
	case http3.RoleControl:
		if c.session.Tracker().PeerControlStreams() > 1 {
			return c.closeConn(http3.ErrCodeStreamCreationError, "second control stream")
		}
	case http3.RolePush:
		// Servers push; clients never do.
		return c.closeConn(http3.ErrCodeStreamCreationError, "client-initiated push stream")
	case http3.RoleRequest:
		if c.activeRequests() >= c.r.maxStreams {
			return c.closeConn(http3.ErrCodeExcessiveLoad, "too many concurrent request streams")
		}
		c.requests[st.ID] = &request{}
	case http3.RoleQPACKEncoder, http3.RoleQPACKDecoder, http3.RoleUnknownUni:
		// Instruction streams carry no frames here; unknown types are
		// ignored per RFC 9114 Section 9.
	}
	return false, nil
}

func (c *conn) activeRequests() int {
	n := 0
	for _, req := range c.requests {
		if !req.responded {
			n++
		}
	}
	return n
}

func (c *conn) handleFrame(e http3.FrameEvent) (bool, error) {
	c.frameSeq++
	c.log.Info().
		Int("order", c.frameSeq).
		Uint64("stream_id", e.Stream.ID).
		Str("role", e.Stream.Role.String()).
		Str("frame_type", e.Frame.Type.String()).
		Int("payload_len", len(e.Frame.Payload)).
		Msg("frame received")
	if e.Frame.Type.IsReservedH2() {
		return c.closeConn(http3.ErrCodeFrameUnexpected,
			fmt.Sprintf("reserved frame type 0x%x", uint64(e.Frame.Type)))
	}
	switch e.Stream.Role {
	case http3.RoleControl:
		return c.handleControlFrame(e)
	case http3.RoleRequest:
		return c.handleRequestFrame(e)
	default:
		// Frames never parse on QPACK or unknown streams; push streams from
		// the client were already rejected at open.
		return false, nil
	}
}

func (c *conn) handleControlFrame(e http3.FrameEvent) (bool, error) {
	f := e.Frame
	if !c.peerSettingsSeen && f.Type != http3.FrameSettings {
		return c.closeConn(http3.ErrCodeMissingSettings,
			fmt.Sprintf("first control frame is %s, not SETTINGS", f.Type))
	}
	switch f.Type {
	case http3.FrameSettings:
		if c.peerSettingsSeen {
			return c.closeConn(http3.ErrCodeFrameUnexpected, "second SETTINGS frame")
		}
		c.peerSettingsSeen = true
		return c.checkSettings(f.Payload)
	case http3.FrameData, http3.FrameHeaders, http3.FramePushPromise:
		return c.closeConn(http3.ErrCodeFrameUnexpected,
			fmt.Sprintf("%s frame on control stream", f.Type))
	case http3.FrameCancelPush:
		id, _, err := http3.ReadVarint(f.Payload)
		if err != nil {
			return c.closeConn(http3.ErrCodeFrameError, "malformed CANCEL_PUSH payload")
		}
		// This server never sends PUSH_PROMISE, so every push ID is
		// unannounced.
		if !c.session.Tracker().PushPromised(id) {
			return c.closeConn(http3.ErrCodeIDError,
				fmt.Sprintf("CANCEL_PUSH for unannounced push ID %d", id))
		}
		return false, nil
	case http3.FrameGoAway, http3.FrameMaxPushID:
		return false, nil
	default:
		// Unknown frame types on the control stream are ignored.
		return false, nil
	}
}

// checkSettings polices one SETTINGS payload: identifiers must be unique and
// must not be reserved HTTP/2 carryovers.
func (c *conn) checkSettings(payload []byte) (bool, error) {
	settings, err := http3.DecodeSettings(payload)
	if err != nil {
		return c.closeConn(http3.ErrCodeFrameError, "malformed SETTINGS payload")
	}
	seen := make(map[http3.SettingID]bool, len(settings))
	for _, s := range settings {
		if s.ID.IsReserved() {
			return c.closeConn(http3.ErrCodeSettingsError,
				fmt.Sprintf("reserved setting identifier 0x%x", uint64(s.ID)))
		}
		if seen[s.ID] {
			return c.closeConn(http3.ErrCodeSettingsError,
				fmt.Sprintf("duplicate setting identifier 0x%x", uint64(s.ID)))
		}
		seen[s.ID] = true
	}
	return false, nil
}

func (c *conn) handleRequestFrame(e http3.FrameEvent) (bool, error) {
	req, ok := c.requests[e.Stream.ID]
	if !ok {
		req = &request{}
		c.requests[e.Stream.ID] = req
	}
	f := e.Frame
	switch f.Type {
	case http3.FrameHeaders:
		fields, err := http3.DecodeHeaders(f.Payload)
		if err != nil {
			return c.closeConn(http3.ErrCodeQPACKDecompressionFailed, "undecodable field section")
		}
		// Trailers after the body are legal; only the first section routes.
		if req.headersSeen {
			for _, hf := range fields {
				if hf.IsPseudo() {
					return c.resetMalformed(e.Stream, req,
						fmt.Sprintf("pseudo-header %s in trailers", hf.Name))
				}
			}
			break
		}
		if reason := requestHeaderProblem(fields); reason != "" {
			return c.resetMalformed(e.Stream, req, reason)
		}
		req.headersSeen = true
		req.headers = fields
	case http3.FrameData:
		if !req.headersSeen {
			return c.closeConn(http3.ErrCodeFrameUnexpected, "DATA before HEADERS on request stream")
		}
		req.body = append(req.body, f.Payload...)
	case http3.FrameSettings, http3.FrameGoAway, http3.FrameMaxPushID, http3.FrameCancelPush:
		return c.closeConn(http3.ErrCodeFrameUnexpected,
			fmt.Sprintf("%s frame on request stream", f.Type))
	case http3.FramePushPromise:
		return c.closeConn(http3.ErrCodeFrameUnexpected, "PUSH_PROMISE from client")
	default:
		// Unknown frame types on request streams are ignored.
	}
	if e.FIN {
		return c.respond(e.Stream, req)
	}
	return false, nil
}

// resetMalformed rejects a malformed request with a stream reset. The
// connection itself stays up.
func (c *conn) resetMalformed(st *http3.Stream, req *request, reason string) (bool, error) {
	c.log.Info().
		Uint64("stream_id", st.ID).
		Str("reason", reason).
		Msg("malformed request, resetting stream")
	req.responded = true
	if err := c.session.ResetStream(st, http3.ErrCodeMessageError); err != nil {
		return false, err
	}
	return false, nil
}

// connectionSpecificFields must not appear in HTTP/3 field sections
// (RFC 9114 Section 4.2).
var connectionSpecificFields = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// requestHeaderProblem checks the initial field section of a request against
// the structural rules of RFC 9114 Sections 4.2 and 4.3. It returns a reason
// for the first problem found, or "" when the section is acceptable. A
// missing mandatory pseudo-header is not judged here; the router answers
// those with a 400.
func requestHeaderProblem(fields []http3.HeaderField) string {
	seenPseudo := make(map[string]bool)
	seenRegular := false
	for _, f := range fields {
		if f.IsPseudo() {
			if seenRegular {
				return fmt.Sprintf("pseudo-header %s after regular fields", f.Name)
			}
			switch f.Name {
			case ":method", ":scheme", ":authority", ":path":
			default:
				return fmt.Sprintf("invalid pseudo-header %s in a request", f.Name)
			}
			if seenPseudo[f.Name] {
				return fmt.Sprintf("duplicate pseudo-header %s", f.Name)
			}
			seenPseudo[f.Name] = true
			continue
		}
		seenRegular = true
		if !validFieldName(f.Name) {
			return fmt.Sprintf("invalid field name %q", f.Name)
		}
		if connectionSpecificFields[f.Name] {
			return fmt.Sprintf("connection-specific field %s", f.Name)
		}
		if f.Name == "te" && f.Value != "trailers" {
			return fmt.Sprintf("te field with value %q", f.Value)
		}
	}
	return ""
}

// validFieldName reports whether name is a lowercase HTTP token. Field names
// are tokens (RFC 9110 Section 5.1) and must be lowercase on the wire
// (RFC 9114 Section 4.2).
func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		b := name[i]
		switch {
		case b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		case b == '!' || b == '#' || b == '$' || b == '%' || b == '&' ||
			b == '\'' || b == '*' || b == '+' || b == '-' || b == '.' ||
			b == '^' || b == '_' || b == '`' || b == '|' || b == '~':
		default:
			return false
		}
	}
	return true
}

func (c *conn) handleEnded(e http3.StreamEndedEvent) (bool, error) {
	if e.Stream.Role != http3.RoleRequest {
		return false, nil
	}
	req, ok := c.requests[e.Stream.ID]
	if !ok || req.responded {
		return false, nil
	}
	if e.Truncated {
		// Trailing bytes that never formed a frame: the request is
		// malformed, not merely unfinished.
		req.responded = true
		if err := c.session.ResetStream(e.Stream, http3.ErrCodeMessageError); err != nil {
			return false, err
		}
		return false, nil
	}
	if !req.headersSeen {
		req.responded = true
		if err := c.session.ResetStream(e.Stream, http3.ErrCodeRequestIncomplete); err != nil {
			return false, err
		}
		return false, nil
	}
	return c.respond(e.Stream, req)
}

// respond routes the completed request and writes the response.
func (c *conn) respond(st *http3.Stream, req *request) (bool, error) {
	if req.responded {
		return false, nil
	}
	req.responded = true

	method, path := pseudoHeaders(req.headers)
	status := "200"
	var body []byte
	switch {
	case method == "":
		status, body = "400", []byte("missing :method\n")
	case path == c.r.echoPath:
		body = req.body
	case path == "/":
		body = c.r.staticBody
	default:
		status, body = "404", []byte("not found\n")
	}

	c.log.Info().
		Uint64("stream_id", st.ID).
		Str("method", method).
		Str("path", path).
		Str("status", status).
		Msg("request served")

	fields := []http3.HeaderField{
		{Name: ":status", Value: status},
		{Name: "content-length", Value: fmt.Sprintf("%d", len(body))},
	}
	if err := c.session.SendHeaders(st, fields); err != nil {
		return false, err
	}
	if err := c.session.SendData(st, body); err != nil {
		return false, err
	}
	if err := c.session.CloseStream(st); err != nil {
		return false, err
	}
	return false, nil
}

func pseudoHeaders(fields []http3.HeaderField) (method, path string) {
	for _, f := range fields {
		switch f.Name {
		case ":method":
			method = f.Value
		case ":path":
			path = f.Value
		}
	}
	return method, path
}

// closeConn terminates the connection with an error code and reports the
// connection as done.
func (c *conn) closeConn(code http3.ErrorCode, reason string) (bool, error) {
	c.log.Info().
		Str("error_code", code.String()).
		Str("reason", reason).
		Msg("closing connection")
	if err := c.session.Close(code, reason); err != nil {
		return true, err
	}
	return true, nil
}
