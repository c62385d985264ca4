package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/quic-go"

	"example.com/h3probe/internal/http3"
)

// NextProtoH3 is the TLS ALPN token for HTTP/3.
const NextProtoH3 = "h3"

const quicEventBuffer = 256
const quicReadChunk = 16 * 1024

// QUIC adapts a quic-go connection to the http3.Transport contract. Accept
// and per-stream read loops pump transport activity into a single event
// channel; writes go straight to the underlying streams.
type QUIC struct {
	conn quic.Connection

	mu      sync.Mutex
	writers map[uint64]quicWriter

	events chan http3.Event

	closeOnce sync.Once
	closeErr  error
}

// quicWriter is the send side of a stream, bidi or uni.
type quicWriter interface {
	io.Writer
	io.Closer
	CancelWrite(quic.StreamErrorCode)
}

// Dial connects to addr over QUIC with the h3 ALPN and returns the wrapped
// connection. tlsConf may be nil; a config advertising h3 is derived from it
// either way.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*QUIC, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{NextProtoH3}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{EnableDatagrams: false})
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	return NewQUIC(conn), nil
}

// NewQUIC wraps an established quic-go connection (dialed or accepted) and
// starts its event pumps.
func NewQUIC(conn quic.Connection) *QUIC {
	q := &QUIC{
		conn:    conn,
		writers: make(map[uint64]quicWriter),
		events:  make(chan http3.Event, quicEventBuffer),
	}
	go q.acceptBidiLoop()
	go q.acceptUniLoop()
	go q.watchConnection()
	return q
}

// OpenStream opens a stream on the QUIC connection. Local bidi streams get a
// read loop for the response direction.
func (q *QUIC) OpenStream(dir http3.Direction) (uint64, error) {
	ctx := q.conn.Context()
	if dir == http3.DirBidi {
		str, err := q.conn.OpenStreamSync(ctx)
		if err != nil {
			return 0, fmt.Errorf("open bidi stream: %w", err)
		}
		id := uint64(str.StreamID())
		q.mu.Lock()
		q.writers[id] = str
		q.mu.Unlock()
		go q.readLoop(str, id, http3.DirBidi, true)
		return id, nil
	}
	str, err := q.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return 0, fmt.Errorf("open uni stream: %w", err)
	}
	id := uint64(str.StreamID())
	q.mu.Lock()
	q.writers[id] = str
	q.mu.Unlock()
	return id, nil
}

// Send writes b on the stream.
func (q *QUIC) Send(streamID uint64, b []byte) error {
	w, err := q.writer(streamID)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write stream %d: %w", streamID, err)
	}
	return nil
}

// CloseSend finishes the send side of the stream.
func (q *QUIC) CloseSend(streamID uint64) error {
	w, err := q.writer(streamID)
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close stream %d: %w", streamID, err)
	}
	return nil
}

// ResetStream abruptly terminates the send side of the stream.
func (q *QUIC) ResetStream(streamID uint64, code http3.ErrorCode) error {
	w, err := q.writer(streamID)
	if err != nil {
		return err
	}
	w.CancelWrite(quic.StreamErrorCode(code))
	return nil
}

func (q *QUIC) writer(streamID uint64) (quicWriter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.writers[streamID]
	if !ok {
		return nil, fmt.Errorf("stream %d has no send side", streamID)
	}
	return w, nil
}

// Receive returns the next transport event.
func (q *QUIC) Receive(ctx context.Context) (http3.Event, error) {
	select {
	case ev := <-q.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the QUIC connection with an application error.
func (q *QUIC) Close(code http3.ErrorCode, reason string) error {
	q.closeOnce.Do(func() {
		q.closeErr = q.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
	})
	return q.closeErr
}

func (q *QUIC) acceptBidiLoop() {
	for {
		str, err := q.conn.AcceptStream(q.conn.Context())
		if err != nil {
			return
		}
		id := uint64(str.StreamID())
		q.mu.Lock()
		q.writers[id] = str
		q.mu.Unlock()
		go q.readLoop(str, id, http3.DirBidi, false)
	}
}

func (q *QUIC) acceptUniLoop() {
	for {
		str, err := q.conn.AcceptUniStream(q.conn.Context())
		if err != nil {
			return
		}
		go q.readLoop(str, uint64(str.StreamID()), http3.DirUni, false)
	}
}

// readLoop pumps one stream's receive side into the event channel until EOF,
// reset or connection close.
func (q *QUIC) readLoop(r io.Reader, id uint64, dir http3.Direction, local bool) {
	buf := make([]byte, quicReadChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			q.emit(http3.StreamDataEvent{
				StreamID: id,
				Dir:      dir,
				Local:    local,
				Data:     append([]byte(nil), buf[:n]...),
				FIN:      err == io.EOF,
			})
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if n == 0 {
				q.emit(http3.StreamDataEvent{StreamID: id, Dir: dir, Local: local, FIN: true})
			}
			return
		}
		var serr *quic.StreamError
		if errors.As(err, &serr) {
			q.emit(http3.StreamResetEvent{
				StreamID:  id,
				ErrorCode: http3.ErrorCode(serr.ErrorCode),
			})
		}
		// Connection-level failures surface through watchConnection.
		return
	}
}

// watchConnection turns the connection context's cause into a
// ConnectionClosedEvent.
func (q *QUIC) watchConnection() {
	<-q.conn.Context().Done()
	cause := context.Cause(q.conn.Context())

	var aerr *quic.ApplicationError
	if errors.As(cause, &aerr) {
		q.emit(http3.ConnectionClosedEvent{
			ErrorCode: http3.ErrorCode(aerr.ErrorCode),
			Reason:    aerr.ErrorMessage,
			Remote:    aerr.Remote,
		})
		return
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	q.emit(http3.ConnectionClosedEvent{
		ErrorCode: http3.ErrCodeInternalError,
		Reason:    reason,
		Remote:    false,
	})
}

// emit delivers an event, dropping it if nobody ever drains the channel and
// it fills up. The buffer is generous; a full channel means the session has
// stopped receiving, at which point events have no consumer anyway.
func (q *QUIC) emit(ev http3.Event) {
	select {
	case q.events <- ev:
	default:
	}
}

// Listener accepts QUIC connections and wraps them as transports.
type Listener struct {
	ln *quic.Listener
}

// Listen opens a QUIC listener on addr. tlsConf must carry at least one
// certificate; the h3 ALPN is added if absent.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{NextProtoH3}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until the next connection arrives and wraps it.
func (l *Listener) Accept(ctx context.Context) (*QUIC, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewQUIC(conn), nil
}

// Addr returns the listener's bound address string.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}
