// Package transport provides the QUIC collaborators the http3 session
// drives: an in-process pair for tests and the reference responder, and an
// adapter over quic-go for live targets.
package transport

import (
	"context"
	"fmt"
	"sync"

	"example.com/h3probe/internal/http3"
)

const memEventBuffer = 1024

// Mem is an in-process Transport endpoint. A pair of them emulates one QUIC
// connection: bytes written on one side surface as events on the other, with
// QUIC stream numbering (client bidi 0,4,8..., client uni 2,6,10..., server
// bidi 1,5,9..., server uni 3,7,11...). There is no flow control and no
// packetization; delivery is ordered and reliable.
type Mem struct {
	perspective http3.Perspective

	mu        sync.Mutex
	peer      *Mem
	nextBidi  uint64
	nextUni   uint64
	closed    bool
	closeSent bool

	events chan http3.Event
}

// NewPair creates two connected endpoints for one emulated connection.
func NewPair() (client, server *Mem) {
	client = &Mem{
		perspective: http3.PerspectiveClient,
		nextBidi:    0,
		nextUni:     2,
		events:      make(chan http3.Event, memEventBuffer),
	}
	server = &Mem{
		perspective: http3.PerspectiveServer,
		nextBidi:    1,
		nextUni:     3,
		events:      make(chan http3.Event, memEventBuffer),
	}
	client.peer = server
	server.peer = client
	return client, server
}

// Perspective returns the side of the emulated connection this endpoint
// occupies.
func (m *Mem) Perspective() http3.Perspective { return m.perspective }

// OpenStream allocates the next stream ID for this side and direction.
func (m *Mem) OpenStream(dir http3.Direction) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("mem transport: connection closed")
	}
	if dir == http3.DirBidi {
		id := m.nextBidi
		m.nextBidi += 4
		return id, nil
	}
	id := m.nextUni
	m.nextUni += 4
	return id, nil
}

// streamMeta derives direction and initiator from QUIC stream ID bits: bit 0
// is the initiator (0 client, 1 server), bit 1 the directionality (1 uni).
func streamMeta(id uint64, receiver http3.Perspective) (http3.Direction, bool) {
	dir := http3.DirBidi
	if id&0x2 != 0 {
		dir = http3.DirUni
	}
	initiator := http3.PerspectiveClient
	if id&0x1 != 0 {
		initiator = http3.PerspectiveServer
	}
	return dir, initiator == receiver
}

// Send delivers b to the peer as stream data.
func (m *Mem) Send(streamID uint64, b []byte) error {
	dir, local := streamMeta(streamID, m.peer.perspective)
	return m.deliver(http3.StreamDataEvent{
		StreamID: streamID,
		Dir:      dir,
		Local:    local,
		Data:     append([]byte(nil), b...),
	})
}

// CloseSend delivers a FIN for the stream.
func (m *Mem) CloseSend(streamID uint64) error {
	dir, local := streamMeta(streamID, m.peer.perspective)
	return m.deliver(http3.StreamDataEvent{
		StreamID: streamID,
		Dir:      dir,
		Local:    local,
		FIN:      true,
	})
}

// ResetStream delivers an abrupt stream termination to the peer.
func (m *Mem) ResetStream(streamID uint64, code http3.ErrorCode) error {
	return m.deliver(http3.StreamResetEvent{StreamID: streamID, ErrorCode: code})
}

func (m *Mem) deliver(ev http3.Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mem transport: connection closed")
	}
	peer := m.peer
	m.mu.Unlock()

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		// Peer already tore the connection down; the bytes go nowhere,
		// which is also what a real network would do.
		return nil
	}
	select {
	case peer.events <- ev:
		return nil
	default:
		return fmt.Errorf("mem transport: peer event queue full")
	}
}

// Receive returns the next event or blocks until ctx is done. After the
// ConnectionClosedEvent has been consumed, Receive fails.
func (m *Mem) Receive(ctx context.Context) (http3.Event, error) {
	select {
	case ev := <-m.events:
		return ev, nil
	default:
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("mem transport: connection closed")
	}
	select {
	case ev := <-m.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the emulated connection from this side. The peer sees a
// remote ConnectionClosedEvent; this side sees a local one. Closing twice is
// a no-op.
func (m *Mem) Close(code http3.ErrorCode, reason string) error {
	m.mu.Lock()
	if m.closeSent {
		m.mu.Unlock()
		return nil
	}
	m.closeSent = true
	peer := m.peer
	m.mu.Unlock()

	peer.mu.Lock()
	if !peer.closed {
		peer.closed = true
		select {
		case peer.events <- http3.ConnectionClosedEvent{ErrorCode: code, Reason: reason, Remote: true}:
		default:
		}
	}
	peer.mu.Unlock()

	m.mu.Lock()
	if !m.closed {
		m.closed = true
		select {
		case m.events <- http3.ConnectionClosedEvent{ErrorCode: code, Reason: reason, Remote: false}:
		default:
		}
	}
	m.mu.Unlock()
	return nil
}

// MemListener hands the server half of each dialed pair to an acceptor, so
// tests can run a responder against in-process clients the same way a real
// listener would.
type MemListener struct {
	conns chan *Mem
}

// NewMemListener creates a listener with a small accept backlog.
func NewMemListener() *MemListener {
	return &MemListener{conns: make(chan *Mem, 8)}
}

// Dial creates a connected pair, queues the server half for Accept and
// returns the client half.
func (l *MemListener) Dial() (*Mem, error) {
	client, server := NewPair()
	select {
	case l.conns <- server:
		return client, nil
	default:
		return nil, fmt.Errorf("mem listener: accept backlog full")
	}
}

// Accept returns the server half of the next dialed connection.
func (l *MemListener) Accept(ctx context.Context) (*Mem, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
