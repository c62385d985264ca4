package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/h3probe/internal/http3"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMemStreamNumbering(t *testing.T) {
	client, server := NewPair()

	id, err := client.OpenStream(http3.DirBidi)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)
	id, err = client.OpenStream(http3.DirBidi)
	require.NoError(t, err)
	require.Equal(t, uint64(4), id)
	id, err = client.OpenStream(http3.DirUni)
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)

	id, err = server.OpenStream(http3.DirBidi)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	id, err = server.OpenStream(http3.DirUni)
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)
}

func TestMemDataDelivery(t *testing.T) {
	ctx := testCtx(t)
	client, server := NewPair()

	id, err := client.OpenStream(http3.DirBidi)
	require.NoError(t, err)
	require.NoError(t, client.Send(id, []byte("request bytes")))
	require.NoError(t, client.CloseSend(id))

	ev, err := server.Receive(ctx)
	require.NoError(t, err)
	data := ev.(http3.StreamDataEvent)
	require.Equal(t, id, data.StreamID)
	require.Equal(t, http3.DirBidi, data.Dir)
	require.False(t, data.Local, "client-opened stream marked local on the server")
	require.Equal(t, []byte("request bytes"), data.Data)
	require.False(t, data.FIN)

	ev, err = server.Receive(ctx)
	require.NoError(t, err)
	fin := ev.(http3.StreamDataEvent)
	require.True(t, fin.FIN)
	require.Empty(t, fin.Data)

	// The response direction: the same stream is local on the client.
	require.NoError(t, server.Send(id, []byte("response")))
	ev, err = client.Receive(ctx)
	require.NoError(t, err)
	resp := ev.(http3.StreamDataEvent)
	require.True(t, resp.Local)
	require.Equal(t, []byte("response"), resp.Data)
}

func TestMemResetDelivery(t *testing.T) {
	ctx := testCtx(t)
	client, server := NewPair()
	id, err := server.OpenStream(http3.DirUni)
	require.NoError(t, err)
	require.NoError(t, server.ResetStream(id, http3.ErrCodeRequestCancelled))

	ev, err := client.Receive(ctx)
	require.NoError(t, err)
	reset := ev.(http3.StreamResetEvent)
	require.Equal(t, id, reset.StreamID)
	require.Equal(t, http3.ErrCodeRequestCancelled, reset.ErrorCode)
}

func TestMemClosePropagates(t *testing.T) {
	ctx := testCtx(t)
	client, server := NewPair()

	require.NoError(t, server.Close(http3.ErrCodeStreamCreationError, "duplicate control stream"))

	ev, err := client.Receive(ctx)
	require.NoError(t, err)
	closed := ev.(http3.ConnectionClosedEvent)
	require.True(t, closed.Remote)
	require.Equal(t, http3.ErrCodeStreamCreationError, closed.ErrorCode)
	require.Equal(t, "duplicate control stream", closed.Reason)

	ev, err = server.Receive(ctx)
	require.NoError(t, err)
	local := ev.(http3.ConnectionClosedEvent)
	require.False(t, local.Remote)

	// Everything after the close event fails.
	_, err = client.Receive(ctx)
	require.Error(t, err)
	_, err = client.OpenStream(http3.DirBidi)
	require.Error(t, err)
	require.Error(t, client.Send(0, []byte("x")))

	// Closing again is a no-op.
	require.NoError(t, server.Close(http3.ErrCodeNoError, ""))
}

func TestMemCloseDrainsBufferedEventsFirst(t *testing.T) {
	ctx := testCtx(t)
	client, server := NewPair()
	id, err := client.OpenStream(http3.DirBidi)
	require.NoError(t, err)
	require.NoError(t, client.Send(id, []byte("before close")))
	require.NoError(t, client.Close(http3.ErrCodeNoError, "bye"))

	ev, err := server.Receive(ctx)
	require.NoError(t, err)
	data := ev.(http3.StreamDataEvent)
	require.Equal(t, []byte("before close"), data.Data)

	ev, err = server.Receive(ctx)
	require.NoError(t, err)
	closed := ev.(http3.ConnectionClosedEvent)
	require.True(t, closed.Remote)
}

func TestMemPairDrivesSessions(t *testing.T) {
	ctx := testCtx(t)
	clientTr, serverTr := NewPair()
	client := http3.NewSession(clientTr, http3.PerspectiveClient, http3.SessionOptions{})
	server := http3.NewSession(serverTr, http3.PerspectiveServer, http3.SessionOptions{})

	ctrl, err := client.OpenControlStream()
	require.NoError(t, err)
	require.NoError(t, client.SendSettings(ctrl, http3.DefaultSettings()))

	ev, err := server.ReceiveEvent(ctx)
	require.NoError(t, err)
	opened := ev.(http3.StreamOpenedEvent)
	require.Equal(t, http3.RoleControl, opened.Stream.Role)

	ev, err = server.ReceiveEvent(ctx)
	require.NoError(t, err)
	fe := ev.(http3.FrameEvent)
	require.Equal(t, http3.FrameSettings, fe.Frame.Type)
	settings, err := http3.DecodeSettings(fe.Frame.Payload)
	require.NoError(t, err)
	require.Equal(t, http3.DefaultSettings(), settings)
}

func TestMemListener(t *testing.T) {
	ctx := testCtx(t)
	l := NewMemListener()

	client, err := l.Dial()
	require.NoError(t, err)
	serverSide, err := l.Accept(ctx)
	require.NoError(t, err)

	id, err := client.OpenStream(http3.DirUni)
	require.NoError(t, err)
	require.NoError(t, client.Send(id, []byte{0x00}))
	ev, err := serverSide.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, id, ev.(http3.StreamDataEvent).StreamID)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Accept(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
