package linkstate

import (
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelgate/wire"
)

// fakeConn is a net.Conn whose Read blocks until Close is called, so the
// background PumpLocal goroutine started by the registry doesn't spin or
// panic on a nil embedded Conn; Close then unblocks it with io.EOF.
type fakeConn struct {
	net.Conn
	mu      sync.Mutex
	written []byte
	closed  bool
	readCh  chan struct{}
}

func newFakeConn() *fakeConn { return &fakeConn{readCh: make(chan struct{})} }

func (f *fakeConn) Read(p []byte) (int, error) {
	<-f.readCh
	return 0, io.EOF
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}
func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func collectingSend() (SendFunc, func() []wire.Frame) {
	var mu sync.Mutex
	var frames []wire.Frame
	return func(f wire.Frame) error {
			mu.Lock()
			defer mu.Unlock()
			frames = append(frames, f)
			return nil
		}, func() []wire.Frame {
			mu.Lock()
			defer mu.Unlock()
			return append([]wire.Frame(nil), frames...)
		}
}

func TestServerBufferDrainPreservesChunkOrder(t *testing.T) {
	send, frames := collectingSend()
	r := NewRegistry(RoleServer, send, nil, nil)

	conn := newFakeConn()
	id, err := r.OpenIncoming(conn)
	require.NoError(t, err)

	r.HandleData(id, []byte("one"))
	r.HandleData(id, []byte("two"))
	r.HandleData(id, []byte("three"))

	r.HandleOpenAck(id)

	var data [][]byte
	for _, f := range frames() {
		if f.Type == wire.TypeData {
			data = append(data, f.Payload)
		}
	}
	require.Len(t, data, 3)
	assert.Equal(t, "one", string(data[0]))
	assert.Equal(t, "two", string(data[1]))
	assert.Equal(t, "three", string(data[2]))
}

func TestServerEarlyBufferOverflowClosesLink(t *testing.T) {
	send, frames := collectingSend()
	r := NewRegistry(RoleServer, send, nil, nil)

	conn := newFakeConn()
	id, err := r.OpenIncoming(conn)
	require.NoError(t, err)

	chunk := make([]byte, 300*1024)
	r.HandleData(id, chunk)
	r.HandleData(id, chunk)
	r.HandleData(id, chunk)
	r.HandleData(id, chunk) // 1.2 MiB total, should overflow

	var closes int
	for _, f := range frames() {
		if f.Type == wire.TypeClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	assert.True(t, conn.closed)
	assert.Equal(t, 0, r.Len())
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	send, _ := collectingSend()
	r := NewRegistry(RoleServer, send, nil, nil)
	conn := newFakeConn()
	id, err := r.OpenIncoming(conn)
	require.NoError(t, err)

	r.HandleClose(id)
	assert.Equal(t, 0, r.Len())
	r.HandleClose(id) // must not panic or double-close
	assert.True(t, conn.closed)
}

func TestDuplicateOpenForReadyLinkIsProtocolError(t *testing.T) {
	send, frames := collectingSend()
	dialed := newFakeConn()
	r := NewRegistry(RoleClient, send, func() (net.Conn, error) { return dialed, nil }, nil)

	r.HandleOpen(7)
	require.Equal(t, 1, r.Len())

	r.HandleOpen(7) // duplicate: protocol error, close the link
	assert.Equal(t, 0, r.Len())

	var closes int
	for _, f := range frames() {
		if f.Type == wire.TypeClose && f.LinkID == 7 {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestClientDialFailureEmitsClose(t *testing.T) {
	send, frames := collectingSend()
	r := NewRegistry(RoleClient, send, func() (net.Conn, error) { return nil, assertErr }, nil)

	r.HandleOpen(3)
	assert.Equal(t, 0, r.Len())

	got := frames()
	require.Len(t, got, 1)
	assert.Equal(t, wire.TypeClose, got[0].Type)
	assert.Equal(t, uint32(3), got[0].LinkID)
}

var assertErr = &net.OpError{Op: "dial", Err: net.UnknownNetworkError("boom")}

func TestDataForUnknownLinkIsDropped(t *testing.T) {
	send, frames := collectingSend()
	r := NewRegistry(RoleServer, send, nil, nil)

	r.HandleData(999, []byte("x"))
	assert.Empty(t, frames())
}

func TestLinkIDZeroIsValid(t *testing.T) {
	send, _ := collectingSend()
	r := NewRegistry(RoleServer, send, nil, nil)
	conn := newFakeConn()
	r.mu.Lock()
	r.links[0] = &link{id: 0, conn: conn, confirmed: true}
	r.mu.Unlock()
	r.HandleData(0, []byte("hi"))
	assert.Equal(t, "hi", string(conn.written))
}
