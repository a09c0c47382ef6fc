package serverside

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tunnelgate/bindregistry"
	"tunnelgate/linkstate"
	"tunnelgate/transport"
	"tunnelgate/wire"
)

func bindPayload(t *testing.T, host string, port uint16) []byte {
	t.Helper()
	buf := make([]byte, 2+len(host))
	binary.BigEndian.PutUint16(buf[0:2], port)
	copy(buf[2:], host)
	return buf
}

// newTestRecord wires a Server and one ClientRecord over a net.Pipe
// control channel, returning the peer-side Channel so the test can drain
// whatever the dispatcher sends back (BIND_ACK, etc).
func newTestRecord(t *testing.T) (*Server, *ClientRecord, *transport.Channel) {
	t.Helper()
	a, b := net.Pipe()
	ch := transport.NewChannel(a, nil, nil)
	peer := transport.NewChannel(b, nil, nil)

	s := &Server{
		binds:   bindregistry.New(nil),
		log:     zap.NewNop(),
		clients: make(map[uint64]*ClientRecord),
	}
	record := newClientRecord(1, "deadbeef", ch, nil)
	record.registry = linkstate.NewRegistry(linkstate.RoleServer, ch.Send, nil, nil)
	record.liveness = transport.NewServerLiveness(ch, nil, func() {})

	return s, record, peer
}

func TestDispatchBindTracksKeyOnSuccess(t *testing.T) {
	s, record, peer := newTestRecord(t)
	defer peer.Close()
	defer record.channel.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := peer.Recv() // drain BIND_ACK
		errc <- err
	}()

	s.dispatch(record, wire.Frame{Type: wire.TypeBind, LinkID: 42, Payload: bindPayload(t, "0.0.0.0", 9000)})
	require.NoError(t, <-errc)

	keys := record.keySlice()
	require.Len(t, keys, 1)
	assert.Equal(t, "0.0.0.0:9000", keys[0])
	assert.Equal(t, 1, s.binds.ListenerCount())

	s.binds.Leave(record, keys)
}

func TestDispatchUnknownFrameTypeIsDropped(t *testing.T) {
	s, record, peer := newTestRecord(t)
	defer peer.Close()
	defer record.channel.Close()

	assert.NotPanics(t, func() {
		s.dispatch(record, wire.Frame{Type: 999, LinkID: 1})
	})
}

func TestCleanupTearsDownBoundKeys(t *testing.T) {
	s, record, peer := newTestRecord(t)
	defer peer.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := peer.Recv()
		errc <- err
	}()
	s.dispatch(record, wire.Frame{Type: wire.TypeBind, LinkID: 1, Payload: bindPayload(t, "127.0.0.1", 9100)})
	require.NoError(t, <-errc)
	require.Equal(t, 1, s.binds.ListenerCount())

	s.clients[record.id] = record
	s.cleanup(record)

	assert.Eventually(t, func() bool {
		return s.binds.ListenerCount() == 0
	}, time.Second, 10*time.Millisecond)
}
