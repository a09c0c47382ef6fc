package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelgate/wire"
)

func pipeChannels(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	return NewChannel(a, nil, nil), NewChannel(b, nil, nil)
}

func TestChannelSendRecvRoundTrip(t *testing.T) {
	a, b := pipeChannels(t)
	defer a.Close()
	defer b.Close()

	want := wire.Frame{Type: wire.TypeData, LinkID: 5, Payload: []byte("payload")}
	errc := make(chan error, 1)
	go func() { errc <- a.Send(want) }()

	got, err := b.Recv()
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.LinkID, got.LinkID)
	assert.Equal(t, want.Payload, got.Payload)
}

func TestChannelSendOrderingSingleDirection(t *testing.T) {
	a, b := pipeChannels(t)
	defer a.Close()
	defer b.Close()

	const n = 20
	go func() {
		for i := uint32(0); i < n; i++ {
			_ = a.Send(wire.Frame{Type: wire.TypeData, LinkID: i})
		}
	}()
	for i := uint32(0); i < n; i++ {
		f, err := b.Recv()
		require.NoError(t, err)
		assert.Equal(t, i, f.LinkID)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	a, _ := pipeChannels(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	select {
	case <-a.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestServerLivenessDoesNotFireAfterStop(t *testing.T) {
	a, b := pipeChannels(t)
	defer a.Close()
	defer b.Close()

	go func() {
		for {
			if _, err := b.Recv(); err != nil {
				return
			}
			// never reply with a pong
		}
	}()

	done := make(chan struct{})
	lv := NewServerLiveness(a, nil, func() { close(done) })
	// shrink the windows for the test via direct ticker construction is not
	// exposed, so we just verify the monitor can be stopped cleanly instead
	// of waiting out the real 5s/30s production windows.
	lv.Start()
	lv.Stop()
	select {
	case <-done:
		t.Fatal("onTimeout should not fire after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
