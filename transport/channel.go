// Package transport implements the control channel (C2): a single
// full-duplex, ordered, message-framed link between two mutually
// authenticated peers, plus its liveness monitor (C3).
package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"tunnelgate/wire"
)

// FrameStream is the minimal surface a Channel needs from its underlying
// transport: a byte-oriented, ordered, reliable duplex stream. quic-go's
// quic.Stream satisfies this directly; tests use net.Pipe.
type FrameStream interface {
	io.Reader
	io.Writer
	Close() error
}

// Channel is one control channel. It owns exclusive write access to the
// underlying stream (sends from multiple producers are serialized) and
// exposes a blocking Recv for the single consumer loop.
type Channel struct {
	stream FrameStream
	tls    *tls.ConnectionState // nil for test streams that aren't real TLS
	log    *zap.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewChannel wraps stream as a Channel. tlsState may be nil (e.g. in unit
// tests); production callers pass the peer's TLS connection state so
// admission can inspect the peer certificate.
func NewChannel(stream FrameStream, tlsState *tls.ConnectionState, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		stream: stream,
		tls:    tlsState,
		log:    log,
		done:   make(chan struct{}),
	}
}

// TLSConnectionState returns the peer's TLS state, or nil if the channel
// was not built over a real TLS transport.
func (c *Channel) TLSConnectionState() *tls.ConnectionState { return c.tls }

// Send writes f to the channel. Safe for concurrent use by multiple
// producers; frames from a single direction are delivered in send order.
func (c *Channel) Send(f wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return errors.New("transport: channel closed")
	default:
	}
	return wire.WriteMessage(c.stream, f.Encode())
}

// Recv blocks until a whole frame has been read, or the underlying stream
// errors/closes. Only the channel's single reader goroutine should call
// this.
func (c *Channel) Recv() (wire.Frame, error) {
	msg, err := wire.ReadMessage(c.stream)
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.DecodeFrame(msg)
}

// Close releases the underlying stream. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// Done returns a channel closed once Close has run.
func (c *Channel) Done() <-chan struct{} { return c.done }
