package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// ALPNProtocol is the single application protocol this gateway speaks; it
// exists only to satisfy quic-go's requirement that NextProtos be
// non-empty, not to negotiate anything.
const ALPNProtocol = "tunnelgate/1"

// QUICConfig returns the quic.Config shared by both dial and listen sides.
// MaxIdleTimeout is intentionally generous: the protocol's own 5s ping /
// 30s silence heartbeat (C3) is what detects a dead peer, not QUIC's own
// idle timer.
func QUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 0, // liveness is handled at the frame layer, not QUIC's
	}
}

// Listener accepts incoming control channels over QUIC.
type Listener struct {
	ql  *quic.Listener
	log *zap.Logger
}

// Listen opens a QUIC listener on addr. tlsConfig must request (but need
// not verify the chain of) the client certificate; admission decides
// acceptance after the connection is established (C7).
func Listen(addr string, tlsConfig *tls.Config, log *zap.Logger) (*Listener, error) {
	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPNProtocol}
	}
	ql, err := quic.ListenAddr(addr, cfg, QUICConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ql: ql, log: log}, nil
}

// Accept blocks for the next incoming QUIC connection and its single
// control stream, returning the raw quic.Connection (so the caller can
// inspect ConnectionState for admission, and close with a specific
// application error code on rejection) along with the wrapped Channel.
func (l *Listener) Accept(ctx context.Context) (quic.Connection, *Channel, error) {
	conn, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream not established")
		return nil, nil, err
	}
	tlsState := conn.ConnectionState().TLS
	ch := NewChannel(stream, &tlsState, l.log)
	return conn, ch, nil
}

// Close shuts down the listener; in-flight Accept calls return an error.
func (l *Listener) Close() error { return l.ql.Close() }

// Dial establishes a new control channel to addr and opens its single
// control stream.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config, log *zap.Logger) (quic.Connection, *Channel, error) {
	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPNProtocol}
	}
	conn, err := quic.DialAddr(ctx, addr, cfg, QUICConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open control stream")
		return nil, nil, err
	}
	tlsState := conn.ConnectionState().TLS
	ch := NewChannel(stream, &tlsState, log)
	return conn, ch, nil
}
