package clientside

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"tunnelgate/linkstate"
	"tunnelgate/transport"
	"tunnelgate/wire"
)

// Config holds everything the client dialer needs to run one proxy rule
// end to end.
type Config struct {
	RemoteAddr string // "host:port" of the server's control endpoint
	Rule       Rule
	TLSConfig  *tls.Config
	Logger     *zap.Logger
}

// bindAckBody mirrors the JSON BIND_ACK payload described in spec §4.6.
type bindAckBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Run dials the server, performs the BIND handshake, and then serves
// OPEN/DATA/CLOSE frames until the control channel is lost or heartbeat
// starvation is detected. It returns a non-zero-worthy error in every
// case except a context cancellation requested by the caller — the
// client is deliberately crash-only (spec §4.8): no transparent
// reconnection, no stream resumption.
func Run(ctx context.Context, cfg Config) error {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	conn, ch, err := transport.Dial(ctx, cfg.RemoteAddr, cfg.TLSConfig, log)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("clientside: dial %s: %w", cfg.RemoteAddr, err)
	}
	defer ch.Close()
	stopOnCancel := context.AfterFunc(ctx, func() { closeWithReason(conn, 0, "client shutting down") })
	defer stopOnCancel()

	dial := func() (net.Conn, error) {
		return fastDial(ctx, cfg.Rule.LocalAddr())
	}
	registry := linkstate.NewRegistry(linkstate.RoleClient, ch.Send, dial, log)

	if err := performBindHandshake(ch, cfg.Rule); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		closeWithReason(conn, 1, err.Error())
		return err
	}
	log.Info("bind established", zap.String("bind_addr", cfg.Rule.BindAddr()), zap.String("local_addr", cfg.Rule.LocalAddr()))

	var expired atomic.Bool
	liveness := transport.NewClientLiveness(ch, log, func() {
		expired.Store(true)
		closeWithReason(conn, 1, "heartbeat silence timeout")
	})
	liveness.Start()
	defer liveness.Stop()

	for {
		f, err := ch.Recv()
		if err != nil {
			registry.CloseAll()
			if ctx.Err() != nil {
				return nil
			}
			if expired.Load() {
				return fmt.Errorf("clientside: heartbeat starvation, control channel torn down")
			}
			return fmt.Errorf("clientside: control channel lost: %w", err)
		}
		dispatch(registry, liveness, log, f)
	}
}

func dispatch(registry *linkstate.Registry, liveness *transport.ClientLiveness, log *zap.Logger, f wire.Frame) {
	switch f.Type {
	case wire.TypeOpen:
		registry.HandleOpen(f.LinkID)
	case wire.TypeClose:
		registry.HandleClose(f.LinkID)
	case wire.TypeData:
		registry.HandleData(f.LinkID, f.Payload)
	case wire.TypePing:
		if err := liveness.HandlePing(); err != nil {
			log.Warn("failed to send pong", zap.Error(err))
		}
	case wire.TypeBindAck:
		log.Debug("ignoring unexpected BIND_ACK after handshake", zap.Uint32("link_id", f.LinkID))
	default:
		if !wire.KnownType(f.Type) {
			log.Warn("dropping frame of unknown type", zap.Uint32("type", f.Type))
		}
	}
}

func performBindHandshake(ch *transport.Channel, rule Rule) error {
	reqID := rand.Uint32()
	payload := bindRequestPayload(rule.BindHost, rule.BindPort)
	if err := ch.Send(wire.Frame{Type: wire.TypeBind, LinkID: reqID, Payload: payload}); err != nil {
		return fmt.Errorf("clientside: sending BIND: %w", err)
	}

	for {
		f, err := ch.Recv()
		if err != nil {
			return fmt.Errorf("clientside: control channel lost awaiting BIND_ACK: %w", err)
		}
		if f.Type != wire.TypeBindAck {
			// Nothing else is legal before the handshake completes; ignore
			// and keep waiting rather than disturb the channel.
			continue
		}
		if f.LinkID != reqID {
			continue
		}
		var body bindAckBody
		if err := json.Unmarshal(f.Payload, &body); err != nil {
			return fmt.Errorf("clientside: malformed BIND_ACK: %w", err)
		}
		if !body.Success {
			return fmt.Errorf("clientside: bind refused: %s", body.Error)
		}
		return nil
	}
}

func bindRequestPayload(host string, port uint16) []byte {
	buf := make([]byte, 2+len(host))
	binary.BigEndian.PutUint16(buf[0:2], port)
	copy(buf[2:], host)
	return buf
}

func closeWithReason(conn quic.Connection, code quic.ApplicationErrorCode, reason string) {
	_ = conn.CloseWithError(code, reason)
}
