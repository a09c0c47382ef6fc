package serverside

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"tunnelgate/admission"
	"tunnelgate/bindregistry"
	"tunnelgate/linkstate"
	"tunnelgate/transport"
	"tunnelgate/wire"
)

// Server is the listening gateway front: it accepts control channels,
// admits them against the allow-list, and wires each admitted client's
// link registry and liveness monitor into the shared bind registry.
type Server struct {
	listener  *transport.Listener
	allowlist *admission.AllowList
	binds     *bindregistry.Registry
	log       *zap.Logger

	nextID uint64

	mu      sync.Mutex
	clients map[uint64]*ClientRecord
}

// New constructs a Server around an already-open transport listener and
// allow-list; binds is typically shared process-wide.
func New(listener *transport.Listener, allowlist *admission.AllowList, binds *bindregistry.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		listener:  listener,
		allowlist: allowlist,
		binds:     binds,
		log:       log,
		clients:   make(map[uint64]*ClientRecord),
	}
}

// Serve accepts control channels until ctx is cancelled or the listener
// is closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, ch, err := s.listener.Accept(ctx)
		if err != nil {
			return err
		}
		go s.handle(ctx, conn, ch)
	}
}

func (s *Server) handle(ctx context.Context, conn quic.Connection, ch *transport.Channel) {
	keyHash, err := admission.Admit(ch.TLSConnectionState(), s.allowlist)
	if err != nil {
		s.log.Warn("rejecting control channel", zap.Error(err))
		_ = conn.CloseWithError(admission.CloseCode, admission.CloseReason(err))
		ch.Close()
		return
	}

	id := atomic.AddUint64(&s.nextID, 1)
	record := newClientRecord(id, keyHash, ch, s.log)
	record.registry = linkstate.NewRegistry(linkstate.RoleServer, ch.Send, nil, s.log)
	record.liveness = transport.NewServerLiveness(ch, s.log, func() {
		_ = conn.CloseWithError(1, "heartbeat silence timeout")
	})

	s.mu.Lock()
	s.clients[id] = record
	s.mu.Unlock()

	s.log.Info("client admitted", zap.Uint64("client_id", id), zap.String("key_hash", keyHash))
	record.liveness.Start()

	defer s.cleanup(record)

	for {
		f, err := ch.Recv()
		if err != nil {
			s.log.Info("control channel lost", zap.Uint64("client_id", id), zap.Error(err))
			return
		}
		record.liveness.NotifyAlive()
		s.dispatch(record, f)
	}
}

func (s *Server) dispatch(record *ClientRecord, f wire.Frame) {
	switch f.Type {
	case wire.TypeOpen:
		record.registry.HandleOpenAck(f.LinkID)
	case wire.TypeClose:
		record.registry.HandleClose(f.LinkID)
	case wire.TypeData:
		record.registry.HandleData(f.LinkID, f.Payload)
	case wire.TypePong:
		record.liveness.HandlePong()
	case wire.TypeBind:
		key, bound := s.binds.HandleBind(record, f.LinkID, f.Payload, record.channel.Send)
		if bound {
			record.addKey(key)
		}
	default:
		if !wire.KnownType(f.Type) {
			s.log.Warn("dropping frame of unknown type", zap.Uint32("type", f.Type))
		}
	}
}

func (s *Server) cleanup(record *ClientRecord) {
	record.liveness.Stop()
	record.registry.CloseAll()
	s.binds.Leave(record, record.keySlice())

	s.mu.Lock()
	delete(s.clients, record.id)
	s.mu.Unlock()

	record.channel.Close()
	s.log.Info("client torn down", zap.Uint64("client_id", record.id))
}

// ClientCount reports the number of currently admitted clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
