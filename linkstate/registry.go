package linkstate

import (
	"io"
	"math/rand"
	"net"
	"sync"

	"go.uber.org/zap"

	"tunnelgate/wire"
)

// SendFunc emits a frame on the owning control channel.
type SendFunc func(wire.Frame) error

// DialFunc opens a connection to the client's configured local
// destination; only used in RoleClient registries.
type DialFunc func() (net.Conn, error)

// Registry is the per-control-channel map of active links (C4), plus the
// operations that drive each link's state machine (C5).
type Registry struct {
	role Role
	send SendFunc
	dial DialFunc
	log  *zap.Logger

	mu    sync.Mutex
	links map[uint32]*link
}

// NewRegistry constructs a Registry bound to one control channel. dial is
// required for RoleClient and ignored for RoleServer.
func NewRegistry(role Role, send SendFunc, dial DialFunc, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		role:  role,
		send:  send,
		dial:  dial,
		log:   log,
		links: make(map[uint32]*link),
	}
}

// allocateIDLocked draws a random 32-bit id, retrying on collision with a
// currently live link (spec §5). Caller must hold r.mu.
func (r *Registry) allocateIDLocked() uint32 {
	for {
		id := rand.Uint32()
		if _, inUse := r.links[id]; !inUse {
			return id
		}
	}
}

// Len reports the number of currently live links; used by tests and by
// shutdown bookkeeping.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

// OpenIncoming registers a newly accepted external connection (server
// side only, triggered by a bind listener's accept) and emits OPEN(id)
// to the peer, then starts PumpLocal in its own goroutine to forward
// conn's bytes through LocalData.
func (r *Registry) OpenIncoming(conn net.Conn) (uint32, error) {
	r.mu.Lock()
	id := r.allocateIDLocked()
	r.links[id] = &link{id: id, conn: conn}
	r.mu.Unlock()

	if err := r.send(wire.Frame{Type: wire.TypeOpen, LinkID: id}); err != nil {
		r.mu.Lock()
		delete(r.links, id)
		r.mu.Unlock()
		conn.Close()
		return 0, err
	}
	go PumpLocal(r, id, conn)
	return id, nil
}

// HandleOpen processes a server->client OPEN(id): dial the local
// destination; on success, register the link as immediately confirmed
// (the client never buffers — it only starts writing to the socket once
// ready) and ack with OPEN(id); on dial failure, emit CLOSE(id).
//
// A second OPEN for an id that is already registered is a protocol
// error: the existing link is closed (spec §4.5 edge cases).
func (r *Registry) HandleOpen(id uint32) {
	r.mu.Lock()
	if _, exists := r.links[id]; exists {
		r.mu.Unlock()
		r.log.Warn("protocol error: duplicate OPEN for live link", zap.Uint32("link_id", id))
		r.closeLinkEmit(id)
		return
	}
	r.mu.Unlock()

	if r.dial == nil {
		r.log.Error("linkstate: HandleOpen called on a registry with no dialer")
		r.emitClose(id)
		return
	}
	conn, err := r.dial()
	if err != nil {
		r.log.Warn("local dial failed", zap.Uint32("link_id", id), zap.Error(err))
		r.emitClose(id)
		return
	}

	l := &link{id: id, conn: conn, confirmed: true}
	r.mu.Lock()
	r.links[id] = l
	r.mu.Unlock()

	if err := r.send(wire.Frame{Type: wire.TypeOpen, LinkID: id}); err != nil {
		r.CloseLocal(id)
		return
	}
	go PumpLocal(r, id, conn)
}

// HandleOpenAck processes the client's OPEN(id) ack (server side): marks
// the link confirmed and drains its early buffer, one DATA frame per
// originally buffered chunk, in arrival order, before returning — so no
// later DATA frame can be emitted ahead of the drain (spec §5 ordering
// requirement).
func (r *Registry) HandleOpenAck(id uint32) {
	r.mu.Lock()
	l, ok := r.links[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("OPEN ack for unknown link", zap.Uint32("link_id", id))
		return
	}
	if l.confirmed {
		r.mu.Unlock()
		r.log.Warn("protocol error: OPEN ack for already-ready link", zap.Uint32("link_id", id))
		r.closeLinkEmit(id)
		return
	}
	r.mu.Unlock()

	// The link stays unconfirmed until the queue is empty under the lock,
	// so concurrent LocalData calls keep buffering behind the drain.
	for {
		r.mu.Lock()
		if r.links[id] != l {
			r.mu.Unlock()
			return
		}
		chunks := l.earlyChunks
		l.earlyChunks = nil
		l.earlySize = 0
		if len(chunks) == 0 {
			l.confirmed = true
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		for _, chunk := range chunks {
			if err := r.send(wire.Frame{Type: wire.TypeData, LinkID: id, Payload: chunk}); err != nil {
				r.CloseLocal(id)
				return
			}
		}
	}
}

// HandleData processes a DATA frame received from the peer: delivered to
// the owned socket if confirmed, buffered (with the same 1 MiB cap) if
// still opening, dropped with a log if the link is unknown.
func (r *Registry) HandleData(id uint32, payload []byte) {
	r.mu.Lock()
	l, ok := r.links[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("DATA for unknown link, dropping", zap.Uint32("link_id", id))
		return
	}
	if l.confirmed {
		r.mu.Unlock()
		if _, err := writeAll(l.conn, payload); err != nil {
			r.CloseLocal(id)
		}
		return
	}
	overflow := bufferLocked(l, payload)
	r.mu.Unlock()
	if overflow {
		r.log.Warn("early buffer overflow from peer DATA, closing link", zap.Uint32("link_id", id))
		r.closeLinkEmit(id)
	}
}

// LocalData processes bytes read off the locally owned socket: sent
// immediately as DATA if confirmed, buffered under the same cap while
// unconfirmed (only reachable on the server, since the client never
// reads its local socket before it is READY).
func (r *Registry) LocalData(id uint32, payload []byte) {
	r.mu.Lock()
	l, ok := r.links[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if l.confirmed {
		r.mu.Unlock()
		if err := r.send(wire.Frame{Type: wire.TypeData, LinkID: id, Payload: payload}); err != nil {
			r.CloseLocal(id)
		}
		return
	}
	overflow := bufferLocked(l, payload)
	r.mu.Unlock()
	if overflow {
		r.log.Warn("early buffer overflow from local socket, closing link", zap.Uint32("link_id", id))
		r.closeLinkEmit(id)
	}
}

// bufferLocked appends payload to l's early queue, reports whether doing
// so exceeded MaxEarlyBuffer. Caller holds r.mu.
func bufferLocked(l *link, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	cp := append([]byte(nil), payload...)
	l.earlyChunks = append(l.earlyChunks, cp)
	l.earlySize += len(cp)
	return l.earlySize > MaxEarlyBuffer
}

// HandleClose processes a peer-initiated CLOSE(id): removes the link and
// closes its owned socket. Idempotent — a second CLOSE for the same id
// is a harmless no-op.
func (r *Registry) HandleClose(id uint32) {
	r.mu.Lock()
	l, ok := r.links[id]
	if ok {
		delete(r.links, id)
	}
	r.mu.Unlock()
	if ok {
		l.conn.Close()
	}
}

// CloseLocal ends the link because of a local socket close/error: removes
// the registry entry, closes the socket, and emits exactly one CLOSE
// frame. No-op if the link is already gone.
func (r *Registry) CloseLocal(id uint32) {
	r.mu.Lock()
	l, ok := r.links[id]
	if ok {
		delete(r.links, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	l.conn.Close()
	r.emitClose(id)
}

// closeLinkEmit is CloseLocal's internal twin used for protocol-error and
// overflow paths, where the link may or may not still be present.
func (r *Registry) closeLinkEmit(id uint32) {
	r.CloseLocal(id)
}

func (r *Registry) emitClose(id uint32) {
	if err := r.send(wire.Frame{Type: wire.TypeClose, LinkID: id}); err != nil {
		r.log.Debug("failed to emit CLOSE", zap.Uint32("link_id", id), zap.Error(err))
	}
}

// CloseAll closes every owned socket without emitting CLOSE frames,
// because the control channel itself is already gone (spec §3 invariant
// 4: no link outlives its owning channel).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	links := r.links
	r.links = make(map[uint32]*link)
	r.mu.Unlock()
	for _, l := range links {
		l.conn.Close()
	}
}

func writeAll(w io.Writer, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return w.Write(b)
}
