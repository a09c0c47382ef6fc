// Package bindregistry implements the server-only bind registry (C6): one
// listening TCP endpoint per "host:port", shared across whichever clients
// have asked for it, generating new links on every external accept.
package bindregistry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"tunnelgate/wire"
)

// acceptRateWindow/acceptRateLimit bound how many external connections a
// single source IP may open against one bound listener before being
// refused, adapted from the teacher's per-IP request counter in
// controller/server.go. This is a defensive addition on top of the bind
// registry's core sharing semantics, not a protocol requirement.
const (
	acceptRateWindow = 30 * time.Second
	acceptRateLimit  = 200
)

// Client is the subset of a server-side client record the bind registry
// needs: enough to hand it a freshly accepted external connection and to
// identify it for round-robin selection.
type Client interface {
	// ID uniquely and stably identifies this client for the lifetime of
	// its control channel.
	ID() uint64
	// AcceptExternal registers conn as a new incoming link on this
	// client's stream registry and emits OPEN to it.
	AcceptExternal(conn net.Conn) error
}

// entry is one shared bind: a single listener plus the ordered set of
// clients that currently own it.
type entry struct {
	key      string
	listener net.Listener

	mu      sync.Mutex
	order   []uint64         // stable participant order for round-robin
	clients map[uint64]Client
	next    int
}

// Registry is the server's map of bind keys to shared listeners (C6).
type Registry struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry

	throttle *gocache.Cache
}

// New constructs an empty bind registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log,
		entries:  make(map[string]*entry),
		throttle: gocache.New(acceptRateWindow, 2*acceptRateWindow),
	}
}

// ParseBindPayload decodes a BIND frame's payload: a 2-byte big-endian
// port followed by the UTF-8 host string with no length prefix (the host
// is simply the remainder of the payload).
func ParseBindPayload(payload []byte) (host string, port uint16, err error) {
	if len(payload) < 2 {
		return "", 0, fmt.Errorf("bindregistry: BIND payload too short (%d bytes)", len(payload))
	}
	port = binary.BigEndian.Uint16(payload[0:2])
	host = string(payload[2:])
	if host == "" {
		return "", 0, fmt.Errorf("bindregistry: BIND payload missing host")
	}
	return host, port, nil
}

func bindAckPayload(success bool, errMsg string) []byte {
	body := struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}{Success: success, Error: errMsg}
	b, _ := json.Marshal(body)
	return b
}

// HandleBind runs the algorithm of spec §4.6 for one BIND request from
// client, replying with a BIND_ACK that mirrors the request's link id. It
// returns the "host:port" key and whether the bind succeeded, so callers
// can track which keys a client participates in for later Leave calls.
func (r *Registry) HandleBind(client Client, requestLinkID uint32, payload []byte, reply func(wire.Frame) error) (key string, bound bool) {
	host, port, err := ParseBindPayload(payload)
	if err != nil {
		r.log.Warn("malformed BIND payload", zap.Error(err))
		reply(wire.Frame{Type: wire.TypeBindAck, LinkID: requestLinkID, Payload: bindAckPayload(false, err.Error())})
		return "", false
	}
	key = net.JoinHostPort(host, strconv.Itoa(int(port)))

	r.mu.Lock()
	e, exists := r.entries[key]
	if exists {
		r.mu.Unlock()
		e.addClient(client)
		reply(wire.Frame{Type: wire.TypeBindAck, LinkID: requestLinkID, Payload: bindAckPayload(true, "")})
		return key, true
	}

	listener, lerr := net.Listen("tcp", key)
	if lerr != nil {
		r.mu.Unlock()
		r.log.Warn("bind refused", zap.String("key", key), zap.Error(lerr))
		reply(wire.Frame{Type: wire.TypeBindAck, LinkID: requestLinkID, Payload: bindAckPayload(false, lerr.Error())})
		return "", false
	}
	e = &entry{key: key, listener: listener, clients: map[uint64]Client{}}
	e.addClient(client)
	r.entries[key] = e
	r.mu.Unlock()

	r.log.Info("bind established", zap.String("key", key), zap.Uint64("client", client.ID()))
	go r.acceptLoop(e)
	reply(wire.Frame{Type: wire.TypeBindAck, LinkID: requestLinkID, Payload: bindAckPayload(true, "")})
	return key, true
}

func (e *entry) addClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[c.ID()]; ok {
		return
	}
	e.clients[c.ID()] = c
	e.order = append(e.order, c.ID())
}

// removeClient drops the client with the given id from the entry's participant set and reports
// whether the entry is now empty (and so should be torn down).
func (e *entry) removeClient(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[id]; !ok {
		return len(e.clients) == 0
	}
	delete(e.clients, id)
	for i, cid := range e.order {
		if cid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if e.next >= len(e.order) {
		e.next = 0
	}
	return len(e.clients) == 0
}

// pick returns the next participant in round-robin order. Caller holds
// no lock; pick takes its own.
func (e *entry) pick() (Client, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.order) == 0 {
		return nil, false
	}
	if e.next >= len(e.order) {
		e.next = 0
	}
	id := e.order[e.next]
	e.next = (e.next + 1) % len(e.order)
	c, ok := e.clients[id]
	return c, ok
}

func (r *Registry) acceptLoop(e *entry) {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return // listener closed by Leave/teardown
		}
		if r.throttled(e.key, conn.RemoteAddr()) {
			r.log.Warn("accept-rate limit exceeded, refusing connection",
				zap.String("key", e.key), zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		client, ok := e.pick()
		if !ok {
			conn.Close()
			continue
		}
		if err := client.AcceptExternal(conn); err != nil {
			r.log.Warn("failed to register accepted connection", zap.Error(err))
			conn.Close()
		}
	}
}

func (r *Registry) throttled(key string, addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	k := key + "|" + host
	if count, err := r.throttle.IncrementInt(k, 1); err == nil {
		return count > acceptRateLimit
	}
	r.throttle.Set(k, 1, gocache.DefaultExpiration)
	return 1 > acceptRateLimit
}

// Leave removes client from every bind key it participates in. Entries
// that become empty have their listener closed and are removed — "lifetime
// = longest participant" (spec §3).
func (r *Registry) Leave(client Client, keys []string) {
	for _, key := range keys {
		r.mu.Lock()
		e, ok := r.entries[key]
		if !ok {
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		if empty := e.removeClient(client.ID()); empty {
			r.mu.Lock()
			// Re-check under the registry lock: another goroutine may have
			// re-added a client between removeClient and here.
			if cur, ok := r.entries[key]; ok && cur == e && len(e.order) == 0 {
				delete(r.entries, key)
				r.mu.Unlock()
				e.listener.Close()
				r.log.Info("bind torn down, last client left", zap.String("key", key))
				continue
			}
			r.mu.Unlock()
		}
	}
}

// ListenerCount reports the number of currently live shared listeners;
// exercised by tests asserting the "listeners == non-empty bind entries"
// invariant (spec §8).
func (r *Registry) ListenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys reports all currently bound "host:port" keys, for diagnostics.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}
