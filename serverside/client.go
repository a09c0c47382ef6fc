// Package serverside implements the server front (C9): the accept loop,
// per-client admission and wiring, and cleanup on control-channel loss.
package serverside

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"tunnelgate/linkstate"
	"tunnelgate/transport"
)

// ClientRecord is one admitted client's server-side state: its control
// channel, its own link registry, its liveness monitor, and the set of
// bind keys it currently participates in.
type ClientRecord struct {
	id      uint64
	keyHash string

	channel  *transport.Channel
	registry *linkstate.Registry
	liveness *transport.ServerLiveness
	log      *zap.Logger

	mu   sync.Mutex
	keys map[string]struct{}
}

func newClientRecord(id uint64, keyHash string, ch *transport.Channel, log *zap.Logger) *ClientRecord {
	return &ClientRecord{
		id:      id,
		keyHash: keyHash,
		channel: ch,
		log:     log,
		keys:    make(map[string]struct{}),
	}
}

// ID satisfies bindregistry.Client.
func (c *ClientRecord) ID() uint64 { return c.id }

// AcceptExternal satisfies bindregistry.Client: it registers conn as a
// new incoming link on this client's own registry, which emits OPEN to
// the client over its control channel.
func (c *ClientRecord) AcceptExternal(conn net.Conn) error {
	_, err := c.registry.OpenIncoming(conn)
	return err
}

// addKey records that client successfully bound key, for later Leave
// bookkeeping.
func (c *ClientRecord) addKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = struct{}{}
}

// keySlice returns a snapshot of every bind key this client currently
// participates in.
func (c *ClientRecord) keySlice() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	return keys
}
