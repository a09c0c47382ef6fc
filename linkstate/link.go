// Package linkstate implements the per-control-channel stream registry
// (C4) and the lifecycle of one multiplexed stream (C5): open → ready →
// data → close, with early-data buffering while unconfirmed.
package linkstate

import "net"

// MaxEarlyBuffer is the bounded capacity of a link's early-data queue
// while it is unconfirmed (spec §3, §6).
const MaxEarlyBuffer = 1 << 20 // 1 MiB

// Role distinguishes the server's and client's view of a link; both
// sides share the same state machine. Which events reach a Registry is
// decided by the frame dispatchers in serverside and clientside; the
// Registry records its role but does not branch on it.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// link is one multiplexed stream. Confirmed is true once the OPEN
// round-trip completes; until then, bytes destined for the peer are
// queued in earlyChunks rather than sent.
type link struct {
	id        uint32
	conn      net.Conn
	confirmed bool

	// earlyChunks preserves arrival-order boundaries so the drain on
	// confirmation can emit "one DATA frame per buffered chunk in
	// arrival order" exactly as received, rather than one coalesced
	// frame (spec §4.4 onOpen_ack).
	earlyChunks [][]byte
	earlySize   int
}
