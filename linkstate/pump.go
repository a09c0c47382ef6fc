package linkstate

import (
	"io"
	"net"
)

// pumpBufferSize is the chunk size used when reading off an owned local
// socket. It is independent of MaxEarlyBuffer: many reads may accumulate
// into the early queue before the cap is hit.
const pumpBufferSize = 32 * 1024

// PumpLocal reads from conn until it errors or reaches EOF, forwarding
// every chunk to r.LocalData(id, ...), then tears the link down via
// CloseLocal. Callers start this in its own goroutine immediately after
// registering a link (OpenIncoming on the server, a successful dial in
// HandleOpen on the client) — per spec §5, one link's local reads must
// never block another link's on the same channel.
func PumpLocal(r *Registry, id uint32, conn net.Conn) {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			r.LocalData(id, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				r.log.Debug("local socket read error, closing link")
			}
			r.CloseLocal(id)
			return
		}
	}
}
