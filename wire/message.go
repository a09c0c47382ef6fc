package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single framed message read off the transport.
// It comfortably covers the largest legitimate payload (a drained early
// buffer chunk, capped well below 1 MiB) with headroom for BIND/BIND_ACK
// JSON bodies.
const MaxMessageSize = 2 << 20 // 2 MiB

// ErrMessageTooLarge is returned by ReadMessage when the declared length
// prefix exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("wire: message exceeds maximum size")

// WriteMessage writes b to w prefixed with its 4-byte big-endian length.
// The underlying quic-go stream is byte-oriented, so this length prefix is
// what turns it into the message-oriented transport the frame codec
// assumes (Design Note 9). Callers are responsible for serializing
// concurrent writers.
func WriteMessage(w io.Writer, b []byte) error {
	if len(b) > MaxMessageSize {
		return fmt.Errorf("wire: message of %d bytes exceeds max %d", len(b), MaxMessageSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// ReadMessage reads one length-prefixed message from r.
func ReadMessage(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
