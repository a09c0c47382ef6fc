// Package wire implements the frame codec used on the control channel:
// an 8-byte header (type, link id) followed by an opaque payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame types. 0-2 and 10-11 are the wire-compatible set; 20-21 are our
// own liveness extension (see DESIGN.md, Open Question OQ-1).
const (
	TypeOpen    uint32 = 0 // server->client: new external conn; client->server: ready ack
	TypeClose   uint32 = 1
	TypeData    uint32 = 2
	TypeBind    uint32 = 10
	TypeBindAck uint32 = 11
	TypePing    uint32 = 20
	TypePong    uint32 = 21
)

// headerSize is the fixed 8-byte frame header: 4 bytes type + 4 bytes link id.
const headerSize = 8

// ErrMalformedFrame is returned when a byte slice is too short to contain
// a frame header.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// Frame is a single message on the control channel.
type Frame struct {
	Type    uint32
	LinkID  uint32
	Payload []byte
}

// KnownType reports whether t is one of the recognized frame types.
// Unrecognized types must be logged and ignored without disturbing the
// channel (spec §3).
func KnownType(t uint32) bool {
	switch t {
	case TypeOpen, TypeClose, TypeData, TypeBind, TypeBindAck, TypePing, TypePong:
		return true
	default:
		return false
	}
}

// Encode concatenates the two big-endian 32-bit header words and the payload.
func (f Frame) Encode() []byte {
	buf := make([]byte, headerSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.Type)
	binary.BigEndian.PutUint32(buf[4:8], f.LinkID)
	copy(buf[headerSize:], f.Payload)
	return buf
}

// DecodeFrame parses a frame from b. It fails with ErrMalformedFrame if
// b is shorter than the fixed header.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(b))
	}
	f := Frame{
		Type:   binary.BigEndian.Uint32(b[0:4]),
		LinkID: binary.BigEndian.Uint32(b[4:8]),
	}
	if len(b) > headerSize {
		f.Payload = append([]byte(nil), b[headerSize:]...)
	}
	return f, nil
}
