package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypeOpen, LinkID: 0, Payload: nil},
		{Type: TypeData, LinkID: 42, Payload: []byte("hello")},
		{Type: TypeBind, LinkID: 7, Payload: append([]byte{0x23, 0x28}, []byte("127.0.0.1")...)},
	}
	for _, c := range cases {
		got, err := DecodeFrame(c.Encode())
		require.NoError(t, err)
		assert.Equal(t, c.Type, got.Type)
		assert.Equal(t, c.LinkID, got.LinkID)
		if len(c.Payload) == 0 {
			assert.Empty(t, got.Payload)
		} else {
			assert.Equal(t, c.Payload, got.Payload)
		}
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(TypeOpen))
	assert.True(t, KnownType(TypePong))
	assert.False(t, KnownType(99))
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := [][]byte{nil, []byte("a"), bytes.Repeat([]byte("x"), 70000)}
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&buf, m))
	}
	for _, want := range msgs {
		got, err := ReadMessage(&buf)
		require.NoError(t, err)
		if len(want) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, want, got)
		}
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge declared length, no body
	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}
