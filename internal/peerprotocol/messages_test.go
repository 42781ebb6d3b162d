package peerprotocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, RequestMessage{Index: 1, Begin: 16384, Length: 16384}))

	id, payload, ok, err := ReadMessage(&buf, 1024)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Request, id)

	m, err := ParseRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), m.Index)
	assert.Equal(t, uint32(16384), m.Begin)
	assert.Equal(t, uint32(16384), m.Length)
}

func TestKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(KeepAlive)
	_, _, ok, err := ReadMessage(&buf, 1024)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, BitfieldMessage{Data: make([]byte, 2048)}))
	_, _, _, err := ReadMessage(&buf, 1024)
	assert.Equal(t, ErrMessageTooLarge, err)
}

func TestPiecePayload(t *testing.T) {
	m := PieceMessage{Index: 7, Begin: 16384, Data: []byte{1, 2, 3}}
	p := m.Payload()
	require.Len(t, p, 11)
	assert.Equal(t, byte(7), p[3])
	assert.Equal(t, []byte{1, 2, 3}, p[8:])
}

func TestExtendedHandshakeRoundTrip(t *testing.T) {
	eh := NewExtendedHandshake("tide/0.1", 6881, nil, 250)
	msg, err := eh.Encode()
	require.NoError(t, err)
	assert.Equal(t, uint8(ExtensionHandshakeID), msg.ExtendedID)

	got, err := DecodeExtendedHandshake(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, "tide/0.1", got.V)
	assert.Equal(t, uint16(6881), got.P)
	assert.Equal(t, 250, got.RequestQueue)
	assert.Equal(t, uint8(1), got.M[ExtensionKeyMetadata])
	assert.Equal(t, uint8(2), got.M[ExtensionKeyPEX])
}
