package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		T: "aa",
		Y: "q",
		Q: "get_peers",
		A: &QueryArgs{ID: make([]byte, 20), InfoHash: make([]byte, 20)},
	}
	b, err := EncodeMessage(m)
	require.NoError(t, err)
	assert.Equal(t, byte('d'), b[0])

	m2, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, "aa", m2.T)
	assert.Equal(t, "q", m2.Y)
	assert.Equal(t, "get_peers", m2.Q)
	require.NotNil(t, m2.A)
	assert.Len(t, m2.A.InfoHash, 20)
}

func TestErrorMessage(t *testing.T) {
	m := NewError("tx", ErrCodeProtocol, "invalid transaction id")
	b, err := EncodeMessage(m)
	require.NoError(t, err)
	m2, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, "e", m2.Y)
	code, msg := m2.ErrArgs()
	assert.Equal(t, int64(203), code)
	assert.Equal(t, "invalid transaction id", msg)
}

func TestCompactNodes(t *testing.T) {
	nodes := []CompactNode{
		{ID: [20]byte{1}, Addr: &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 6881}},
		{ID: [20]byte{2}, Addr: &net.UDPAddr{IP: net.IPv4(5, 6, 7, 8), Port: 51413}},
	}
	b := EncodeCompactNodes(nodes)
	assert.Len(t, b, 52)
	decoded, err := DecodeCompactNodes(b)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, nodes[0].ID, decoded[0].ID)
	assert.True(t, decoded[1].Addr.IP.Equal(net.IPv4(5, 6, 7, 8)))
	assert.Equal(t, 51413, decoded[1].Addr.Port)

	_, err = DecodeCompactNodes(b[:10])
	assert.Error(t, err)
}

func TestCompactPeers(t *testing.T) {
	a := &net.TCPAddr{IP: net.IPv4(9, 8, 7, 6), Port: 6889}
	v := EncodeCompactPeer(a)
	require.Len(t, v, 6)
	peers := DecodeCompactPeers([]string{v, "short"})
	require.Len(t, peers, 1)
	assert.True(t, peers[0].IP.Equal(a.IP))
	assert.Equal(t, a.Port, peers[0].Port)
}

func TestDistanceLess(t *testing.T) {
	var target, a, b [20]byte
	a[0] = 0x01
	b[0] = 0x02
	assert.True(t, DistanceLess(target, a, b))
	assert.False(t, DistanceLess(target, b, a))
	assert.False(t, DistanceLess(target, a, a))
}
