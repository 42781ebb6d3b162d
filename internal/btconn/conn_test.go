package btconn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testInfoHash = [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	dialerID     = [20]byte{'D', 'I', 'A', 'L', 'E', 'R'}
	accepterID   = [20]byte{'A', 'C', 'C', 'E', 'P', 'T'}
)

func startAccepter(t *testing.T, hasInfoHash func([20]byte) bool) (addr net.Addr, result chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	result = make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			result <- err
			return
		}
		_, _, _, _, err = Accept(conn, time.Now().Add(5*time.Second), nil, hasInfoHash, [8]byte{}, func([20]byte) [20]byte { return accepterID })
		result <- err
		if err != nil {
			_ = conn.Close()
		}
	}()
	return ln.Addr(), result
}

func TestHandshakeRoundTrip(t *testing.T) {
	addr, result := startAccepter(t, func(ih [20]byte) bool { return ih == testInfoHash })

	conn, ext, peerID, err := Dial(addr, time.Now().Add(5*time.Second), nil, [8]byte{}, testInfoHash, dialerID)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	assert.Equal(t, accepterID, peerID)
	assert.Equal(t, [8]byte{}, ext)
	require.NoError(t, <-result)
}

func TestHandshakeInfoHashMismatch(t *testing.T) {
	addr, result := startAccepter(t, func([20]byte) bool { return false })

	_, _, _, err := Dial(addr, time.Now().Add(5*time.Second), nil, [8]byte{}, testInfoHash, dialerID)
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidInfoHash, <-result)
}

func TestOwnConnectionDetected(t *testing.T) {
	addr, _ := startAccepter(t, func(ih [20]byte) bool { return ih == testInfoHash })

	_, _, _, err := Dial(addr, time.Now().Add(5*time.Second), nil, [8]byte{}, testInfoHash, accepterID)
	assert.Equal(t, ErrOwnConnection, err)
}

func TestExtensionBitsExchanged(t *testing.T) {
	var ourExt [8]byte
	ourExt[5] = 0x10
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	extC := make(chan [8]byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, peerExt, _, _, err := Accept(conn, time.Now().Add(5*time.Second), nil,
			func([20]byte) bool { return true }, [8]byte{}, func([20]byte) [20]byte { return accepterID })
		if err == nil {
			extC <- peerExt
		}
	}()

	conn, _, _, err := Dial(ln.Addr(), time.Now().Add(5*time.Second), nil, ourExt, testInfoHash, dialerID)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, ourExt, <-extC)
}
