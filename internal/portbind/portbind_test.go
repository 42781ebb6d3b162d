package portbind

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFirstFreePort(t *testing.T) {
	ln, port, err := ListenTCP("127.0.0.1", 0, 0, true)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	assert.NotZero(t, port)
	assert.Equal(t, port, ln.Addr().(*net.TCPAddr).Port)
}

func TestBindRetryIncrementsPort(t *testing.T) {
	// Occupy a port, then ask for it: the next port must be chosen.
	busy, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	ln, port, err := ListenTCP("127.0.0.1", busyPort, 3, false)
	if err != nil {
		// The next port may be taken by another process; nothing to
		// assert in that case.
		t.Skipf("cannot bind near %d: %s", busyPort, err)
	}
	defer func() { _ = ln.Close() }()
	assert.Equal(t, busyPort+1, port)
}

func TestBindFallbackToAnyPort(t *testing.T) {
	busy, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	// No retries allowed, fall back to an OS-chosen port.
	ln, port, err := ListenTCP("127.0.0.1", busyPort, 0, true)
	if err != nil {
		t.Skipf("cannot bind: %s", err)
	}
	defer func() { _ = ln.Close() }()
	assert.NotEqual(t, busyPort, port)
}

func TestResolveDevicePassthrough(t *testing.T) {
	host, err := ResolveDevice("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	host, err = ResolveDevice("")
	require.NoError(t, err)
	assert.Equal(t, "", host)
}
