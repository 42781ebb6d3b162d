package addrlist

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebt/tide/internal/peersource"
)

func tcpAddr(port int) *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port}
}

func TestPopFreshestFirst(t *testing.T) {
	al := New(10)
	t0 := time.Now()
	al.Push([]*net.TCPAddr{tcpAddr(1001)}, peersource.Tracker, t0)
	al.Push([]*net.TCPAddr{tcpAddr(1002)}, peersource.DHT, t0.Add(time.Second))

	addr, src := al.Pop()
	require.NotNil(t, addr)
	assert.Equal(t, 1002, addr.Port)
	assert.Equal(t, peersource.DHT, src)

	addr, _ = al.Pop()
	assert.Equal(t, 1001, addr.Port)

	addr, _ = al.Pop()
	assert.Nil(t, addr)
}

func TestDedup(t *testing.T) {
	al := New(10)
	now := time.Now()
	al.Push([]*net.TCPAddr{tcpAddr(1001), tcpAddr(1001)}, peersource.Tracker, now)
	al.Push([]*net.TCPAddr{tcpAddr(1001)}, peersource.PEX, now.Add(time.Second))
	assert.Equal(t, 1, al.Len())
}

func TestBounded(t *testing.T) {
	al := New(2)
	now := time.Now()
	for i := 0; i < 5; i++ {
		al.Push([]*net.TCPAddr{tcpAddr(2000 + i)}, peersource.Tracker, now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 2, al.Len())
	// The stalest entries were dropped.
	addr, _ := al.Pop()
	assert.Equal(t, 2004, addr.Port)
	addr, _ = al.Pop()
	assert.Equal(t, 2003, addr.Port)
}

func TestFilterAndZeroPort(t *testing.T) {
	al := New(10)
	al.Filter = func(a *net.TCPAddr) bool { return a.Port != 1001 }
	now := time.Now()
	al.Push([]*net.TCPAddr{tcpAddr(1001), tcpAddr(1002), {IP: net.IPv4(1, 2, 3, 4), Port: 0}}, peersource.Tracker, now)
	assert.Equal(t, 1, al.Len())
}
