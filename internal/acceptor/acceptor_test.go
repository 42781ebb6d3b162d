package acceptor

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/tidebt/tide/internal/logger"
)

func TestAcceptAndClose(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	connC := make(chan net.Conn, 1)
	a := New(ln, connC, logger.New("test acceptor"))
	go a.Run()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer func() { _ = dialed.Close() }()

	select {
	case conn := <-connC:
		_ = conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
	}
	a.Close()
}

func TestCloseWithoutConnections(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := New(ln, make(chan net.Conn), logger.New("test acceptor"))
	go a.Run()
	time.Sleep(50 * time.Millisecond)
	a.Close()
}
