// Package udpmux shares one UDP socket between the DHT node and the UDP
// tracker transport.
//
// KRPC packets are bencoded dictionaries and start with 'd'; UDP tracker
// packets start with a 4-byte action whose first byte is never 'd'.
package udpmux

import (
	"net"

	"github.com/tidebt/tide/internal/logger"
)

// Handler consumes packets of one protocol.
type Handler func(b []byte, addr *net.UDPAddr)

// Mux reads from a packet socket and dispatches by payload shape.
type Mux struct {
	conn net.PacketConn
	log  logger.Logger

	krpc    Handler
	tracker Handler
	// Unreachable is called with addr whenever a send to it fails.
	// May be nil.
	Unreachable func(addr *net.UDPAddr)

	closeC chan struct{}
	doneC  chan struct{}
}

// New returns a Mux on conn. Handlers may be nil.
func New(conn net.PacketConn, krpc, tracker Handler) *Mux {
	return &Mux{
		conn:    conn,
		log:     logger.New("udpmux"),
		krpc:    krpc,
		tracker: tracker,
		closeC:  make(chan struct{}),
		doneC:   make(chan struct{}),
	}
}

// Addr returns the local address of the socket.
func (m *Mux) Addr() *net.UDPAddr { return m.conn.LocalAddr().(*net.UDPAddr) }

// WriteTo sends a datagram on the shared socket.
func (m *Mux) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	n, err := m.conn.WriteTo(b, addr)
	if err != nil && m.Unreachable != nil {
		m.Unreachable(addr)
	}
	return n, err
}

// Run reads packets until Close. Blocks; run in its own goroutine.
func (m *Mux) Run() {
	defer close(m.doneC)
	buf := make([]byte, 65536)
	for {
		n, addr, err := m.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-m.closeC:
				return
			default:
			}
			m.log.Debugln("udp read error:", err)
			continue
		}
		if n == 0 {
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		udpAddr, _ := addr.(*net.UDPAddr)
		if b[0] == 'd' {
			if m.krpc != nil {
				m.krpc(b, udpAddr)
			}
		} else if m.tracker != nil {
			m.tracker(b, udpAddr)
		}
	}
}

// Close stops the read loop and closes the socket.
func (m *Mux) Close() {
	close(m.closeC)
	_ = m.conn.Close()
	<-m.doneC
}
