// Package acceptor accepts incoming TCP connections and posts them to
// the session loop.
package acceptor

import (
	"net"

	"github.com/tidebt/tide/internal/logger"
)

// Acceptor runs an accept loop on one listener.
type Acceptor struct {
	listener net.Listener
	connC    chan<- net.Conn
	// ErrorC reports accept errors so the session can react to
	// resource exhaustion. Buffered.
	ErrorC chan error
	log    logger.Logger

	closeC chan struct{}
	doneC  chan struct{}
}

// New returns an Acceptor posting accepted conns to connC.
func New(listener net.Listener, connC chan<- net.Conn, l logger.Logger) *Acceptor {
	return &Acceptor{
		listener: listener,
		connC:    connC,
		ErrorC:   make(chan error, 1),
		log:      l,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Run accepts until Close. Blocks.
func (a *Acceptor) Run() {
	defer close(a.doneC)
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeC:
				return
			default:
			}
			select {
			case a.ErrorC <- err:
			default:
			}
			a.log.Errorln("accept error:", err)
			return
		}
		select {
		case a.connC <- conn:
		case <-a.closeC:
			_ = conn.Close()
			return
		}
	}
}

// Close stops the loop and closes the listener.
func (a *Acceptor) Close() {
	close(a.closeC)
	_ = a.listener.Close()
	<-a.doneC
}
