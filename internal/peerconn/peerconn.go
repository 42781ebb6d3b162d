// Package peerconn wraps a peer socket with a message reader and writer.
package peerconn

import (
	"io"
	"net"

	"github.com/tidebt/tide/internal/bandwidth"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/peerconn/peerreader"
	"github.com/tidebt/tide/internal/peerconn/peerwriter"
	"github.com/tidebt/tide/internal/peerprotocol"
)

// Conn is a peer connection that provides a channel for receiving
// messages and methods for sending messages.
type Conn struct {
	conn   net.Conn
	reader *peerreader.PeerReader
	writer *peerwriter.PeerWriter
	log    logger.Logger
	closeC chan struct{}
	doneC  chan struct{}
}

// New wraps conn. limiters throttle both directions.
func New(conn net.Conn, limiters []*bandwidth.Limiter, maxQueuedUploads int, l logger.Logger) *Conn {
	return &Conn{
		conn:   conn,
		reader: peerreader.New(conn, limiters, l),
		writer: peerwriter.New(conn, limiters, maxQueuedUploads, l),
		log:    l,
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

// Addr returns the remote address.
func (p *Conn) Addr() *net.TCPAddr { return p.conn.RemoteAddr().(*net.TCPAddr) }

// LocalAddr returns the local address.
func (p *Conn) LocalAddr() *net.TCPAddr { return p.conn.LocalAddr().(*net.TCPAddr) }

// IP returns the remote IP as a string.
func (p *Conn) IP() string { return p.Addr().IP.String() }

func (p *Conn) String() string { return p.conn.RemoteAddr().String() }

// Logger returns the connection's logger.
func (p *Conn) Logger() logger.Logger { return p.log }

// Messages returns the channel of received messages. The channel is
// closed when the connection dies.
func (p *Conn) Messages() <-chan interface{} { return p.reader.Messages() }

// Error returns the transport error that ended the connection, if any.
func (p *Conn) Error() error {
	if err := p.reader.Err(); err != nil {
		return err
	}
	return p.writer.Err()
}

// SendMessage queues msg for sending. Does not block.
func (p *Conn) SendMessage(msg peerprotocol.Message) { p.writer.SendMessage(msg) }

// SendPiece queues a block upload; data is read at send time.
func (p *Conn) SendPiece(index, begin, length uint32, data io.ReaderAt) {
	p.writer.SendPiece(index, begin, length, data)
}

// CancelRequest removes a queued upload matching msg.
func (p *Conn) CancelRequest(msg peerprotocol.CancelMessage) { p.writer.CancelRequest(msg) }

// Run services the connection until an error or Close. Blocks.
func (p *Conn) Run() {
	defer close(p.doneC)

	go p.reader.Run()
	defer func() { <-p.reader.Done() }()

	go p.writer.Run()
	defer func() { <-p.writer.Done() }()

	defer func() { _ = p.conn.Close() }()

	select {
	case <-p.reader.Done():
	case <-p.writer.Done():
	case <-p.closeC:
	}
	// Closing the socket unblocks whichever loop is still running.
	_ = p.conn.Close()
	p.reader.Stop()
	p.writer.Stop()
}

// Close stops the loops and closes the socket. Blocks until Run returns.
func (p *Conn) Close() {
	close(p.closeC)
	<-p.doneC
}

// CloseAsync triggers shutdown without waiting.
func (p *Conn) CloseAsync() {
	select {
	case <-p.closeC:
	default:
		close(p.closeC)
	}
}
