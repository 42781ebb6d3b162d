// Package peerwriter serializes and sends wire messages to a peer
// socket from a queue.
package peerwriter

import (
	"container/list"
	"io"
	"net"
	"time"

	"github.com/tidebt/tide/internal/bandwidth"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/peerprotocol"
)

const keepAlivePeriod = 2 * time.Minute

// Piece is a queued piece upload. The block data is read from the
// storage handle just before hitting the wire so queued uploads do not
// pin buffers.
type Piece struct {
	Data   io.ReaderAt
	Index  uint32
	Begin  uint32
	Length uint32
}

// ID implements peerprotocol.Message.
func (p Piece) ID() peerprotocol.MessageID { return peerprotocol.Piece }

// Payload implements peerprotocol.Message.
func (p Piece) Payload() []byte {
	buf := make([]byte, 8+p.Length)
	buf[0] = byte(p.Index >> 24)
	buf[1] = byte(p.Index >> 16)
	buf[2] = byte(p.Index >> 8)
	buf[3] = byte(p.Index)
	buf[4] = byte(p.Begin >> 24)
	buf[5] = byte(p.Begin >> 16)
	buf[6] = byte(p.Begin >> 8)
	buf[7] = byte(p.Begin)
	_, _ = p.Data.ReadAt(buf[8:], int64(p.Begin))
	return buf
}

// PeerWriter keeps an ordered queue of outgoing messages.
type PeerWriter struct {
	conn          net.Conn
	w             io.Writer
	maxQueuedUploads int
	queueC        chan peerprotocol.Message
	cancelC       chan peerprotocol.CancelMessage
	writeQueue    *list.List
	writeC        chan peerprotocol.Message
	log           logger.Logger
	stopC         chan struct{}
	doneC         chan struct{}
	err           error
}

// New returns a PeerWriter on conn, throttled by limiters.
// At most maxQueuedUploads piece messages are held; excess uploads are
// dropped oldest-first, matching a peer that over-requests.
func New(conn net.Conn, limiters []*bandwidth.Limiter, maxQueuedUploads int, l logger.Logger) *PeerWriter {
	return &PeerWriter{
		conn:             conn,
		w:                bandwidth.Writer(conn, limiters),
		maxQueuedUploads: maxQueuedUploads,
		queueC:           make(chan peerprotocol.Message),
		cancelC:          make(chan peerprotocol.CancelMessage),
		writeQueue:       list.New(),
		writeC:           make(chan peerprotocol.Message),
		log:              l,
		stopC:            make(chan struct{}),
		doneC:            make(chan struct{}),
	}
}

// Err returns why the write loop ended.
func (p *PeerWriter) Err() error { return p.err }

// SendMessage queues msg. Does not block after shutdown.
func (p *PeerWriter) SendMessage(msg peerprotocol.Message) {
	select {
	case p.queueC <- msg:
	case <-p.doneC:
	}
}

// SendPiece queues a piece upload reading from data at send time.
func (p *PeerWriter) SendPiece(index, begin, length uint32, data io.ReaderAt) {
	p.SendMessage(Piece{Data: data, Index: index, Begin: begin, Length: length})
}

// CancelRequest drops a queued upload matching msg.
func (p *PeerWriter) CancelRequest(msg peerprotocol.CancelMessage) {
	select {
	case p.cancelC <- msg:
	case <-p.doneC:
	}
}

// Stop makes Run return.
func (p *PeerWriter) Stop() { close(p.stopC) }

// Done is closed when Run returns.
func (p *PeerWriter) Done() chan struct{} { return p.doneC }

// Run queues and writes messages until error or Stop. Blocks.
func (p *PeerWriter) Run() {
	defer close(p.doneC)

	writerDone := make(chan struct{})
	go p.messageWriter(writerDone)
	defer func() { <-writerDone }()
	defer close(p.writeC)

	for {
		var (
			e      *list.Element
			msg    peerprotocol.Message
			writeC chan peerprotocol.Message
		)
		if p.writeQueue.Len() > 0 {
			e = p.writeQueue.Front()
			msg = e.Value.(peerprotocol.Message)
			writeC = p.writeC
		}
		select {
		case m := <-p.queueC:
			p.queueMessage(m)
		case writeC <- msg:
			p.writeQueue.Remove(e)
		case cm := <-p.cancelC:
			p.cancelRequest(cm)
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) queueMessage(msg peerprotocol.Message) {
	// Choking withdraws queued uploads.
	if _, ok := msg.(peerprotocol.ChokeMessage); ok {
		p.dropQueuedPieces()
	}
	if _, ok := msg.(Piece); ok && p.numQueuedPieces() >= p.maxQueuedUploads {
		p.log.Debugln("upload queue full, dropping oldest piece")
		p.dropOldestPiece()
	}
	p.writeQueue.PushBack(msg)
}

func (p *PeerWriter) numQueuedPieces() (n int) {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if _, ok := e.Value.(Piece); ok {
			n++
		}
	}
	return
}

func (p *PeerWriter) dropQueuedPieces() {
	for e := p.writeQueue.Front(); e != nil; {
		next := e.Next()
		if _, ok := e.Value.(Piece); ok {
			p.writeQueue.Remove(e)
		}
		e = next
	}
}

func (p *PeerWriter) dropOldestPiece() {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if _, ok := e.Value.(Piece); ok {
			p.writeQueue.Remove(e)
			return
		}
	}
}

func (p *PeerWriter) cancelRequest(cm peerprotocol.CancelMessage) {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if pi, ok := e.Value.(Piece); ok && pi.Index == cm.Index && pi.Begin == cm.Begin && pi.Length == cm.Length {
			p.writeQueue.Remove(e)
			return
		}
	}
}

// messageWriter owns the socket writes and the keep-alive timer.
func (p *PeerWriter) messageWriter(done chan struct{}) {
	defer close(done)

	keepAlive := time.NewTicker(keepAlivePeriod / 2)
	defer keepAlive.Stop()

	for {
		select {
		case msg, ok := <-p.writeC:
			if !ok {
				return
			}
			if err := peerprotocol.WriteMessage(p.w, msg); err != nil {
				p.err = err
				p.drain()
				return
			}
		case <-keepAlive.C:
			if _, err := p.w.Write(peerprotocol.KeepAlive); err != nil {
				p.err = err
				p.drain()
				return
			}
		}
	}
}

// drain discards queued messages after a write error so Run never
// blocks sending to writeC.
func (p *PeerWriter) drain() {
	for range p.writeC {
	}
}
