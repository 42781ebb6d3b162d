// Package peerreader reads and parses wire messages from a peer socket.
package peerreader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tidebt/tide/internal/bandwidth"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/peerprotocol"
	"github.com/tidebt/tide/internal/piece"
)

const (
	// Peers must send keep-alives to hold the connection open.
	readTimeout = 2 * time.Minute
	// length + id + longest fixed-size payload (request)
	readBufferSize = 4 + 1 + 12
)

// maxMessageLength bounds any single message: a block message or the
// bitfield of a very large torrent.
const maxMessageLength = piece.BlockSize + 256*1024

// ErrProtocol wraps fatal wire protocol violations.
var ErrProtocol = errors.New("protocol violation")

// PeerReader reads messages from the socket and posts them to a channel
// consumed by the session loop.
type PeerReader struct {
	conn     net.Conn
	r        io.Reader
	log      logger.Logger
	messages chan interface{}
	stopC    chan struct{}
	doneC    chan struct{}
	err      error
}

// New returns a PeerReader on conn, throttled by limiters.
func New(conn net.Conn, limiters []*bandwidth.Limiter, l logger.Logger) *PeerReader {
	var r io.Reader = bufio.NewReaderSize(conn, readBufferSize)
	r = bandwidth.Reader(r, limiters)
	return &PeerReader{
		conn:     conn,
		r:        r,
		log:      l,
		messages: make(chan interface{}),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Messages returns the channel of parsed messages. It is closed when
// the read loop ends.
func (p *PeerReader) Messages() <-chan interface{} { return p.messages }

// Err returns why the read loop ended.
func (p *PeerReader) Err() error { return p.err }

// Stop makes Run return.
func (p *PeerReader) Stop() { close(p.stopC) }

// Done is closed when Run returns.
func (p *PeerReader) Done() chan struct{} { return p.doneC }

// Run reads until error or Stop. Blocks.
func (p *PeerReader) Run() {
	defer close(p.doneC)
	defer close(p.messages)
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			p.err = err
			return
		}
		id, payload, ok, err := peerprotocol.ReadMessage(p.r, maxMessageLength)
		if err != nil {
			if err == peerprotocol.ErrMessageTooLarge {
				err = fmt.Errorf("%w: %s", ErrProtocol, err)
			}
			p.err = err
			return
		}
		if !ok {
			continue // keep-alive
		}
		msg, err := p.parseMessage(id, payload)
		if err != nil {
			p.err = err
			return
		}
		if msg == nil {
			continue
		}
		select {
		case p.messages <- msg:
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerReader) parseMessage(id peerprotocol.MessageID, payload []byte) (interface{}, error) {
	switch id {
	case peerprotocol.Choke:
		return peerprotocol.ChokeMessage{}, nil
	case peerprotocol.Unchoke:
		return peerprotocol.UnchokeMessage{}, nil
	case peerprotocol.Interested:
		return peerprotocol.InterestedMessage{}, nil
	case peerprotocol.NotInterested:
		return peerprotocol.NotInterestedMessage{}, nil
	case peerprotocol.HaveAll:
		return peerprotocol.HaveAllMessage{}, nil
	case peerprotocol.HaveNone:
		return peerprotocol.HaveNoneMessage{}, nil
	case peerprotocol.Have, peerprotocol.Suggest, peerprotocol.AllowedFast:
		if len(payload) != 4 {
			return nil, fmt.Errorf("%w: invalid %s payload", ErrProtocol, id)
		}
		index := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
		switch id {
		case peerprotocol.Suggest:
			return peerprotocol.SuggestMessage{Index: index}, nil
		case peerprotocol.AllowedFast:
			return peerprotocol.AllowedFastMessage{Index: index}, nil
		default:
			return peerprotocol.HaveMessage{Index: index}, nil
		}
	case peerprotocol.Bitfield:
		return peerprotocol.BitfieldMessage{Data: payload}, nil
	case peerprotocol.Request, peerprotocol.Cancel, peerprotocol.Reject:
		m, err := peerprotocol.ParseRequest(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrProtocol, err)
		}
		if m.Length > peerprotocol.MaxBlockSize {
			return nil, fmt.Errorf("%w: requested block too large: %d", ErrProtocol, m.Length)
		}
		switch id {
		case peerprotocol.Cancel:
			return peerprotocol.CancelMessage{RequestMessage: m}, nil
		case peerprotocol.Reject:
			return peerprotocol.RejectMessage{RequestMessage: m}, nil
		default:
			return m, nil
		}
	case peerprotocol.Piece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("%w: short piece payload", ErrProtocol)
		}
		index := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
		begin := uint32(payload[4])<<24 | uint32(payload[5])<<16 | uint32(payload[6])<<8 | uint32(payload[7])
		return peerprotocol.PieceMessage{Index: index, Begin: begin, Data: payload[8:]}, nil
	case peerprotocol.Port:
		if len(payload) != 2 {
			return nil, fmt.Errorf("%w: invalid port payload", ErrProtocol)
		}
		return peerprotocol.PortMessage{Port: uint16(payload[0])<<8 | uint16(payload[1])}, nil
	case peerprotocol.Extended:
		if len(payload) < 1 {
			return nil, fmt.Errorf("%w: empty extended payload", ErrProtocol)
		}
		return peerprotocol.ExtensionMessage{ExtendedID: payload[0], Data: payload[1:]}, nil
	default:
		p.log.Debugf("unhandled message type: %s", id)
		return nil, nil
	}
}
