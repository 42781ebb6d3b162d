// Package peerprotocol implements the BitTorrent wire protocol messages.
//
// Messages are length-prefixed: a 4-byte big-endian length, then the
// message id byte, then the payload. Length zero is a keep-alive.
package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxBlockSize is the maximum length allowed in a request message.
// Larger requests are a protocol violation.
const MaxBlockSize = 16 * 1024

var ErrMessageTooLarge = errors.New("received message too large")

// Message is a single wire message going out to a peer.
type Message interface {
	ID() MessageID
	// Payload returns the message bytes after the id byte.
	Payload() []byte
}

// Flags of the reserved bytes in the handshake.
const (
	// ExtensionBitFast is bit 2 of reserved byte 7 (BEP 6).
	ExtensionBitFast = 0x04
	// ExtensionBitDHT is bit 0 of reserved byte 7 (BEP 5).
	ExtensionBitDHT = 0x01
	// ExtensionBitExtended is bit 4 of reserved byte 5 (BEP 10).
	ExtensionBitExtended = 0x10
)

type ChokeMessage struct{}
type UnchokeMessage struct{}
type InterestedMessage struct{}
type NotInterestedMessage struct{}
type HaveAllMessage struct{}
type HaveNoneMessage struct{}

func (m ChokeMessage) ID() MessageID         { return Choke }
func (m UnchokeMessage) ID() MessageID       { return Unchoke }
func (m InterestedMessage) ID() MessageID    { return Interested }
func (m NotInterestedMessage) ID() MessageID { return NotInterested }
func (m HaveAllMessage) ID() MessageID       { return HaveAll }
func (m HaveNoneMessage) ID() MessageID      { return HaveNone }

func (m ChokeMessage) Payload() []byte         { return nil }
func (m UnchokeMessage) Payload() []byte       { return nil }
func (m InterestedMessage) Payload() []byte    { return nil }
func (m NotInterestedMessage) Payload() []byte { return nil }
func (m HaveAllMessage) Payload() []byte       { return nil }
func (m HaveNoneMessage) Payload() []byte      { return nil }

// HaveMessage announces possession of a verified piece.
type HaveMessage struct {
	Index uint32
}

func (m HaveMessage) ID() MessageID { return Have }
func (m HaveMessage) Payload() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b
}

// SuggestMessage suggests downloading a piece (BEP 6).
type SuggestMessage struct {
	Index uint32
}

func (m SuggestMessage) ID() MessageID   { return Suggest }
func (m SuggestMessage) Payload() []byte { return HaveMessage{m.Index}.Payload() }

// AllowedFastMessage permits a request while choked (BEP 6).
type AllowedFastMessage struct {
	Index uint32
}

func (m AllowedFastMessage) ID() MessageID   { return AllowedFast }
func (m AllowedFastMessage) Payload() []byte { return HaveMessage{m.Index}.Payload() }

// BitfieldMessage carries the sender's verified piece set.
type BitfieldMessage struct {
	Data []byte
}

func (m BitfieldMessage) ID() MessageID   { return Bitfield }
func (m BitfieldMessage) Payload() []byte { return m.Data }

// RequestMessage asks for a block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (m RequestMessage) ID() MessageID { return Request }
func (m RequestMessage) Payload() []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return b
}

func (m RequestMessage) String() string {
	return fmt.Sprintf("request piece=%d begin=%d length=%d", m.Index, m.Begin, m.Length)
}

// CancelMessage withdraws a previous request.
type CancelMessage struct {
	RequestMessage
}

func (m CancelMessage) ID() MessageID { return Cancel }

// RejectMessage refuses a request (BEP 6).
type RejectMessage struct {
	RequestMessage
}

func (m RejectMessage) ID() MessageID { return Reject }

// PieceMessage carries block data. Payload copies Data after the index
// and begin fields.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

func (m PieceMessage) ID() MessageID { return Piece }
func (m PieceMessage) Payload() []byte {
	b := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Data)
	return b
}

// PortMessage announces the UDP port of the sender's DHT node.
type PortMessage struct {
	Port uint16
}

func (m PortMessage) ID() MessageID { return Port }
func (m PortMessage) Payload() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.Port)
	return b
}

// ExtensionMessage wraps a BEP 10 extension payload.
type ExtensionMessage struct {
	ExtendedID uint8
	Data       []byte
}

func (m ExtensionMessage) ID() MessageID { return Extended }
func (m ExtensionMessage) Payload() []byte {
	b := make([]byte, 1+len(m.Data))
	b[0] = m.ExtendedID
	copy(b[1:], m.Data)
	return b
}

// KeepAlive is the zero-length message.
var KeepAlive = []byte{0, 0, 0, 0}

// WriteMessage frames and writes msg to w.
func WriteMessage(w io.Writer, msg Message) error {
	payload := msg.Payload()
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(1+len(payload)))
	header[4] = byte(msg.ID())
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage reads one framed message from r. A nil payload with ok=false
// means keep-alive. Payloads longer than maxLength are rejected without
// being read.
func ReadMessage(r io.Reader, maxLength uint32) (id MessageID, payload []byte, ok bool, err error) {
	var header [4]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return // keep-alive
	}
	if length > maxLength {
		err = ErrMessageTooLarge
		return
	}
	var idByte [1]byte
	if _, err = io.ReadFull(r, idByte[:]); err != nil {
		return
	}
	id = MessageID(idByte[0])
	ok = true
	length--
	if length == 0 {
		return
	}
	payload = make([]byte, length)
	_, err = io.ReadFull(r, payload)
	return
}

// ParseRequest decodes the index/begin/length triple of a request,
// cancel or reject payload.
func ParseRequest(payload []byte) (m RequestMessage, err error) {
	if len(payload) != 12 {
		err = fmt.Errorf("invalid request payload length: %d", len(payload))
		return
	}
	m.Index = binary.BigEndian.Uint32(payload[0:4])
	m.Begin = binary.BigEndian.Uint32(payload[4:8])
	m.Length = binary.BigEndian.Uint32(payload[8:12])
	return
}
