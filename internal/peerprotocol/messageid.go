package peerprotocol

import "strconv"

// MessageID is the first byte of a non-keepalive wire message.
type MessageID uint8

// Peer message types
const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

// Fast extension (BEP 6) message types
const (
	Suggest MessageID = iota + 13
	HaveAll
	HaveNone
	Reject
	AllowedFast
)

// Extension protocol (BEP 10) message type
const Extended MessageID = 20

var names = map[MessageID]string{
	Choke:         "choke",
	Unchoke:       "unchoke",
	Interested:    "interested",
	NotInterested: "not interested",
	Have:          "have",
	Bitfield:      "bitfield",
	Request:       "request",
	Piece:         "piece",
	Cancel:        "cancel",
	Port:          "port",
	Suggest:       "suggest",
	HaveAll:       "have all",
	HaveNone:      "have none",
	Reject:        "reject",
	AllowedFast:   "allowed fast",
	Extended:      "extended",
}

func (m MessageID) String() string {
	if s, ok := names[m]; ok {
		return s
	}
	return strconv.Itoa(int(m))
}
