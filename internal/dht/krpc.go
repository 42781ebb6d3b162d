// Package dht implements the KRPC layer of the BitTorrent DHT (BEP 5):
// the message codec, the RPC manager that tracks outstanding queries,
// and the traversal algorithms that use it.
package dht

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/zeebo/bencode"
)

// KRPC error codes (BEP 5).
const (
	ErrCodeGeneric       = 201
	ErrCodeServer        = 202
	ErrCodeProtocol      = 203
	ErrCodeMethodUnknown = 204
)

// Message is a KRPC message of any of the three types.
type Message struct {
	T string             `bencode:"t"`
	Y string             `bencode:"y"`
	Q string             `bencode:"q,omitempty"`
	A *QueryArgs         `bencode:"a,omitempty"`
	R *ResponseArgs      `bencode:"r,omitempty"`
	E bencode.RawMessage `bencode:"e,omitempty"`
}

// QueryArgs is the "a" dictionary of a query.
type QueryArgs struct {
	ID       []byte `bencode:"id"`
	Target   []byte `bencode:"target,omitempty"`
	InfoHash []byte `bencode:"info_hash,omitempty"`
	Port     uint16 `bencode:"port,omitempty"`
	Token    string `bencode:"token,omitempty"`
	ImpliedPort int `bencode:"implied_port,omitempty"`
}

// ResponseArgs is the "r" dictionary of a reply.
type ResponseArgs struct {
	ID     []byte   `bencode:"id"`
	Nodes  []byte   `bencode:"nodes,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

// ErrArgs decodes the "e" list of an error message.
func (m *Message) ErrArgs() (code int64, msg string) {
	var e []bencode.RawMessage
	if err := bencode.DecodeBytes(m.E, &e); err != nil || len(e) < 2 {
		return 0, ""
	}
	_ = bencode.DecodeBytes(e[0], &code)
	_ = bencode.DecodeBytes(e[1], &msg)
	return
}

// DecodeMessage parses a received datagram.
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := bencode.DecodeBytes(b, &m); err != nil {
		return nil, err
	}
	if m.Y == "" {
		return nil, errors.New("missing message type")
	}
	return &m, nil
}

// EncodeMessage serializes m for sending.
func EncodeMessage(m *Message) ([]byte, error) {
	return bencode.EncodeBytes(m)
}

// NewError builds a KRPC error message for transaction t.
func NewError(t string, code int, msg string) *Message {
	e, _ := bencode.EncodeBytes([]interface{}{code, msg})
	return &Message{T: t, Y: "e", E: e}
}

// CompactNode is a node entry of a "nodes" reply value.
type CompactNode struct {
	ID   [20]byte
	Addr *net.UDPAddr
}

const compactNodeLen = 26

// DecodeCompactNodes parses the packed "nodes" value.
func DecodeCompactNodes(b []byte) ([]CompactNode, error) {
	if len(b)%compactNodeLen != 0 {
		return nil, errors.New("invalid nodes length")
	}
	nodes := make([]CompactNode, 0, len(b)/compactNodeLen)
	for i := 0; i < len(b); i += compactNodeLen {
		var n CompactNode
		copy(n.ID[:], b[i:i+20])
		ip := make(net.IP, net.IPv4len)
		copy(ip, b[i+20:i+24])
		port := binary.BigEndian.Uint16(b[i+24 : i+26])
		n.Addr = &net.UDPAddr{IP: ip, Port: int(port)}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// EncodeCompactNodes packs nodes into the wire form. IPv6 nodes are
// skipped.
func EncodeCompactNodes(nodes []CompactNode) []byte {
	b := make([]byte, 0, len(nodes)*compactNodeLen)
	for _, n := range nodes {
		ip4 := n.Addr.IP.To4()
		if ip4 == nil {
			continue
		}
		var entry [compactNodeLen]byte
		copy(entry[:20], n.ID[:])
		copy(entry[20:24], ip4)
		binary.BigEndian.PutUint16(entry[24:26], uint16(n.Addr.Port))
		b = append(b, entry[:]...)
	}
	return b
}

// DecodeCompactPeers parses "values" strings into TCP addresses.
func DecodeCompactPeers(values []string) []*net.TCPAddr {
	var addrs []*net.TCPAddr
	for _, v := range values {
		if len(v) != 6 {
			continue
		}
		ip := make(net.IP, net.IPv4len)
		copy(ip, v[0:4])
		port := binary.BigEndian.Uint16([]byte(v[4:6]))
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs
}

// EncodeCompactPeer packs a TCP address into the 6-byte "values" form.
func EncodeCompactPeer(addr *net.TCPAddr) string {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return ""
	}
	var b [6]byte
	copy(b[0:4], ip4)
	binary.BigEndian.PutUint16(b[4:6], uint16(addr.Port))
	return string(b[:])
}

// Distance is the Kademlia XOR metric between two ids.
func Distance(a, b [20]byte) (d [20]byte) {
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return
}

// DistanceLess reports whether a is closer to target than b.
func DistanceLess(target, a, b [20]byte) bool {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			return da < db
		}
	}
	return false
}
