package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

// Compact peer encodings: 6 bytes per IPv4 peer, 18 bytes per IPv6 peer.
const (
	compact4Len = net.IPv4len + 2
	compact6Len = net.IPv6len + 2
)

var errPeerListLength = errors.New("invalid peer list length")

// DecodePeersCompact parses a packed list of 6-byte IPv4 peers.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%compact4Len != 0 {
		return nil, errPeerListLength
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/compact4Len)
	for i := 0; i < len(b); i += compact4Len {
		ip := make(net.IP, net.IPv4len)
		copy(ip, b[i:i+net.IPv4len])
		port := binary.BigEndian.Uint16(b[i+net.IPv4len : i+compact4Len])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}

// DecodePeersCompact6 parses a packed list of 18-byte IPv6 peers.
func DecodePeersCompact6(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%compact6Len != 0 {
		return nil, errPeerListLength
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/compact6Len)
	for i := 0; i < len(b); i += compact6Len {
		ip := make(net.IP, net.IPv6len)
		copy(ip, b[i:i+net.IPv6len])
		port := binary.BigEndian.Uint16(b[i+net.IPv6len : i+compact6Len])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}

// EncodePeersCompact packs IPv4 addresses into the 6-byte form.
// Non-IPv4 addresses are skipped.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	b := make([]byte, 0, len(addrs)*compact4Len)
	for _, a := range addrs {
		ip4 := a.IP.To4()
		if ip4 == nil {
			continue
		}
		var entry [compact4Len]byte
		copy(entry[:net.IPv4len], ip4)
		binary.BigEndian.PutUint16(entry[net.IPv4len:], uint16(a.Port))
		b = append(b, entry[:]...)
	}
	return b
}
