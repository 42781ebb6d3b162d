package peerprotocol

import (
	"net"

	"github.com/zeebo/bencode"
)

// Extension names in the extended handshake "m" dictionary.
const (
	ExtensionKeyMetadata = "ut_metadata"
	ExtensionKeyPEX      = "ut_pex"
)

// Extended message id 0 is the extended handshake itself.
const ExtensionHandshakeID = 0

// ExtendedHandshakeMessage is the bencoded dictionary exchanged after the
// BT handshake when both sides advertise the extension bit.
type ExtendedHandshakeMessage struct {
	M            map[string]uint8 `bencode:"m"`
	V            string           `bencode:"v,omitempty"`
	P            uint16           `bencode:"p,omitempty"`
	YourIP       string           `bencode:"yourip,omitempty"`
	RequestQueue int              `bencode:"reqq,omitempty"`
	MetadataSize uint32           `bencode:"metadata_size,omitempty"`
}

// NewExtendedHandshake builds our side of the extended handshake.
func NewExtendedHandshake(clientVersion string, port uint16, yourIP net.IP, requestQueue int) ExtendedHandshakeMessage {
	return ExtendedHandshakeMessage{
		M: map[string]uint8{
			ExtensionKeyMetadata: 1,
			ExtensionKeyPEX:      2,
		},
		V:            clientVersion,
		P:            port,
		YourIP:       string(yourIP.To4()),
		RequestQueue: requestQueue,
	}
}

// Encode returns the bencoded handshake wrapped in an extension message.
func (m ExtendedHandshakeMessage) Encode() (ExtensionMessage, error) {
	data, err := bencode.EncodeBytes(m)
	if err != nil {
		return ExtensionMessage{}, err
	}
	return ExtensionMessage{ExtendedID: ExtensionHandshakeID, Data: data}, nil
}

// DecodeExtendedHandshake parses a received extended handshake payload.
func DecodeExtendedHandshake(data []byte) (m ExtendedHandshakeMessage, err error) {
	err = bencode.DecodeBytes(data, &m)
	return
}
