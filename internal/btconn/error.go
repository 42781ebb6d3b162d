package btconn

import "errors"

var (
	// ErrInvalidProtocol is returned when the 20-byte protocol string of
	// the handshake does not match "\x13BitTorrent protocol".
	ErrInvalidProtocol = errors.New("invalid protocol string")
	// ErrInvalidInfoHash is returned when the handshake names a torrent
	// the session does not have.
	ErrInvalidInfoHash = errors.New("invalid info hash")
	// ErrOwnConnection is returned when the remote peer id equals ours.
	ErrOwnConnection = errors.New("dropped own connection")
	// ErrNotEncrypted is reserved for a future stream-filter layer.
	ErrNotEncrypted = errors.New("connection is not encrypted")
)
