// Package btconn dials and accepts BitTorrent protocol connections and
// runs the 68-byte handshake on them.
package btconn

import (
	"net"
	"time"
)

// StreamFilter optionally wraps the raw connection before the handshake.
// TLS and obfuscation layers plug in here.
type StreamFilter func(net.Conn) (net.Conn, error)

func maybeFilter(conn net.Conn, f StreamFilter) (net.Conn, error) {
	if f == nil {
		return conn, nil
	}
	return f(conn)
}

// Dial connects to addr and completes an outgoing handshake.
// The returned extension bits are the remote side's reserved bytes.
func Dial(
	addr net.Addr,
	deadline time.Time,
	filter StreamFilter,
	ourExtensions [8]byte,
	ih, ourID [20]byte,
) (conn net.Conn, peerExtensions [8]byte, peerID [20]byte, err error) {
	conn, err = net.DialTimeout(addr.Network(), addr.String(), time.Until(deadline))
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()
	if err = conn.SetDeadline(deadline); err != nil {
		return
	}
	if conn, err = maybeFilter(conn, filter); err != nil {
		return
	}
	if err = writeHandshake(conn, ih, ourID, ourExtensions); err != nil {
		return
	}
	var ihRead [20]byte
	peerExtensions, ihRead, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if ihRead != ih {
		err = ErrInvalidInfoHash
		return
	}
	peerID, err = readHandshake2(conn)
	if err != nil {
		return
	}
	if peerID == ourID {
		err = ErrOwnConnection
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}

// Accept completes an incoming handshake on conn.
// hasInfoHash is consulted before replying so we never acknowledge
// torrents we do not serve; getID maps the infohash to the peer id we
// present for it.
func Accept(
	conn net.Conn,
	deadline time.Time,
	filter StreamFilter,
	hasInfoHash func([20]byte) bool,
	ourExtensions [8]byte,
	getID func([20]byte) [20]byte,
) (rconn net.Conn, peerExtensions [8]byte, ih, peerID [20]byte, err error) {
	if err = conn.SetDeadline(deadline); err != nil {
		return
	}
	if conn, err = maybeFilter(conn, filter); err != nil {
		return
	}
	peerExtensions, ih, err = readHandshake1(conn)
	if err != nil {
		return
	}
	if !hasInfoHash(ih) {
		err = ErrInvalidInfoHash
		return
	}
	ourID := getID(ih)
	if err = writeHandshake(conn, ih, ourID, ourExtensions); err != nil {
		return
	}
	peerID, err = readHandshake2(conn)
	if err != nil {
		return
	}
	if peerID == ourID {
		err = ErrOwnConnection
		return
	}
	if err = conn.SetDeadline(time.Time{}); err != nil {
		return
	}
	rconn = conn
	return
}
