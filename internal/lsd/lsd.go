// Package lsd implements Local Service Discovery (BEP 14): multicast
// BT-SEARCH announcements on the local network.
package lsd

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidebt/tide/internal/logger"
)

const (
	multicastAddr = "239.192.152.143:6771"
	headerFormat  = "BT-SEARCH * HTTP/1.1\r\n" +
		"Host: %s\r\n" +
		"Port: %d\r\n" +
		"Infohash: %s\r\n" +
		"cookie: %s\r\n" +
		"\r\n\r\n"
)

// Peer is a swarm member discovered on the local network.
type Peer struct {
	InfoHash [20]byte
	Addr     *net.TCPAddr
}

// Discovery announces infohashes on the LAN and harvests peers
// announced by others.
type Discovery struct {
	port   uint16
	cookie string
	log    logger.Logger

	conn  *net.UDPConn
	group *net.UDPAddr

	PeersC chan Peer

	closeC chan struct{}
	doneC  chan struct{}
}

// New joins the multicast group. port is our TCP listen port.
func New(port uint16) (*Discovery, error) {
	group, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, err
	}
	return &Discovery{
		port:   port,
		cookie: fmt.Sprintf("tide-%08x", rand.Uint32()), // nolint: gosec
		log:    logger.New("lsd"),
		conn:   conn,
		group:  group,
		PeersC: make(chan Peer, 16),
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}, nil
}

// Run reads announcements until Close. Blocks.
func (d *Discovery) Run() {
	defer close(d.doneC)
	buf := make([]byte, 1500)
	for {
		n, src, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.closeC:
				return
			default:
			}
			d.log.Debugln("lsd read error:", err)
			continue
		}
		d.handlePacket(buf[:n], src)
	}
}

// Announce multicasts a BT-SEARCH for ih.
func (d *Discovery) Announce(ih [20]byte) {
	msg := fmt.Sprintf(headerFormat, multicastAddr, d.port, hex.EncodeToString(ih[:]), d.cookie)
	if _, err := d.conn.WriteToUDP([]byte(msg), d.group); err != nil {
		d.log.Debugln("lsd announce error:", err)
	}
}

// Close leaves the group and stops Run.
func (d *Discovery) Close() {
	close(d.closeC)
	_ = d.conn.Close()
	<-d.doneC
}

func (d *Discovery) handlePacket(b []byte, src *net.UDPAddr) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(b)))
	if err != nil || req.Method != "BT-SEARCH" {
		return
	}
	// Our own announcements come back from the group.
	if req.Header.Get("cookie") == d.cookie {
		return
	}
	port, err := strconv.Atoi(req.Header.Get("Port"))
	if err != nil || port == 0 {
		return
	}
	for _, hdr := range req.Header.Values("Infohash") {
		ihBytes, err := hex.DecodeString(strings.TrimSpace(hdr))
		if err != nil || len(ihBytes) != 20 {
			continue
		}
		var ih [20]byte
		copy(ih[:], ihBytes)
		select {
		case d.PeersC <- Peer{InfoHash: ih, Addr: &net.TCPAddr{IP: src.IP, Port: port}}:
		default:
		}
	}
}
