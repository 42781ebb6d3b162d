package torrent

import (
	"net"
	"strconv"

	"github.com/tidebt/tide/internal/acceptor"
	"github.com/tidebt/tide/internal/dht"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/lsd"
	"github.com/tidebt/tide/internal/portbind"
	"github.com/tidebt/tide/internal/portmap"
	"github.com/tidebt/tide/internal/resumer"
	"github.com/tidebt/tide/internal/tracker/udptracker"
	"github.com/tidebt/tide/internal/udpmux"
)

// openListenSockets binds the TCP acceptor and the shared UDP socket on
// the same port, wires the UDP mux, and starts DHT and LSD.
func (s *Session) openListenSockets(state *resumer.SessionState) error {
	host, err := portbind.ResolveDevice(s.config.ListenHost)
	if err != nil {
		return err
	}
	ln, port, err := portbind.ListenTCP(host, s.config.ListenPort, s.config.MaxRetryPortBind, s.config.FallbackToAnyPort)
	if err != nil {
		s.alerts.post(ListenFailedAlert{Addr: net.JoinHostPort(host, strconv.Itoa(s.config.ListenPort)), Err: err})
		return err
	}
	s.listener = ln
	s.listenPort = port
	s.alerts.post(ListenSucceededAlert{Addr: ln.Addr().(*net.TCPAddr)})
	s.log.Infof("listening on %s", ln.Addr())

	s.acceptor = acceptor.New(ln, s.connC, logger.New("acceptor"))
	go s.acceptor.Run()

	// The UDP socket serves tracker and DHT on the TCP port.
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(host).To4(), Port: port})
	if err != nil {
		s.alerts.post(ListenFailedAlert{Addr: net.JoinHostPort(host, strconv.Itoa(port)), Err: err})
		s.acceptor.Close()
		return err
	}
	s.trackerTransport = udptracker.NewTransport(udpConn)
	s.mux = udpmux.New(udpConn,
		func(b []byte, addr *net.UDPAddr) {
			s.exec(func() {
				if s.dhtNode != nil {
					s.dhtNode.Incoming(b, addr)
				}
			})
		},
		func(b []byte, addr *net.UDPAddr) {
			s.trackerTransport.HandlePacket(b)
		},
	)
	s.mux.Unreachable = func(addr *net.UDPAddr) {
		s.exec(func() {
			if s.dhtNode != nil {
				s.dhtNode.Rpc.PortUnreachable(addr)
			}
		})
	}
	go s.mux.Run()

	if s.config.DHTEnabled {
		s.dhtPeers = newDHTPeerStore(s)
		nodeID := dhtNodeID(state)
		s.dhtNode = dht.NewNode(nodeID, func(b []byte, addr *net.UDPAddr) error {
			_, err := s.mux.WriteTo(b, addr)
			return err
		}, s.dhtPeers, s.config.DHTBootstrapNodes, logger.New("dht"))
		if state != nil && state.DHTState != nil {
			s.dhtNode.LoadState(state.DHTState)
		}
		s.dhtNode.Bootstrap(s.clock.HighRes())
	}

	if s.config.LSDEnabled {
		d, err := lsd.New(uint16(port))
		if err != nil {
			s.log.Errorln("cannot start local service discovery:", err)
		} else {
			s.lsdDiscovery = d
			go d.Run()
		}
	}
	return nil
}

func dhtNodeID(state *resumer.SessionState) (id [20]byte) {
	if state != nil && state.DHTState != nil {
		var st dht.State
		// Reuse of the previous node id keeps our routing placement.
		if b, err := decodeState(state.DHTState, &st); err == nil && b {
			copy(id[:], st.ID)
			return
		}
	}
	return randomNodeID()
}

// handlePortMapperReady wires the mapper once discovery finished.
func (s *Session) handlePortMapperReady(m *portmap.Mapper) {
	s.mapper = m
	if m.NumDevices() == 0 {
		s.log.Debugln("no port mapping devices found")
		return
	}
	go m.Map(portmap.TCP, s.listenPort)
	go m.Map(portmap.UDP, s.listenPort)
}

// handlePortMapResult applies a mapping outcome.
func (s *Session) handlePortMapResult(r portmap.Result) {
	if r.Err != nil {
		s.alerts.post(PortMapFailedAlert{Protocol: string(r.Protocol), Err: r.Err})
		return
	}
	s.alerts.post(PortMappedAlert{
		Protocol:     string(r.Protocol),
		InternalPort: r.InternalPort,
		ExternalPort: r.ExternalPort,
	})
	if r.Protocol == portmap.TCP {
		old := s.extPort.Load()
		if old != 0 && int(old) != r.ExternalPort && s.mapper != nil {
			// Port changed: the prior mapping is deleted in the
			// background; the new port is advertised without waiting
			// for that deletion.
			go s.mapper.Unmap(portmap.TCP, int(old))
		}
		s.extPort.Store(uint32(r.ExternalPort))
	}
}

// handleAcceptError reacts to resource exhaustion on accept.
func (s *Session) handleAcceptError(err error) {
	if !isTooManyFiles(err) {
		return
	}
	// Lower the global limit to the current count and make room by
	// dropping one peer from the largest torrent.
	if n := len(s.peers); n >= 2 {
		s.connectionsLimit = n
	} else {
		s.connectionsLimit = 2
	}
	s.log.Warningf("file descriptors exhausted, lowering connection limit to %d", s.connectionsLimit)
	if t := s.largestTorrent(); t != nil {
		for pe := range t.peers {
			t.disconnectPeer(pe, errTooManyFiles, OpUnknown)
			break
		}
	}
}

func (s *Session) largestTorrent() *Torrent {
	var largest *Torrent
	for _, t := range s.torrents {
		if largest == nil || len(t.peers) > len(largest.peers) {
			largest = t
		}
	}
	return largest
}
