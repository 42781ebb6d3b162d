// Package portmap forwards the listen ports on the gateway via UPnP.
//
// One mapping is kept per (protocol, internal port) pair; the external
// port requested equals the internal port. Mapping a pair that is
// already mapped deletes the prior mapping first.
package portmap

import (
	"time"

	alog "github.com/anacrolix/log"
	"github.com/anacrolix/upnp"

	"github.com/tidebt/tide/internal/logger"
)

// Protocol of a mapping.
type Protocol = upnp.Protocol

const (
	TCP = upnp.TCP
	UDP = upnp.UDP
)

const leaseDuration = 30 * time.Minute

// Result of a mapping attempt, posted to the session loop.
type Result struct {
	Protocol     Protocol
	InternalPort int
	ExternalPort int
	Err          error
}

type mappingKey struct {
	proto Protocol
	port  int
}

// Mapper maintains mappings on all discovered gateway devices.
type Mapper struct {
	log     logger.Logger
	devices []upnp.Device
	active  map[mappingKey]int

	ResultC chan Result
}

// NewMapper discovers gateway devices. Discovery takes up to timeout;
// call from a worker goroutine, not the session loop.
func NewMapper(timeout time.Duration) *Mapper {
	return &Mapper{
		log:     logger.New("portmap"),
		devices: upnp.Discover(0, timeout, alog.Default),
		active:  make(map[mappingKey]int),
		ResultC: make(chan Result, 4),
	}
}

// NumDevices returns the number of discovered gateways.
func (m *Mapper) NumDevices() int { return len(m.devices) }

// Map forwards internalPort on every device and reports the outcome on
// ResultC. An existing mapping for the pair is replaced.
func (m *Mapper) Map(proto Protocol, internalPort int) {
	key := mappingKey{proto, internalPort}
	if _, ok := m.active[key]; ok {
		m.unmap(proto, internalPort)
	}
	var lastErr error
	external := 0
	for _, d := range m.devices {
		port, err := d.AddPortMapping(proto, internalPort, internalPort, "tide", leaseDuration)
		if err != nil {
			lastErr = err
			m.log.Debugf("portmap %s %d failed: %s", proto, internalPort, err)
			continue
		}
		external = port
	}
	if external != 0 {
		m.active[key] = external
		m.ResultC <- Result{Protocol: proto, InternalPort: internalPort, ExternalPort: external}
		return
	}
	m.ResultC <- Result{Protocol: proto, InternalPort: internalPort, Err: lastErr}
}

// Unmap deletes the mapping for the pair.
func (m *Mapper) Unmap(proto Protocol, internalPort int) {
	m.unmap(proto, internalPort)
}

func (m *Mapper) unmap(proto Protocol, internalPort int) {
	key := mappingKey{proto, internalPort}
	if _, ok := m.active[key]; !ok {
		return
	}
	delete(m.active, key)
	for _, d := range m.devices {
		if err := d.DeletePortMapping(proto, internalPort); err != nil {
			m.log.Debugf("portmap delete %s %d failed: %s", proto, internalPort, err)
		}
	}
}

// Close removes all mappings.
func (m *Mapper) Close() {
	for key := range m.active {
		m.unmap(key.proto, key.port)
	}
}
