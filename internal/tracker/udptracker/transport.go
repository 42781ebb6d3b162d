package udptracker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/tidebt/tide/internal/logger"
)

const connectionIDMagic = 0x41727101980

// connectionIDInterval is how long a connect reply stays valid (BEP 15).
const connectionIDInterval = time.Minute

type action uint32

const (
	actionConnect action = iota
	actionAnnounce
	actionScrape
	actionError
)

type transaction struct {
	id       uint32
	response []byte
	err      error
	done     chan struct{}
}

type connection struct {
	id        uint64
	timestamp time.Time
}

// Transport multiplexes UDP tracker transactions of all torrents over
// one packet socket. Replies are matched by transaction id.
type Transport struct {
	conn net.PacketConn
	log  logger.Logger

	m            sync.Mutex
	transactions map[uint32]*transaction
	connections  map[string]connection
}

// NewTransport returns a Transport sending on conn.
// The caller routes received tracker packets into HandlePacket.
func NewTransport(conn net.PacketConn) *Transport {
	return &Transport{
		conn:         conn,
		log:          logger.New("udp tracker transport"),
		transactions: make(map[uint32]*transaction),
		connections:  make(map[string]connection),
	}
}

// HandlePacket delivers a received datagram to its waiting transaction.
func (t *Transport) HandlePacket(b []byte) {
	if len(b) < 8 {
		return
	}
	txID := binary.BigEndian.Uint32(b[4:8])
	t.m.Lock()
	trx, ok := t.transactions[txID]
	if ok {
		delete(t.transactions, txID)
	}
	t.m.Unlock()
	if !ok {
		return
	}
	if action(binary.BigEndian.Uint32(b[0:4])) == actionError {
		trx.err = fmt.Errorf("%w: %q", errTrackerError, string(b[8:]))
	} else {
		trx.response = append([]byte(nil), b...)
	}
	close(trx.done)
}

// Do runs one request against the tracker at dest, obtaining a
// connection id first when needed.
func (t *Transport) Do(ctx context.Context, dest string, a action, body []byte) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, err
	}
	connID, err := t.connectionID(ctx, addr)
	if err != nil {
		return nil, err
	}
	req := make([]byte, 16+len(body))
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], uint32(a))
	copy(req[16:], body)
	return t.roundTrip(ctx, addr, req)
}

func (t *Transport) connectionID(ctx context.Context, addr *net.UDPAddr) (uint64, error) {
	key := addr.String()
	t.m.Lock()
	c, ok := t.connections[key]
	t.m.Unlock()
	if ok && time.Since(c.timestamp) < connectionIDInterval {
		return c.id, nil
	}
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], connectionIDMagic)
	binary.BigEndian.PutUint32(req[8:12], uint32(actionConnect))
	reply, err := t.roundTrip(ctx, addr, req)
	if err != nil {
		return 0, err
	}
	if len(reply) < 16 {
		return 0, errors.New("short connect response")
	}
	id := binary.BigEndian.Uint64(reply[8:16])
	t.m.Lock()
	t.connections[key] = connection{id: id, timestamp: time.Now()}
	t.m.Unlock()
	return id, nil
}

// roundTrip sends req with a fresh transaction id and waits for the reply,
// retransmitting on the BEP 15 schedule (15 * 2^n seconds).
func (t *Transport) roundTrip(ctx context.Context, addr *net.UDPAddr, req []byte) ([]byte, error) {
	trx := &transaction{
		id:   rand.Uint32(), // nolint: gosec
		done: make(chan struct{}),
	}
	binary.BigEndian.PutUint32(req[12:16], trx.id)
	t.m.Lock()
	t.transactions[trx.id] = trx
	t.m.Unlock()
	defer func() {
		t.m.Lock()
		delete(t.transactions, trx.id)
		t.m.Unlock()
	}()

	for n := 0; n < 4; n++ {
		if _, err := t.conn.WriteTo(req, addr); err != nil {
			return nil, err
		}
		timeout := time.Duration(15<<uint(n)) * time.Second
		select {
		case <-trx.done:
			return trx.response, trx.err
		case <-time.After(timeout):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errors.New("tracker did not respond")
}
