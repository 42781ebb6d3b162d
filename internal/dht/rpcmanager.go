package dht

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/tidebt/tide/internal/logger"
)

// Timeouts of an outstanding query. The short timeout marks the node as
// slow so the traversal can fan out; the hard timeout fails the query.
const (
	ShortTimeout = 3 * time.Second
	HardTimeout  = 20 * time.Second
)

// MaxTransactionID bounds the transaction id counter.
const MaxTransactionID = 1 << 16

var errAborted = errors.New("rpc manager aborted")

// Sender transmits an encoded message.
type Sender func(b []byte, addr *net.UDPAddr) error

// RpcManager tracks outstanding DHT queries by transaction id.
// Owned by the session loop; not safe for concurrent use.
type RpcManager struct {
	ourID  [20]byte
	send   Sender
	log    logger.Logger
	nextID uint16
	// transactions holds the live Observers; ids are unique here.
	transactions map[uint16]*Observer
	// order keeps Observers oldest first for timeout scans.
	order   []*Observer
	aborted bool
}

// NewRpcManager returns an RpcManager sending through send.
func NewRpcManager(ourID [20]byte, send Sender, l logger.Logger) *RpcManager {
	return &RpcManager{
		ourID:        ourID,
		send:         send,
		log:          l,
		transactions: make(map[uint16]*Observer),
	}
}

// NumOutstanding returns the number of live Observers.
func (r *RpcManager) NumOutstanding() int { return len(r.transactions) }

// newTransactionID mints the next id. Reuse after wrap-around is safe
// because outstanding lifetimes are bounded by the hard timeout; an id
// still in flight is skipped.
func (r *RpcManager) newTransactionID() uint16 {
	for {
		id := r.nextID
		r.nextID = uint16((uint32(r.nextID) + 1) % MaxTransactionID)
		if _, inFlight := r.transactions[id]; !inFlight {
			return id
		}
	}
}

func formatTransactionID(id uint16) string {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], id)
	return string(b[:])
}

func parseTransactionID(t string) (uint16, bool) {
	if len(t) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16([]byte(t)), true
}

// Invoke issues one query to target and enqueues an Observer owned by tr.
func (r *RpcManager) Invoke(kind ObserverKind, args QueryArgs, target *net.UDPAddr, tr Traversal, now time.Time) (*Observer, error) {
	if r.aborted {
		return nil, errAborted
	}
	args.ID = r.ourID[:]
	o := &Observer{
		Kind:          kind,
		Target:        target,
		TransactionID: r.newTransactionID(),
		SentAt:        now,
		traversal:     tr,
	}
	msg := &Message{
		T: formatTransactionID(o.TransactionID),
		Y: "q",
		Q: kind.String(),
		A: &args,
	}
	b, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	if err = r.send(b, target); err != nil {
		return nil, err
	}
	r.transactions[o.TransactionID] = o
	r.order = append(r.order, o)
	return o, nil
}

// Incoming matches a reply or error to its Observer.
// A reply with a known transaction id but a mismatched source address is
// dropped. An unknown transaction id gets a bencoded protocol error back.
func (r *RpcManager) Incoming(m *Message, from *net.UDPAddr) {
	if r.aborted {
		return
	}
	id, ok := parseTransactionID(m.T)
	if !ok {
		return
	}
	o, ok := r.transactions[id]
	if !ok {
		reply := NewError(m.T, ErrCodeProtocol, "invalid transaction id")
		if b, err := EncodeMessage(reply); err == nil {
			_ = r.send(b, from)
		}
		return
	}
	if !sameEndpoint(o.Target, from) {
		r.log.Debugf("dropping reply for txid %d from wrong address %s", id, from)
		return
	}
	r.complete(o)
	switch m.Y {
	case "r":
		if m.R != nil {
			o.traversal.Reply(o, m.R, from)
			return
		}
		o.traversal.Failed(o)
	case "e":
		code, emsg := m.ErrArgs()
		r.log.Debugf("error reply from %s: %d %q", from, code, emsg)
		o.traversal.Failed(o)
	}
}

// Tick fires short and hard timeouts. Called once per session tick.
func (r *RpcManager) Tick(now time.Time) {
	for _, o := range r.order {
		if o.done {
			continue
		}
		elapsed := now.Sub(o.SentAt)
		if elapsed >= HardTimeout {
			r.complete(o)
			o.traversal.Failed(o)
			continue
		}
		if elapsed >= ShortTimeout && !o.shortTimeout {
			// One-shot: the flag is never re-armed.
			o.shortTimeout = true
			o.traversal.ShortTimeout(o)
		}
	}
	r.compact()
}

// PortUnreachable times out the first outstanding Observer to addr.
func (r *RpcManager) PortUnreachable(addr *net.UDPAddr) {
	for _, o := range r.order {
		if o.done || !sameEndpoint(o.Target, addr) {
			continue
		}
		r.complete(o)
		o.traversal.Failed(o)
		return
	}
}

// Abort fails every outstanding Observer and rejects further Invokes.
func (r *RpcManager) Abort() {
	if r.aborted {
		return
	}
	r.aborted = true
	for _, o := range r.order {
		if o.done {
			continue
		}
		o.done = true
		o.aborted = true
		delete(r.transactions, o.TransactionID)
		o.traversal.Failed(o)
	}
	r.order = nil
}

func (r *RpcManager) complete(o *Observer) {
	o.done = true
	delete(r.transactions, o.TransactionID)
}

// compact drops completed Observers from the scan order.
func (r *RpcManager) compact() {
	live := r.order[:0]
	for _, o := range r.order {
		if !o.done {
			live = append(live, o)
		}
	}
	for i := len(live); i < len(r.order); i++ {
		r.order[i] = nil
	}
	r.order = live
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
