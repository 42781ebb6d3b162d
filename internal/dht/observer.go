package dht

import (
	"net"
	"time"
)

// ObserverKind tags the query an Observer belongs to.
type ObserverKind int

const (
	ObserverNull ObserverKind = iota
	ObserverPing
	ObserverFindNode
	ObserverGetPeers
	ObserverAnnounce
)

func (k ObserverKind) String() string {
	switch k {
	case ObserverPing:
		return "ping"
	case ObserverFindNode:
		return "find_node"
	case ObserverGetPeers:
		return "get_peers"
	case ObserverAnnounce:
		return "announce_peer"
	}
	return "null"
}

// Observer is one outstanding RPC. It is owned by the RpcManager's
// transaction list until the reply is matched or a timeout fires.
// All terminal transitions are guarded by the done latch and therefore
// idempotent.
type Observer struct {
	Kind          ObserverKind
	Target        *net.UDPAddr
	TransactionID uint16
	SentAt        time.Time

	traversal Traversal

	done         bool
	shortTimeout bool
	aborted      bool
}

// Done reports whether the Observer reached a terminal state.
func (o *Observer) Done() bool { return o.done }

// ShortTimedOut reports whether the short timeout has fired. The flag is
// never reset; a late reply may still complete the Observer.
func (o *Observer) ShortTimedOut() bool { return o.shortTimeout }

// Aborted reports whether the Observer was cancelled by shutdown.
func (o *Observer) Aborted() bool { return o.aborted }

// Traversal is the algorithm that issued a query and owns retry policy.
// The RPC layer never retries.
type Traversal interface {
	// Reply delivers a matched response.
	Reply(o *Observer, r *ResponseArgs, from *net.UDPAddr)
	// ShortTimeout signals the node is slow; the traversal may fan out.
	ShortTimeout(o *Observer)
	// Failed reports a hard timeout, an error reply, or an abort.
	Failed(o *Observer)
}

// nullTraversal discards all callbacks. Used for fire-and-forget pings.
type nullTraversal struct{}

func (nullTraversal) Reply(*Observer, *ResponseArgs, *net.UDPAddr) {}
func (nullTraversal) ShortTimeout(*Observer)                       {}
func (nullTraversal) Failed(*Observer)                             {}

// NullTraversal is the shared no-op traversal.
var NullTraversal Traversal = nullTraversal{}
