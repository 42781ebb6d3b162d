package dht

import (
	"net"
	"time"
)

// Traversal tuning.
const (
	// branchFactor is the number of concurrent in-flight queries.
	branchFactor = 3
	// closestCount is how many closest nodes announces go to.
	closestCount = 8
	// maxTraversalNodes bounds the candidate queue.
	maxTraversalNodes = 100
)

// GetPeersResult is delivered as a get-peers traversal progresses.
type GetPeersResult struct {
	Peers []*net.TCPAddr
	Done  bool
}

// getPeersTraversal walks toward the infohash, collecting peers and the
// write tokens needed to announce. Implements Traversal.
type getPeersTraversal struct {
	rpc      *RpcManager
	infoHash [20]byte
	port     uint16
	announce bool
	resultC  chan<- GetPeersResult
	clock    func() time.Time

	// queue holds unqueried candidates sorted closest first.
	queue    []CompactNode
	queried  map[string]struct{}
	inFlight int
	// responded are nodes that replied, closest first, with their token.
	responded []respondedNode
	finished  bool
}

type respondedNode struct {
	node  CompactNode
	token string
}

// StartGetPeers begins a traversal from the bootstrap candidates.
// Results are delivered on resultC from within RpcManager callbacks, so
// the channel must be buffered or drained by the session loop.
func StartGetPeers(rpc *RpcManager, infoHash [20]byte, port uint16, announce bool, bootstrap []CompactNode, resultC chan<- GetPeersResult, now func() time.Time) {
	t := &getPeersTraversal{
		rpc:      rpc,
		infoHash: infoHash,
		port:     port,
		announce: announce,
		resultC:  resultC,
		clock:    now,
		queried:  make(map[string]struct{}),
	}
	t.addCandidates(bootstrap)
	t.branch()
}

func (t *getPeersTraversal) addCandidates(nodes []CompactNode) {
	for _, n := range nodes {
		key := n.Addr.String()
		if _, ok := t.queried[key]; ok {
			continue
		}
		t.queue = append(t.queue, n)
	}
	sortByDistance(t.queue, t.infoHash)
	if len(t.queue) > maxTraversalNodes {
		t.queue = t.queue[:maxTraversalNodes]
	}
}

// branch keeps branchFactor queries in flight. Slow nodes (short
// timeout) free their slot early so the traversal fans out.
func (t *getPeersTraversal) branch() {
	for t.inFlight < branchFactor && len(t.queue) > 0 {
		n := t.queue[0]
		t.queue = t.queue[1:]
		key := n.Addr.String()
		if _, ok := t.queried[key]; ok {
			continue
		}
		t.queried[key] = struct{}{}
		_, err := t.rpc.Invoke(ObserverGetPeers, QueryArgs{InfoHash: t.infoHash[:]}, n.Addr, t, t.clock())
		if err != nil {
			continue
		}
		t.inFlight++
	}
	if t.inFlight == 0 && len(t.queue) == 0 {
		t.finish()
	}
}

// Reply implements Traversal.
func (t *getPeersTraversal) Reply(o *Observer, r *ResponseArgs, from *net.UDPAddr) {
	if !o.ShortTimedOut() {
		t.inFlight--
	}
	if t.finished {
		return
	}
	var id [20]byte
	copy(id[:], r.ID)
	t.responded = append(t.responded, respondedNode{
		node:  CompactNode{ID: id, Addr: from},
		token: r.Token,
	})
	sortRespondedByDistance(t.responded, t.infoHash)
	if len(t.responded) > closestCount {
		t.responded = t.responded[:closestCount]
	}
	if len(r.Values) > 0 {
		if peers := DecodeCompactPeers(r.Values); len(peers) > 0 {
			t.deliver(GetPeersResult{Peers: peers})
		}
	}
	if len(r.Nodes) > 0 {
		if nodes, err := DecodeCompactNodes(r.Nodes); err == nil {
			t.addCandidates(nodes)
		}
	}
	t.branch()
}

// ShortTimeout implements Traversal: free the slot so branch can fan out.
func (t *getPeersTraversal) ShortTimeout(o *Observer) {
	t.inFlight--
	t.branch()
}

// Failed implements Traversal.
func (t *getPeersTraversal) Failed(o *Observer) {
	if !o.ShortTimedOut() {
		t.inFlight--
	}
	if t.finished {
		return
	}
	t.branch()
}

// finish announces to the closest responded nodes and reports done.
func (t *getPeersTraversal) finish() {
	if t.finished {
		return
	}
	t.finished = true
	if t.announce {
		for _, rn := range t.responded {
			if rn.token == "" {
				continue
			}
			_, _ = t.rpc.Invoke(ObserverAnnounce, QueryArgs{
				InfoHash: t.infoHash[:],
				Port:     t.port,
				Token:    rn.token,
			}, rn.node.Addr, NullTraversal, t.clock())
		}
	}
	t.deliver(GetPeersResult{Done: true})
}

func (t *getPeersTraversal) deliver(res GetPeersResult) {
	select {
	case t.resultC <- res:
	default:
		// Session loop is behind; peers are re-learned on the next
		// traversal.
	}
}

func sortByDistance(nodes []CompactNode, target [20]byte) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && DistanceLess(target, nodes[j].ID, nodes[j-1].ID); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

func sortRespondedByDistance(nodes []respondedNode, target [20]byte) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && DistanceLess(target, nodes[j].node.ID, nodes[j-1].node.ID); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
