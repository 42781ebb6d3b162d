package dht

import (
	"crypto/rand"
	"crypto/sha1" // nolint: gosec
	"net"
	"time"

	"github.com/zeebo/bencode"

	"github.com/tidebt/tide/internal/logger"
)

// maxTableNodes bounds the known-node table. This is not a full
// Kademlia routing table; it only feeds traversals with candidates.
const maxTableNodes = 400

// tokenRotateInterval is how often the write-token secret rotates.
const tokenRotateInterval = 5 * time.Minute

// PeerStore lets the node answer get_peers and accept announces.
type PeerStore interface {
	// Peers returns known peers for an infohash, or nil.
	Peers(infoHash [20]byte) []*net.TCPAddr
	// AddPeer stores a peer announced for an infohash.
	AddPeer(infoHash [20]byte, addr *net.TCPAddr)
}

// Node is the engine's DHT participant. Owned by the session loop.
type Node struct {
	ID    [20]byte
	Rpc   *RpcManager
	store PeerStore
	log   logger.Logger

	table     []CompactNode
	tableKeys map[string]struct{}

	secret     [8]byte
	lastSecret [8]byte
	rotatedAt  time.Time

	bootstrapNodes []string
}

// NewNode returns a Node with the given id sending through send.
func NewNode(id [20]byte, send Sender, store PeerStore, bootstrapNodes []string, l logger.Logger) *Node {
	n := &Node{
		ID:             id,
		Rpc:            NewRpcManager(id, send, l),
		store:          store,
		log:            l,
		tableKeys:      make(map[string]struct{}),
		bootstrapNodes: bootstrapNodes,
	}
	_, _ = rand.Read(n.secret[:])
	n.lastSecret = n.secret
	return n
}

// Bootstrap resolves the configured bootstrap hosts and sends each a
// find_node query for our own id.
func (n *Node) Bootstrap(now time.Time) {
	for _, host := range n.bootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp4", host)
		if err != nil {
			n.log.Debugln("cannot resolve bootstrap node:", err)
			continue
		}
		_, _ = n.Rpc.Invoke(ObserverFindNode, QueryArgs{Target: n.ID[:]}, addr, n, now)
	}
}

// Candidates returns traversal bootstrap candidates, closest to target
// first. Falls back to resolving bootstrap hosts with zero ids.
func (n *Node) Candidates(target [20]byte) []CompactNode {
	if len(n.table) > 0 {
		nodes := make([]CompactNode, len(n.table))
		copy(nodes, n.table)
		sortByDistance(nodes, target)
		return nodes
	}
	var nodes []CompactNode
	for _, host := range n.bootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp4", host)
		if err != nil {
			continue
		}
		nodes = append(nodes, CompactNode{Addr: addr})
	}
	return nodes
}

// Tick drives RPC timeouts and token rotation.
func (n *Node) Tick(now time.Time) {
	n.Rpc.Tick(now)
	if now.Sub(n.rotatedAt) >= tokenRotateInterval {
		n.rotatedAt = now
		n.lastSecret = n.secret
		_, _ = rand.Read(n.secret[:])
	}
}

// Incoming handles a received datagram.
func (n *Node) Incoming(b []byte, from *net.UDPAddr) {
	m, err := DecodeMessage(b)
	if err != nil {
		return
	}
	switch m.Y {
	case "q":
		n.handleQuery(m, from)
	case "r", "e":
		if m.Y == "r" && m.R != nil {
			var id [20]byte
			copy(id[:], m.R.ID)
			n.addNode(CompactNode{ID: id, Addr: from})
		}
		n.Rpc.Incoming(m, from)
	}
}

func (n *Node) handleQuery(m *Message, from *net.UDPAddr) {
	if m.A == nil {
		n.reply(NewError(m.T, ErrCodeProtocol, "missing arguments"), from)
		return
	}
	var senderID [20]byte
	copy(senderID[:], m.A.ID)
	n.addNode(CompactNode{ID: senderID, Addr: from})

	switch m.Q {
	case "ping":
		n.reply(&Message{T: m.T, Y: "r", R: &ResponseArgs{ID: n.ID[:]}}, from)
	case "find_node":
		var target [20]byte
		copy(target[:], m.A.Target)
		n.reply(&Message{T: m.T, Y: "r", R: &ResponseArgs{
			ID:    n.ID[:],
			Nodes: EncodeCompactNodes(n.closest(target)),
		}}, from)
	case "get_peers":
		var ih [20]byte
		copy(ih[:], m.A.InfoHash)
		r := &ResponseArgs{ID: n.ID[:], Token: n.token(from, n.secret)}
		if peers := n.store.Peers(ih); len(peers) > 0 {
			for _, p := range peers {
				if v := EncodeCompactPeer(p); v != "" {
					r.Values = append(r.Values, v)
				}
			}
		} else {
			r.Nodes = EncodeCompactNodes(n.closest(ih))
		}
		n.reply(&Message{T: m.T, Y: "r", R: r}, from)
	case "announce_peer":
		if !n.validToken(from, m.A.Token) {
			n.reply(NewError(m.T, ErrCodeProtocol, "invalid token"), from)
			return
		}
		var ih [20]byte
		copy(ih[:], m.A.InfoHash)
		port := int(m.A.Port)
		if m.A.ImpliedPort != 0 {
			port = from.Port
		}
		n.store.AddPeer(ih, &net.TCPAddr{IP: from.IP, Port: port})
		n.reply(&Message{T: m.T, Y: "r", R: &ResponseArgs{ID: n.ID[:]}}, from)
	default:
		n.reply(NewError(m.T, ErrCodeMethodUnknown, "method unknown"), from)
	}
}

func (n *Node) reply(m *Message, to *net.UDPAddr) {
	b, err := EncodeMessage(m)
	if err != nil {
		return
	}
	_ = n.Rpc.send(b, to)
}

// Reply implements Traversal for bootstrap find_node queries.
func (n *Node) Reply(o *Observer, r *ResponseArgs, from *net.UDPAddr) {
	if nodes, err := DecodeCompactNodes(r.Nodes); err == nil {
		for _, cn := range nodes {
			n.addNode(cn)
		}
	}
}

// ShortTimeout implements Traversal.
func (n *Node) ShortTimeout(o *Observer) {}

// Failed implements Traversal.
func (n *Node) Failed(o *Observer) {}

func (n *Node) addNode(cn CompactNode) {
	if cn.Addr == nil || cn.Addr.Port == 0 || len(n.table) >= maxTableNodes {
		return
	}
	key := cn.Addr.String()
	if _, ok := n.tableKeys[key]; ok {
		return
	}
	n.tableKeys[key] = struct{}{}
	n.table = append(n.table, cn)
}

func (n *Node) closest(target [20]byte) []CompactNode {
	nodes := make([]CompactNode, len(n.table))
	copy(nodes, n.table)
	sortByDistance(nodes, target)
	if len(nodes) > closestCount {
		nodes = nodes[:closestCount]
	}
	return nodes
}

func (n *Node) token(addr *net.UDPAddr, secret [8]byte) string {
	h := sha1.New() // nolint: gosec
	_, _ = h.Write(secret[:])
	_, _ = h.Write(addr.IP)
	return string(h.Sum(nil)[:8])
}

func (n *Node) validToken(addr *net.UDPAddr, token string) bool {
	return token == n.token(addr, n.secret) || token == n.token(addr, n.lastSecret)
}

// State is the persisted DHT state.
type State struct {
	ID    []byte `bencode:"node-id"`
	Nodes []byte `bencode:"nodes"`
}

// SaveState serializes the node id and table for the session state dict.
func (n *Node) SaveState() bencode.RawMessage {
	b, err := bencode.EncodeBytes(State{
		ID:    n.ID[:],
		Nodes: EncodeCompactNodes(n.table),
	})
	if err != nil {
		return nil
	}
	return b
}

// LoadState restores the node table from a previous SaveState.
func (n *Node) LoadState(raw bencode.RawMessage) {
	var st State
	if err := bencode.DecodeBytes(raw, &st); err != nil {
		return
	}
	if nodes, err := DecodeCompactNodes(st.Nodes); err == nil {
		for _, cn := range nodes {
			n.addNode(cn)
		}
	}
}
