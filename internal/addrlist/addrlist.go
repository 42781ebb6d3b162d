// Package addrlist keeps candidate peer addresses for a torrent.
//
// Addresses are ordered by freshness so Pop returns the most recently
// announced candidate first. The list is bounded; when full, the stalest
// entries are dropped.
package addrlist

import (
	"net"
	"time"

	"github.com/google/btree"

	"github.com/tidebt/tide/internal/peersource"
)

type item struct {
	addr      *net.TCPAddr
	key       string
	timestamp time.Time
	source    peersource.Source
}

func (i *item) Less(than btree.Item) bool {
	o := than.(*item)
	if !i.timestamp.Equal(o.timestamp) {
		return i.timestamp.Before(o.timestamp)
	}
	return i.key < o.key
}

// AddrList is a bounded, freshness-ordered set of candidate addresses.
// Not safe for concurrent use; owned by the session loop.
type AddrList struct {
	tree     *btree.BTree
	byKey    map[string]*item
	maxItems int

	// Filter rejects addresses before they are admitted, e.g. our own
	// listen endpoint. May be nil.
	Filter func(*net.TCPAddr) bool

	countBySource map[peersource.Source]int
}

// New returns an AddrList holding at most maxItems addresses.
func New(maxItems int) *AddrList {
	return &AddrList{
		tree:          btree.New(2),
		byKey:         make(map[string]*item),
		maxItems:      maxItems,
		countBySource: make(map[peersource.Source]int),
	}
}

// Len returns the number of candidate addresses.
func (a *AddrList) Len() int { return len(a.byKey) }

// LenSource returns how many candidates came from src.
func (a *AddrList) LenSource(src peersource.Source) int { return a.countBySource[src] }

// Reset drops all candidates.
func (a *AddrList) Reset() {
	a.tree.Clear(false)
	a.byKey = make(map[string]*item)
	a.countBySource = make(map[peersource.Source]int)
}

// Push adds addresses learned from src at time now.
// A re-announced address is refreshed in place.
func (a *AddrList) Push(addrs []*net.TCPAddr, src peersource.Source, now time.Time) {
	for _, ad := range addrs {
		if ad.Port == 0 {
			continue
		}
		if a.Filter != nil && !a.Filter(ad) {
			continue
		}
		key := ad.String()
		if it, ok := a.byKey[key]; ok {
			a.tree.Delete(it)
			it.timestamp = now
			a.tree.ReplaceOrInsert(it)
			continue
		}
		it := &item{addr: ad, key: key, timestamp: now, source: src}
		a.byKey[key] = it
		a.tree.ReplaceOrInsert(it)
		a.countBySource[src]++
	}
	for len(a.byKey) > a.maxItems {
		a.deleteItem(a.tree.Min().(*item))
	}
}

// Pop removes and returns the freshest candidate, or nil.
func (a *AddrList) Pop() (*net.TCPAddr, peersource.Source) {
	max := a.tree.Max()
	if max == nil {
		return nil, 0
	}
	it := max.(*item)
	a.deleteItem(it)
	return it.addr, it.source
}

func (a *AddrList) deleteItem(it *item) {
	a.tree.Delete(it)
	delete(a.byKey, it.key)
	a.countBySource[it.source]--
}
