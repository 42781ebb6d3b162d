// Package peerclass assigns connections to rate-limit classes.
//
// A class bundles a bandwidth limiter with scheduling flags. Connections
// are matched to classes at construction time by address and socket-type
// filters and keep their class set for their lifetime. Classes are
// refcounted: a class stays allocated while any filter rule or
// connection references it.
package peerclass

import (
	"net"

	"github.com/tidebt/tide/internal/bandwidth"
)

// ID identifies a class within a Pool.
type ID int

// SocketType of a peer connection, used by type filters.
type SocketType int

const (
	SocketTCP SocketType = iota
	SocketUTP
	SocketSSL
)

// Class is a rate-limit and policy bucket.
type Class struct {
	Label string
	// IgnoreUnchokeSlots excludes members from unchoke accounting.
	IgnoreUnchokeSlots bool
	// ConnectionLimitFactor scales the global connection limit for
	// members, in percent. 100 means no change.
	ConnectionLimitFactor int

	Limiter *bandwidth.Limiter

	refs int
}

// Pool owns all classes of a session.
type Pool struct {
	classes []*Class
	free    []ID
}

// NewPool returns an empty Pool.
func NewPool() *Pool { return &Pool{} }

// New allocates a class and takes one reference on it.
func (p *Pool) New(label string) ID {
	c := &Class{
		Label:                 label,
		ConnectionLimitFactor: 100,
		Limiter:               bandwidth.NewLimiter(bandwidth.Unlimited, bandwidth.Unlimited),
		refs:                  1,
	}
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.classes[id] = c
		return id
	}
	p.classes = append(p.classes, c)
	return ID(len(p.classes) - 1)
}

// Get returns the class for id, or nil if it was released.
func (p *Pool) Get(id ID) *Class {
	if int(id) >= len(p.classes) {
		return nil
	}
	return p.classes[id]
}

// Ref takes a reference on id.
func (p *Pool) Ref(id ID) {
	if c := p.Get(id); c != nil {
		c.refs++
	}
}

// Unref drops a reference; the class is freed at zero.
func (p *Pool) Unref(id ID) {
	c := p.Get(id)
	if c == nil {
		return
	}
	c.refs--
	if c.refs == 0 {
		p.classes[id] = nil
		p.free = append(p.free, id)
	}
}

// Limiters collects the bandwidth limiters of a class set.
func (p *Pool) Limiters(ids []ID) []*bandwidth.Limiter {
	ls := make([]*bandwidth.Limiter, 0, len(ids))
	for _, id := range ids {
		if c := p.Get(id); c != nil {
			ls = append(ls, c.Limiter)
		}
	}
	return ls
}

// IgnoreUnchokeSlots reports whether any class in ids opts the
// connection out of unchoke accounting.
func (p *Pool) IgnoreUnchokeSlots(ids []ID) bool {
	for _, id := range ids {
		if c := p.Get(id); c != nil && c.IgnoreUnchokeSlots {
			return true
		}
	}
	return false
}

// ConnectionLimitFactor returns the smallest factor among ids, in
// percent. With no classes the factor is 100.
func (p *Pool) ConnectionLimitFactor(ids []ID) int {
	factor := -1
	for _, id := range ids {
		if c := p.Get(id); c != nil && (factor < 0 || c.ConnectionLimitFactor < factor) {
			factor = c.ConnectionLimitFactor
		}
	}
	if factor < 0 {
		return 100
	}
	return factor
}

// IPRule matches an address range to a set of classes.
type IPRule struct {
	First, Last net.IP
	Classes     []ID
}

// Filter assigns classes by remote address and socket type.
type Filter struct {
	ipRules   []IPRule
	typeRules map[SocketType][]ID
}

// NewFilter returns an empty Filter.
func NewFilter() *Filter {
	return &Filter{typeRules: make(map[SocketType][]ID)}
}

// AddIPRange applies classes to addresses in [first, last].
func (f *Filter) AddIPRange(first, last net.IP, classes ...ID) {
	f.ipRules = append(f.ipRules, IPRule{First: first.To16(), Last: last.To16(), Classes: classes})
}

// AddSocketType applies classes to all connections of type st.
func (f *Filter) AddSocketType(st SocketType, classes ...ID) {
	f.typeRules[st] = append(f.typeRules[st], classes...)
}

// Apply returns the class set for a connection, base classes first.
func (f *Filter) Apply(ip net.IP, st SocketType, base []ID) []ID {
	out := make([]ID, 0, len(base)+2)
	out = append(out, base...)
	ip16 := ip.To16()
	for _, r := range f.ipRules {
		if inRange(ip16, r.First, r.Last) {
			out = appendUnique(out, r.Classes)
		}
	}
	out = appendUnique(out, f.typeRules[st])
	return out
}

func inRange(ip, first, last net.IP) bool {
	if ip == nil || first == nil || last == nil {
		return false
	}
	return compareIP(ip, first) >= 0 && compareIP(ip, last) <= 0
}

func compareIP(a, b net.IP) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

func appendUnique(dst []ID, src []ID) []ID {
outer:
	for _, id := range src {
		for _, have := range dst {
			if have == id {
				continue outer
			}
		}
		dst = append(dst, id)
	}
	return dst
}
