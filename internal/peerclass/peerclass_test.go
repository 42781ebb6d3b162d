package peerclass

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRefcount(t *testing.T) {
	p := NewPool()
	id := p.New("limited")
	require.NotNil(t, p.Get(id))

	p.Ref(id)
	p.Unref(id)
	assert.NotNil(t, p.Get(id))
	p.Unref(id)
	assert.Nil(t, p.Get(id))

	// The slot is recycled.
	id2 := p.New("other")
	assert.Equal(t, id, id2)
}

func TestFilterByIPRange(t *testing.T) {
	p := NewPool()
	def := p.New("default")
	lan := p.New("lan")
	f := NewFilter()
	f.AddIPRange(net.ParseIP("192.168.0.0"), net.ParseIP("192.168.255.255"), lan)

	got := f.Apply(net.ParseIP("192.168.1.7"), SocketTCP, []ID{def})
	assert.Equal(t, []ID{def, lan}, got)

	got = f.Apply(net.ParseIP("8.8.8.8"), SocketTCP, []ID{def})
	assert.Equal(t, []ID{def}, got)
}

func TestFilterBySocketType(t *testing.T) {
	p := NewPool()
	def := p.New("default")
	utp := p.New("utp")
	f := NewFilter()
	f.AddSocketType(SocketUTP, utp)

	assert.Equal(t, []ID{def, utp}, f.Apply(net.ParseIP("1.2.3.4"), SocketUTP, []ID{def}))
	assert.Equal(t, []ID{def}, f.Apply(net.ParseIP("1.2.3.4"), SocketTCP, []ID{def}))
}

func TestNoDuplicateClasses(t *testing.T) {
	p := NewPool()
	def := p.New("default")
	f := NewFilter()
	f.AddIPRange(net.ParseIP("0.0.0.0"), net.ParseIP("255.255.255.255"), def)

	got := f.Apply(net.ParseIP("1.2.3.4"), SocketTCP, []ID{def})
	assert.Equal(t, []ID{def}, got)
}

func TestConnectionLimitFactor(t *testing.T) {
	p := NewPool()
	a := p.New("a")
	b := p.New("b")
	p.Get(b).ConnectionLimitFactor = 50
	assert.Equal(t, 100, p.ConnectionLimitFactor([]ID{a}))
	assert.Equal(t, 50, p.ConnectionLimitFactor([]ID{a, b}))
}

func TestIgnoreUnchokeSlots(t *testing.T) {
	p := NewPool()
	a := p.New("a")
	b := p.New("b")
	p.Get(b).IgnoreUnchokeSlots = true
	assert.False(t, p.IgnoreUnchokeSlots([]ID{a}))
	assert.True(t, p.IgnoreUnchokeSlots([]ID{a, b}))
}
