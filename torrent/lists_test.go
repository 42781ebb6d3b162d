package torrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newListTorrent() *Torrent {
	t := &Torrent{}
	for i := range t.listIndex {
		t.listIndex[i] = -1
	}
	return t
}

func TestListAddRemove(t *testing.T) {
	l := newTorrentList(listWantTick)
	t1 := newListTorrent()
	t2 := newListTorrent()

	assert.False(t, l.contains(t1))
	l.add(t1)
	assert.True(t, l.contains(t1))
	assert.Equal(t, 1, l.len())

	// Double add is a no-op.
	l.add(t1)
	assert.Equal(t, 1, l.len())

	l.add(t2)
	l.remove(t1)
	assert.False(t, l.contains(t1))
	assert.True(t, l.contains(t2))

	// Removing a non-member is a no-op.
	l.remove(t1)
	assert.Equal(t, 1, l.len())
}

func TestListSwapRemoveKeepsIndexes(t *testing.T) {
	l := newTorrentList(listWantPeersDownload)
	ts := []*Torrent{newListTorrent(), newListTorrent(), newListTorrent(), newListTorrent()}
	for _, x := range ts {
		l.add(x)
	}
	// Remove from the middle; the swapped-in tail element must stay
	// findable and removable.
	l.remove(ts[1])
	assert.True(t, l.contains(ts[3]))
	l.remove(ts[3])
	assert.False(t, l.contains(ts[3]))
	assert.Equal(t, 2, l.len())
	assert.True(t, l.contains(ts[0]))
	assert.True(t, l.contains(ts[2]))
}

func TestSetMembership(t *testing.T) {
	l := newTorrentList(listWantScrape)
	t1 := newListTorrent()
	l.setMembership(t1, true)
	assert.True(t, l.contains(t1))
	l.setMembership(t1, true)
	assert.Equal(t, 1, l.len())
	l.setMembership(t1, false)
	assert.False(t, l.contains(t1))
}

func TestMembershipIndependentAcrossLists(t *testing.T) {
	a := newTorrentList(listWantTick)
	b := newTorrentList(listWantScrape)
	t1 := newListTorrent()
	a.add(t1)
	assert.True(t, a.contains(t1))
	assert.False(t, b.contains(t1))
	b.add(t1)
	a.remove(t1)
	assert.True(t, b.contains(t1))
}
