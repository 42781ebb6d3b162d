package automanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testTorrent struct {
	managed  bool
	state    State
	queuePos int
	seedRank int
	starting bool
	dht      bool
	trackers bool
	lsd      bool

	active    bool
	activeSet bool
}

func (t *testTorrent) AutoManaged() bool           { return t.managed }
func (t *testTorrent) AutoManageState() State      { return t.state }
func (t *testTorrent) QueuePosition() int          { return t.queuePos }
func (t *testTorrent) SeedRank() int               { return t.seedRank }
func (t *testTorrent) Starting() bool              { return t.starting }
func (t *testTorrent) AnnouncesToDHT() bool        { return t.dht }
func (t *testTorrent) AnnouncesToTrackers() bool   { return t.trackers }
func (t *testTorrent) AnnouncesToLSD() bool        { return t.lsd }
func (t *testTorrent) SetActive(active bool)       { t.active = active; t.activeSet = true }

func torrents(ts ...*testTorrent) []Torrent {
	out := make([]Torrent, len(ts))
	for i := range ts {
		out[i] = ts[i]
	}
	return out
}

func TestDownloadersGrantedByQueuePosition(t *testing.T) {
	t1 := &testTorrent{managed: true, state: Downloading, queuePos: 0}
	t2 := &testTorrent{managed: true, state: Downloading, queuePos: 1}
	t3 := &testTorrent{managed: true, state: Downloading, queuePos: 2}

	Recalculate(torrents(t3, t1, t2), Limits{ActiveDownloads: 2})
	assert.True(t, t1.active)
	assert.True(t, t2.active)
	assert.False(t, t3.active)
}

func TestSeedsGrantedBySeedRank(t *testing.T) {
	s1 := &testTorrent{managed: true, state: Seeding, seedRank: 10}
	s2 := &testTorrent{managed: true, state: Seeding, seedRank: 5}

	Recalculate(torrents(s2, s1), Limits{ActiveSeeds: 1})
	assert.True(t, s1.active)
	assert.False(t, s2.active)
}

func TestTotalLimitSpansCategories(t *testing.T) {
	d := &testTorrent{managed: true, state: Downloading}
	s := &testTorrent{managed: true, state: Seeding}

	Recalculate(torrents(d, s), Limits{ActiveDownloads: 1, ActiveSeeds: 1, ActiveLimit: 1})
	assert.True(t, d.active)
	assert.False(t, s.active)
}

func TestStartingTorrentDoesNotConsumeSlot(t *testing.T) {
	starting := &testTorrent{managed: true, state: Downloading, queuePos: 0, starting: true}
	queued := &testTorrent{managed: true, state: Downloading, queuePos: 1}

	Recalculate(torrents(starting, queued), Limits{ActiveDownloads: 1})
	assert.True(t, starting.active)
	assert.True(t, queued.active)
}

func TestNonManagedUntouched(t *testing.T) {
	manual := &testTorrent{managed: false, state: Downloading}
	Recalculate(torrents(manual), Limits{ActiveDownloads: 1})
	assert.False(t, manual.activeSet)
}

func TestDHTLimit(t *testing.T) {
	t1 := &testTorrent{managed: true, state: Downloading, queuePos: 0, dht: true}
	t2 := &testTorrent{managed: true, state: Downloading, queuePos: 1, dht: true}

	Recalculate(torrents(t1, t2), Limits{ActiveDownloads: 5, ActiveDHT: 1})
	assert.True(t, t1.active)
	assert.False(t, t2.active)
}
