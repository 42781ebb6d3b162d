// Package automanager decides which auto-managed torrents are active.
//
// Torrents are partitioned into checking, downloaders and seeds,
// ordered by queue position (seeds by seed rank), and granted active
// slots up to the configured limits. Torrents over the limit are
// gracefully paused; paused torrents granted a slot are resumed.
package automanager

import "sort"

// State of a torrent for auto-management.
type State int

const (
	Checking State = iota
	Downloading
	Seeding
)

// Torrent is the auto-manager's view of a torrent.
type Torrent interface {
	AutoManaged() bool
	AutoManageState() State
	// QueuePosition orders downloaders; -1 means not queued.
	QueuePosition() int
	// SeedRank orders seeds, higher first.
	SeedRank() int
	// Starting reports whether the torrent started recently without
	// producing payload yet; such torrents do not consume a slot.
	Starting() bool
	// AnnouncesToDHT/Trackers/LSD report which discovery mechanisms the
	// torrent uses while active.
	AnnouncesToDHT() bool
	AnnouncesToTrackers() bool
	AnnouncesToLSD() bool

	SetActive(active bool)
}

// Limits of the auto-manager, zero or negative means unlimited.
type Limits struct {
	ActiveDownloads int
	ActiveSeeds     int
	ActiveChecking  int
	ActiveLimit     int
	ActiveDHT       int
	ActiveTracker   int
	ActiveLSD       int
}

type grantCounter struct {
	limit   int
	granted int
}

func (c *grantCounter) grant() bool {
	if c.limit > 0 && c.granted >= c.limit {
		return false
	}
	c.granted++
	return true
}

// Recalculate partitions, sorts and applies active status to all
// auto-managed torrents. Non-auto-managed torrents are untouched.
func Recalculate(torrents []Torrent, limits Limits) {
	var checking, downloaders, seeds []Torrent
	for _, t := range torrents {
		if !t.AutoManaged() {
			continue
		}
		switch t.AutoManageState() {
		case Checking:
			checking = append(checking, t)
		case Downloading:
			downloaders = append(downloaders, t)
		case Seeding:
			seeds = append(seeds, t)
		}
	}
	sort.SliceStable(checking, func(i, j int) bool {
		return checking[i].QueuePosition() < checking[j].QueuePosition()
	})
	sort.SliceStable(downloaders, func(i, j int) bool {
		return downloaders[i].QueuePosition() < downloaders[j].QueuePosition()
	})
	sort.SliceStable(seeds, func(i, j int) bool {
		return seeds[i].SeedRank() > seeds[j].SeedRank()
	})

	total := grantCounter{limit: limits.ActiveLimit}
	checkingC := grantCounter{limit: limits.ActiveChecking}
	downloadsC := grantCounter{limit: limits.ActiveDownloads}
	seedsC := grantCounter{limit: limits.ActiveSeeds}
	dhtC := grantCounter{limit: limits.ActiveDHT}
	trackerC := grantCounter{limit: limits.ActiveTracker}
	lsdC := grantCounter{limit: limits.ActiveLSD}

	apply := func(t Torrent, category *grantCounter) {
		// A starting torrent has not produced payload yet; it runs but
		// does not consume a slot.
		if !t.Starting() {
			if !category.grant() || !total.grant() {
				t.SetActive(false)
				return
			}
		}
		if t.AnnouncesToDHT() && !dhtC.grant() {
			t.SetActive(false)
			return
		}
		if t.AnnouncesToTrackers() && !trackerC.grant() {
			t.SetActive(false)
			return
		}
		if t.AnnouncesToLSD() && !lsdC.grant() {
			t.SetActive(false)
			return
		}
		t.SetActive(true)
	}

	for _, t := range checking {
		apply(t, &checkingC)
	}
	for _, t := range downloaders {
		apply(t, &downloadsC)
	}
	for _, t := range seeds {
		apply(t, &seedsC)
	}
}
