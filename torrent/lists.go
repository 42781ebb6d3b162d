package torrent

// Session-level torrent lists. Membership is tracked by an index stored
// on the torrent, so insert, remove and contains are O(1).
type listID int

const (
	listWantTick listID = iota
	listWantPeersDownload
	listWantPeersFinished
	listWantScrape
	listStateUpdates
	listLoaded
	numTorrentLists
)

type torrentList struct {
	id    listID
	items []*Torrent
}

func newTorrentList(id listID) *torrentList {
	return &torrentList{id: id}
}

func (l *torrentList) contains(t *Torrent) bool {
	return t.listIndex[l.id] >= 0
}

func (l *torrentList) add(t *Torrent) {
	if l.contains(t) {
		return
	}
	t.listIndex[l.id] = len(l.items)
	l.items = append(l.items, t)
}

func (l *torrentList) remove(t *Torrent) {
	i := t.listIndex[l.id]
	if i < 0 {
		return
	}
	last := len(l.items) - 1
	l.items[i] = l.items[last]
	l.items[i].listIndex[l.id] = i
	l.items = l.items[:last]
	t.listIndex[l.id] = -1
}

// setMembership reconciles the list with a predicate value.
func (l *torrentList) setMembership(t *Torrent, member bool) {
	if member {
		l.add(t)
	} else {
		l.remove(t)
	}
}

func (l *torrentList) len() int { return len(l.items) }

// updateListMembership re-evaluates every membership predicate of t.
// Called after any state change that may flip one (invariant: a torrent
// is in a list iff its predicate holds).
func (s *Session) updateListMembership(t *Torrent) {
	s.lists[listWantTick].setMembership(t, t.wantTick())
	s.lists[listWantPeersDownload].setMembership(t, t.wantPeersDownload())
	s.lists[listWantPeersFinished].setMembership(t, t.wantPeersFinished())
	s.lists[listWantScrape].setMembership(t, t.wantScrape())
}
