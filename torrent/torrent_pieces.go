package torrent

import (
	"github.com/tidebt/tide/internal/peerprotocol"
)

// handlePieceWritten finishes a piece after storage confirmed the write.
func (t *Torrent) handlePieceWritten(index uint32, err error) {
	s := t.session
	if err != nil {
		t.picker.HandleWriteFailed(index)
		t.setError(err)
		return
	}
	t.picker.HandleDone(index)
	t.bitfield.Set(index)
	s.stats.PiecesDownloaded.Inc(1)
	s.alerts.post(PieceFinishedAlert{InfoHash: t.infoHash, Index: index})
	t.markStateChanged()
	t.updateAnnounceState()

	// Announce the new piece and drop interest in peers that have
	// nothing left for us.
	for pe := range t.peers {
		if pe.Disconnecting {
			continue
		}
		pe.SendMessage(peerprotocol.HaveMessage{Index: index})
		t.updateInterest(pe)
	}

	t.persistProgress()
	t.checkCompletion()
}

// checkCompletion transitions the torrent to seeding when every piece
// verified.
func (t *Torrent) checkCompletion() {
	if t.completed || t.bitfield == nil || !t.bitfield.All() {
		return
	}
	t.completed = true
	t.completedOnce.Do(func() { close(t.completedC) })
	t.session.alerts.post(TorrentFinishedAlert{InfoHash: t.infoHash})
	t.markStateChanged()
	t.updateAnnounceState()

	// Seeds have no use for peers that are also seeds.
	for pe := range t.peers {
		if pe.Disconnecting {
			continue
		}
		if pe.HaveAll || (pe.Bitfield != nil && pe.Bitfield.All()) {
			t.disconnectPeer(pe, nil, OpUnknown)
			continue
		}
		t.updateInterest(pe)
	}
	t.session.updateListMembership(t)
}

// setError moves the torrent into the error state without affecting
// other torrents.
func (t *Torrent) setError(err error) {
	if t.errValue != nil {
		return
	}
	t.errValue = err
	t.log.Errorln("torrent error:", err)
	t.session.alerts.post(TorrentErrorAlert{InfoHash: t.infoHash, Err: err})
	t.markStateChanged()
	t.cancelAllRequests()
	t.session.updateListMembership(t)
}

// cancelAllRequests withdraws every outstanding outbound request.
func (t *Torrent) cancelAllRequests() {
	for pe := range t.peers {
		for index, d := range pe.Downloaders {
			d.CancelPending()
			if t.picker != nil {
				t.picker.HandleCancelDownload(pe, index)
			}
			delete(pe.Downloaders, index)
		}
	}
}
