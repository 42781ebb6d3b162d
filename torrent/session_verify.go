package torrent

import (
	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/piece"
)

type verifyResult struct {
	t        *Torrent
	bitfield *bitfield.Bitfield
	err      error
}

// startVerifier hashes existing data off-loop to find verified pieces.
func (s *Session) startVerifier(t *Torrent) {
	t.checking = true
	t.markStateChanged()
	pieces := t.pieces
	go func() {
		bf := bitfield.New(uint32(len(pieces)))
		buf := make([]byte, 0)
		var err error
		for i := range pieces {
			pi := &pieces[i]
			if uint32(cap(buf)) < pi.Length {
				buf = make([]byte, pi.Length)
			}
			buf = buf[:pi.Length]
			if _, rerr := pi.Data.ReadAt(buf, 0); rerr != nil {
				continue // unreadable piece counts as missing
			}
			if string(piece.HashBytes(buf)) == string(pi.Hash) {
				bf.Set(uint32(i))
			}
		}
		select {
		case s.verifyC <- verifyResult{t: t, bitfield: bf, err: err}:
		case <-s.closeC:
		}
	}()
}

// handleVerifyResult applies a finished recheck.
func (s *Session) handleVerifyResult(vr verifyResult) {
	t := vr.t
	if _, ok := s.torrents[t.ID()]; !ok {
		return
	}
	t.checking = false
	if vr.err != nil {
		t.setError(vr.err)
		return
	}
	if t.bitfield == nil {
		// Evicted while checking; the next load re-reads resume data.
		return
	}
	for i := uint32(0); i < vr.bitfield.Len(); i++ {
		if vr.bitfield.Test(i) {
			t.bitfield.Set(i)
			t.picker.HandleDone(i)
		}
	}
	t.markStateChanged()
	t.updateAnnounceState()
	t.persistProgress()
	t.checkCompletion()
	s.updateListMembership(t)
}
