package torrent

import "time"

// Status of a torrent.
type Status int

const (
	StatusStopped Status = iota
	StatusChecking
	StatusDownloading
	StatusSeeding
	StatusPaused
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusChecking:
		return "checking"
	case StatusDownloading:
		return "downloading"
	case StatusSeeding:
		return "seeding"
	case StatusPaused:
		return "paused"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Stats is a snapshot of a torrent's state.
type Stats struct {
	Status          Status
	Name            string
	InfoHash        [20]byte
	QueuePosition   int
	Peers           int
	CandidateAddrs  int
	PiecesTotal     uint32
	PiecesHave      uint32
	BytesTotal      int64
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeedDuration    time.Duration
	SwarmSeeders    int
	SwarmLeechers   int
	Endgame         bool
	Error           error
}

func (t *Torrent) status() Status {
	switch {
	case t.errValue != nil:
		return StatusError
	case t.paused:
		return StatusPaused
	case t.checking:
		return StatusChecking
	case !t.active:
		return StatusStopped
	case t.completed:
		return StatusSeeding
	default:
		return StatusDownloading
	}
}

// stats runs on the loop.
func (t *Torrent) stats() Stats {
	st := Stats{
		Status:          t.status(),
		Name:            t.name,
		InfoHash:        t.infoHash,
		QueuePosition:   t.queuePos,
		Peers:           len(t.peers),
		CandidateAddrs:  t.addrList.Len(),
		BytesDownloaded: t.bytesDownloaded,
		BytesUploaded:   t.bytesUploaded,
		BytesWasted:     t.bytesWasted,
		SeedDuration:    t.seedDuration,
		SwarmSeeders:    t.swarmSeeders,
		SwarmLeechers:   t.swarmLeechers,
		Error:           t.errValue,
	}
	if t.info != nil {
		st.BytesTotal = t.info.TotalLength
		st.PiecesTotal = t.info.NumPieces
	}
	if t.bitfield != nil {
		st.PiecesHave = t.bitfield.Count()
	}
	if t.picker != nil {
		st.Endgame = t.picker.Endgame()
	}
	return st
}
