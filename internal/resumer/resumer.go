// Package resumer persists session state and per-torrent resume data in
// a bbolt database. Values are bencoded dictionaries so other readers of
// the file format can skip keys they do not know.
package resumer

import (
	"github.com/zeebo/bencode"
	bolt "go.etcd.io/bbolt"
)

var (
	sessionBucket  = []byte("session")
	torrentsBucket = []byte("torrents")
	stateKey       = []byte("state")
)

// FileFormat identifies the resume dictionary layout.
const (
	FileFormat  = "tide resume file"
	FileVersion = 1
)

// Spec is the resume data of one torrent.
type Spec struct {
	FileFormat    string             `bencode:"file-format"`
	FileVersion   int                `bencode:"file-version"`
	InfoHash      []byte             `bencode:"info-hash"`
	Name          string             `bencode:"name,omitempty"`
	Pieces        []byte             `bencode:"pieces,omitempty"`
	Trackers      [][]string         `bencode:"trackers,omitempty"`
	SavePath      string             `bencode:"save_path,omitempty"`
	Peers         []byte             `bencode:"peers,omitempty"`
	PiecePriority []byte             `bencode:"piece_priority,omitempty"`
	FilePriority  []byte             `bencode:"file_priority,omitempty"`
	Unfinished    []UnfinishedPiece  `bencode:"unfinished,omitempty"`
	Allocation    string             `bencode:"allocation,omitempty"`
	BlocksPerPiece int               `bencode:"blocks per piece,omitempty"`
	Info          bencode.RawMessage `bencode:"info,omitempty"`
	QueuePosition int                `bencode:"queue_position"`
	Paused        bool               `bencode:"paused,omitempty"`

	Downloaded int64 `bencode:"total_downloaded,omitempty"`
	Uploaded   int64 `bencode:"total_uploaded,omitempty"`
	AddedAt    int64 `bencode:"added_time,omitempty"`
	SeededFor  int64 `bencode:"seeding_time,omitempty"`
}

// UnfinishedPiece records the received blocks of a partial piece.
type UnfinishedPiece struct {
	Piece   uint32 `bencode:"piece"`
	Bitmask []byte `bencode:"bitmask"`
}

// SessionState is the persisted session dictionary. Keys without a field
// here are ignored when decoding and are not written back.
type SessionState struct {
	Settings   bencode.RawMessage `bencode:"settings,omitempty"`
	DHTState   bencode.RawMessage `bencode:"dht state,omitempty"`
	Proxy      bencode.RawMessage `bencode:"proxy,omitempty"`
	Encryption bencode.RawMessage `bencode:"encryption,omitempty"`
	ASMap      bencode.RawMessage `bencode:"AS map,omitempty"`
	Feeds      bencode.RawMessage `bencode:"feeds,omitempty"`
	PeerID     []byte             `bencode:"peer id,omitempty"`
}

// Resumer reads and writes resume state.
type Resumer struct {
	db *bolt.DB
}

// New opens the buckets in db.
func New(db *bolt.DB) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(torrentsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{db: db}, nil
}

// WriteTorrent stores the resume spec of the torrent with id.
func (r *Resumer) WriteTorrent(id string, spec *Spec) error {
	spec.FileFormat = FileFormat
	spec.FileVersion = FileVersion
	value, err := bencode.EncodeBytes(spec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(torrentsBucket).Put([]byte(id), value)
	})
}

// ReadTorrent loads the resume spec of the torrent with id.
func (r *Resumer) ReadTorrent(id string) (*Spec, error) {
	var spec *Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(torrentsBucket).Get([]byte(id))
		if value == nil {
			return nil
		}
		spec = new(Spec)
		return bencode.DecodeBytes(value, spec)
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// DeleteTorrent removes the resume spec of the torrent with id.
func (r *Resumer) DeleteTorrent(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(torrentsBucket).Delete([]byte(id))
	})
}

// TorrentIDs lists the ids of all stored torrents.
func (r *Resumer) TorrentIDs() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(torrentsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// WriteSession stores the session state dictionary.
func (r *Resumer) WriteSession(state *SessionState) error {
	value, err := bencode.EncodeBytes(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(stateKey, value)
	})
}

// ReadSession loads the session state dictionary, or nil if absent.
func (r *Resumer) ReadSession() (*SessionState, error) {
	var state *SessionState
	err := r.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(sessionBucket).Get(stateKey)
		if value == nil {
			return nil
		}
		state = new(SessionState)
		return bencode.DecodeBytes(value, state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
