package torrent

import (
	"github.com/zeebo/bencode"

	"github.com/tidebt/tide/internal/resumer"
)

// savedSettings is the subset of Config persisted in the session state
// dictionary. Readers ignore keys they do not know.
type savedSettings struct {
	ListenPort         int   `bencode:"listen_port"`
	ConnectionsLimit   int   `bencode:"connections_limit"`
	AllowedUploadSlots int   `bencode:"allowed_upload_slots"`
	SpeedLimitDownload int64 `bencode:"download_rate_limit"`
	SpeedLimitUpload   int64 `bencode:"upload_rate_limit"`
}

// saveSessionState persists the session dictionary: settings, DHT state
// and the peer id. Sections we loaded but do not interpret (proxy,
// encryption, AS map, feeds) are copied from the stored state and written
// back unchanged.
func (s *Session) saveSessionState() {
	settings, err := bencode.EncodeBytes(savedSettings{
		ListenPort:         s.listenPort,
		ConnectionsLimit:   s.connectionsLimit,
		AllowedUploadSlots: s.config.AllowedUploadSlots,
		SpeedLimitDownload: s.config.SpeedLimitDownload,
		SpeedLimitUpload:   s.config.SpeedLimitUpload,
	})
	if err != nil {
		s.log.Errorln("cannot encode settings:", err)
		return
	}
	state := &resumer.SessionState{
		Settings: settings,
		PeerID:   s.peerID[:],
	}
	if prev, err := s.res.ReadSession(); err == nil && prev != nil {
		state.Proxy = prev.Proxy
		state.Encryption = prev.Encryption
		state.ASMap = prev.ASMap
		state.Feeds = prev.Feeds
	}
	if s.dhtNode != nil {
		state.DHTState = s.dhtNode.SaveState()
	}
	if err := s.res.WriteSession(state); err != nil {
		s.log.Errorln("cannot write session state:", err)
	}

	for _, t := range s.torrents {
		t.persistProgress()
	}
}
