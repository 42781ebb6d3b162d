// Package metainfo reads and writes .torrent files.
package metainfo

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// Creator is the "created by" string put into torrents built by NewBytes.
var Creator string

// MetaInfo is a parsed .torrent file.
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string
	URLList      []string
}

// New parses a bencoded torrent from r.
func New(r io.Reader) (*MetaInfo, error) {
	var ret MetaInfo
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
		URLList      bencode.RawMessage `bencode:"url-list"`
	}
	if err := bencode.NewDecoder(r).Decode(&t); err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	ret.Info = *info
	if len(t.AnnounceList) > 0 {
		var ll [][]string
		if err = bencode.DecodeBytes(t.AnnounceList, &ll); err == nil {
			for _, tier := range ll {
				var ti []string
				for _, u := range tier {
					if isTrackerSupported(u) {
						ti = append(ti, u)
					}
				}
				if len(ti) > 0 {
					ret.AnnounceList = append(ret.AnnounceList, ti)
				}
			}
		}
	} else {
		var s string
		if err = bencode.DecodeBytes(t.Announce, &s); err == nil && isTrackerSupported(s) {
			ret.AnnounceList = append(ret.AnnounceList, []string{s})
		}
	}
	if len(t.URLList) > 0 {
		if t.URLList[0] == 'l' {
			var l []string
			if err = bencode.DecodeBytes(t.URLList, &l); err == nil {
				ret.URLList = l
			}
		} else {
			var s string
			if err = bencode.DecodeBytes(t.URLList, &s); err == nil {
				ret.URLList = []string{s}
			}
		}
	}
	return &ret, nil
}

func isTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "udp://")
}

// NewBytes builds a bencoded .torrent from a raw info dict.
func NewBytes(info []byte, trackers [][]string, webseeds []string, comment string) ([]byte, error) {
	mi := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
		URLList      []string           `bencode:"url-list,omitempty"`
		Comment      string             `bencode:"comment,omitempty"`
		CreationDate int64              `bencode:"creation date"`
		CreatedBy    string             `bencode:"created by,omitempty"`
	}{
		Info:         info,
		AnnounceList: trackers,
		URLList:      webseeds,
		Comment:      comment,
		CreationDate: time.Now().UTC().Unix(),
		CreatedBy:    Creator,
	}
	if len(trackers) > 0 && len(trackers[0]) > 0 {
		mi.Announce = trackers[0][0]
	}
	return bencode.EncodeBytes(mi)
}
