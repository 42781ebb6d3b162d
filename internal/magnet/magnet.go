// Package magnet parses magnet links.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

// Magnet is a parsed magnet link.
type Magnet struct {
	InfoHash [20]byte
	Name     string
	Trackers [][]string
	Peers    []string
}

// New parses a magnet link in s.
func New(s string) (*Magnet, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, errors.New("not a magnet link")
	}
	params := u.Query()

	xts := params["xt"]
	if len(xts) == 0 {
		return nil, errors.New("missing xt param")
	}
	var m Magnet
	var found bool
	for _, xt := range xts {
		if !strings.HasPrefix(xt, "urn:btih:") {
			continue
		}
		ih, err := parseInfoHash(xt[len("urn:btih:"):])
		if err != nil {
			return nil, err
		}
		m.InfoHash = ih
		found = true
		break
	}
	if !found {
		return nil, errors.New("missing btih urn")
	}
	m.Name = params.Get("dn")
	for _, tr := range params["tr"] {
		m.Trackers = append(m.Trackers, []string{tr})
	}
	m.Peers = params["x.pe"]
	return &m, nil
}

func parseInfoHash(s string) (ih [20]byte, err error) {
	switch len(s) {
	case 40:
		var b []byte
		b, err = hex.DecodeString(s)
		if err != nil {
			return
		}
		copy(ih[:], b)
	case 32:
		var b []byte
		b, err = base32.StdEncoding.DecodeString(s)
		if err != nil {
			return
		}
		copy(ih[:], b)
	default:
		err = errors.New("invalid infohash length")
	}
	return
}
