//go:build windows

package torrent

func setNoFileLimit(n uint64) {}
