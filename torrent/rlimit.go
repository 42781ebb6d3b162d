//go:build !windows

package torrent

import "syscall"

// setNoFileLimit raises the open file limit, like "ulimit -n".
func setNoFileLimit(n uint64) {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return
	}
	if n > limit.Max {
		n = limit.Max
	}
	limit.Cur = n
	_ = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limit)
}
