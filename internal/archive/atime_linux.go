//go:build linux

package archive

import (
	"io/fs"
	"syscall"
	"time"
)

// accessTime reports the last access time recorded by the filesystem.
func accessTime(info fs.FileInfo, fallback time.Time) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fallback
	}

	return time.Unix(st.Atim.Unix())
}
