//go:build darwin

package archive

import (
	"io/fs"
	"syscall"
	"time"
)

func accessTime(info fs.FileInfo, fallback time.Time) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fallback
	}

	return time.Unix(st.Atimespec.Unix())
}
