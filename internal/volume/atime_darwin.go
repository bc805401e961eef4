//go:build darwin

package volume

import (
	"os"
	"syscall"
	"time"
)

// accessTime extracts the last-access time from a *syscall.Stat_t. It
// reports false only when info carries no *syscall.Stat_t; on a volume
// mounted noatime the value is whatever the filesystem last recorded
// (§3 Entity "optional accessed_at").
func accessTime(info os.FileInfo) (time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}

	return time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec), true
}
