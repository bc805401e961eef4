//go:build !linux && !darwin

package volume

import (
	"os"
	"time"
)

// accessTime has no portable source on other platforms; access time is
// always reported absent (§3 Entity "optional accessed_at").
func accessTime(info os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
