package volume

import (
	"strconv"

	"github.com/spacedriveapp/sdcore/internal/content"
)

// Fingerprint computes a Volume's stable fingerprint (§3 Volume:
// "BLAKE3 of device-id ⧺ mount-point ⧺ name ⧺ capacity ⧺ filesystem —
// stable across remounts"). Capacity is included so a filesystem resize
// (rare) produces a new fingerprint rather than silently aliasing the old
// volume, while a remount at the same mount point with the same capacity
// keeps the original fingerprint.
func Fingerprint(deviceUUID, mountPoint, name string, capacityBytes int64, filesystem string) string {
	return content.Fingerprint(deviceUUID, mountPoint, name, strconv.FormatInt(capacityBytes, 10), filesystem)
}
