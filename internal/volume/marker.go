package volume

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// markerFileName is the advisory per-volume marker written at a volume's
// root (§5 Shared-resource policy: "`.sdvolume` files at volume roots are
// advisory and written best-effort; never relied on for correctness.").
const markerFileName = ".sdvolume"

// Marker is the best-effort content of a `.sdvolume` file: enough for a
// human or another Spacedrive instance to recognize which library last
// claimed this volume, without it ever gating correctness.
type Marker struct {
	LibraryUUID string `json:"library_uuid"`
	VolumeUUID  string `json:"volume_uuid"`
	DeviceUUID  string `json:"device_uuid"`
	WrittenAt   int64  `json:"written_at"`
}

// WriteMarker writes (or overwrites) the `.sdvolume` marker at root. Any
// failure is logged and swallowed — the marker is advisory, never a
// correctness dependency (§5).
func WriteMarker(logger *slog.Logger, root string, m Marker) {
	path := filepath.Join(root, markerFileName)

	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		logger.Warn("volume: marshal marker failed", "path", path, "error", err)
		return
	}

	if err := os.WriteFile(path, blob, 0o644); err != nil {
		logger.Warn("volume: write marker failed", "path", path, "error", err)
		return
	}

	logger.Debug("volume: wrote marker", "path", path, "marker", markerDescribe(m))
}

// ReadMarker reads and parses a `.sdvolume` marker at root. Returns
// (Marker{}, false) for any failure — missing file, unreadable, or
// malformed JSON — since callers must never treat its absence as an
// error (§5).
func ReadMarker(root string) (Marker, bool) {
	blob, err := os.ReadFile(filepath.Join(root, markerFileName))
	if err != nil {
		return Marker{}, false
	}

	var m Marker
	if err := json.Unmarshal(blob, &m); err != nil {
		return Marker{}, false
	}

	return m, true
}

// markerDescribe renders a Marker for log messages.
func markerDescribe(m Marker) string {
	return fmt.Sprintf("library=%s volume=%s device=%s", m.LibraryUUID, m.VolumeUUID, m.DeviceUUID)
}
