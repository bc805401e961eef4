package action

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/storage"
	"github.com/spacedriveapp/sdcore/internal/volume"
)

// VolumeTrackPayload is the decoded Action.Payload for TypeVolumeTrack.
type VolumeTrackPayload struct {
	MountPoint    string `json:"mount_point"`
	Name          string `json:"name"`
	CapacityBytes int64  `json:"capacity_bytes"`
	Filesystem    string `json:"filesystem"`
}

// RegisterVolumeHandlers wires volume-tracking Actions: registering a
// physical mount as a Volume (§3 Volume), keyed by its stable fingerprint
// so the same physical disk is recognized across remounts, and writing
// the best-effort `.sdvolume` marker at its root (§5, supplemented
// feature 1).
func RegisterVolumeHandlers(m *Manager, store *storage.Store) {
	m.Register(TypeVolumeTrack, func(ctx context.Context, a Action) (Result, error) {
		var p VolumeTrackPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return Result{}, errAction("decode volume_track payload", err)
		}

		device, err := store.CurrentDevice(ctx)
		if err != nil {
			return Result{}, errAction("load current device", err)
		}

		fp := volume.Fingerprint(device.UUID, p.MountPoint, p.Name, p.CapacityBytes, p.Filesystem)

		if existing, err := store.GetVolumeByFingerprint(ctx, fp); err == nil {
			payload, _ := json.Marshal(map[string]string{"volume_uuid": existing.UUID, "status": "already_tracked"})
			return Result{Payload: payload}, nil
		}

		now := time.Now().UnixNano()
		v := &storage.Volume{
			UUID:          uuid.NewString(),
			DeviceID:      device.ID,
			Fingerprint:   fp,
			MountPoint:    p.MountPoint,
			Name:          p.Name,
			CapacityBytes: p.CapacityBytes,
			Filesystem:    p.Filesystem,
			IsMounted:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := store.InsertVolume(ctx, v); err != nil {
			return Result{}, errAction("insert volume row", err)
		}

		volume.WriteMarker(m.logger, p.MountPoint, volume.Marker{
			VolumeUUID: v.UUID,
			DeviceUUID: device.UUID,
			WrittenAt:  now,
		})

		payload, _ := json.Marshal(map[string]string{"volume_uuid": v.UUID, "status": "tracked"})

		return Result{Payload: payload}, nil
	})
}
