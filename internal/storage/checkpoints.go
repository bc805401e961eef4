package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetCheckpoint loads a peer's watermark pair, returning zero-value HLCs
// for an unknown peer (initial backfill case, §4.6.5).
func (s *Store) GetCheckpoint(ctx context.Context, peerDeviceUUID string) (*SyncCheckpoint, error) {
	var c SyncCheckpoint

	c.PeerDeviceUUID = peerDeviceUUID

	err := s.db.QueryRowContext(ctx, `
		SELECT last_state_hlc, last_shared_hlc FROM sync_checkpoints WHERE peer_device_uuid = ?`, peerDeviceUUID).
		Scan(&c.LastStateHLC, &c.LastSharedHLC)
	if err == sql.ErrNoRows {
		return &c, nil
	}

	if err != nil {
		return nil, fmt.Errorf("storage: get checkpoint: %w", err)
	}

	return &c, nil
}

// SaveCheckpoint persists a peer's watermark pair after a page of state or
// shared-change applies successfully. The checkpoint advances only on
// success — a crash mid-page does not rewind progress (§4.6.5, §4.6.6:
// "checkpoint advances only on success").
func (s *Store) SaveCheckpoint(ctx context.Context, c *SyncCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (peer_device_uuid, last_state_hlc, last_shared_hlc)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_device_uuid) DO UPDATE SET
			last_state_hlc = excluded.last_state_hlc,
			last_shared_hlc = excluded.last_shared_hlc`,
		c.PeerDeviceUUID, c.LastStateHLC, c.LastSharedHLC)
	if err != nil {
		return fmt.Errorf("storage: save checkpoint: %w", err)
	}

	return nil
}
