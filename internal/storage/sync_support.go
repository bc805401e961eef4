package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// This file adds the query surface the sync engine (§4.6) and device
// layer (§4.4) need on top of the entity tables declared in models.go:
// uuid-keyed lookups for FK mapping (§4.6.4), full-row upserts for
// device-owned state replication (§4.6.3.a), volume/trust bookkeeping,
// and the shared-change log (§4.6, shared_change_log table).

// GetEntryByUUID loads an Entry by its global identifier, the lookup the
// FK-mapping layer uses to translate an inbound parent_uuid/content_uuid
// into a local int id (§4.6.4).
func (s *Store) GetEntryByUUID(ctx context.Context, uuid string) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE uuid = ?`, uuid))
	if err != nil {
		return nil, fmt.Errorf("storage: get entry by uuid: %w", err)
	}

	return e, nil
}

// EntryIDByUUID resolves just the local id for uuid, the common case for
// FK remapping where the full row isn't needed.
func (s *Store) EntryIDByUUID(ctx context.Context, uuid string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM entries WHERE uuid = ?`, uuid).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// UpsertEntryStateChange applies an inbound device-owned Entry record
// keyed by uuid (§4.6.3.d). parentID and contentID must already be
// resolved to local ids by the caller's FK-mapping pass (§4.6.4); the
// closure table is not touched here — callers rebuild it via
// RebuildClosureFor after this call succeeds.
func (s *Store) UpsertEntryStateChange(ctx context.Context, tx *sql.Tx, e *Entry) (int64, error) {
	row := tx.QueryRowContext(ctx, `
		INSERT INTO entries (uuid, name, kind, extension, content_id, metadata_id, size,
			aggregate_size, child_count, file_count, parent_id, created_at, modified_at, accessed_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, extension = excluded.extension,
			content_id = excluded.content_id, metadata_id = excluded.metadata_id, size = excluded.size,
			aggregate_size = excluded.aggregate_size, child_count = excluded.child_count,
			file_count = excluded.file_count, parent_id = excluded.parent_id,
			modified_at = excluded.modified_at, accessed_at = excluded.accessed_at
		RETURNING id`,
		e.UUID, e.Name, e.Kind, nullString(e.Extension), e.ContentID, e.MetadataID, e.Size,
		e.AggregateSize, e.ChildCount, e.FileCount, e.ParentID, e.CreatedAt, e.ModifiedAt, e.AccessedAt, e.IndexedAt)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: upsert entry state change %s: %w", e.UUID, err)
	}

	return id, nil
}

// DeleteEntryByUUID removes an Entry row, used when a device-owned
// deletion is applied as a state change rather than through the
// shared-change tombstone path (entries are state-based, §4.6 intro).
func (s *Store) DeleteEntryByUUID(ctx context.Context, tx *sql.Tx, uuid string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("storage: delete entry by uuid: %w", err)
	}

	return nil
}

// InsertVolume registers a storage backend (§3 Volume).
func (s *Store) InsertVolume(ctx context.Context, v *Volume) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO volumes (uuid, device_id, fingerprint, mount_point, name, capacity_bytes,
			available_bytes, filesystem, cloud_service, cloud_config, is_mounted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		v.UUID, v.DeviceID, v.Fingerprint, v.MountPoint, v.Name, v.CapacityBytes,
		v.AvailableBytes, v.Filesystem, v.CloudService, v.CloudConfig, v.IsMounted, v.CreatedAt, v.UpdatedAt)

	if err := row.Scan(&v.ID); err != nil {
		return fmt.Errorf("storage: insert volume: %w", err)
	}

	return nil
}

func scanVolume(row interface{ Scan(...any) error }) (*Volume, error) {
	var v Volume
	if err := row.Scan(&v.ID, &v.UUID, &v.DeviceID, &v.Fingerprint, &v.MountPoint, &v.Name,
		&v.CapacityBytes, &v.AvailableBytes, &v.Filesystem, &v.CloudService, &v.CloudConfig,
		&v.IsMounted, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}

	return &v, nil
}

const volumeColumns = `id, uuid, device_id, fingerprint, mount_point, name, capacity_bytes,
	available_bytes, filesystem, cloud_service, cloud_config, is_mounted, created_at, updated_at`

// GetVolumeByFingerprint looks up a Volume by its remount-stable
// fingerprint (§3 Volume, §5 "`.sdvolume` files ... never relied on for
// correctness" — the fingerprint, not the marker file, is authoritative).
func (s *Store) GetVolumeByFingerprint(ctx context.Context, fingerprint string) (*Volume, error) {
	v, err := scanVolume(s.db.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE fingerprint = ?`, fingerprint))
	if err != nil {
		return nil, fmt.Errorf("storage: get volume by fingerprint: %w", err)
	}

	return v, nil
}

// GetVolumeByUUID looks up a Volume by its global identifier.
func (s *Store) GetVolumeByUUID(ctx context.Context, uuid string) (*Volume, error) {
	v, err := scanVolume(s.db.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE uuid = ?`, uuid))
	if err != nil {
		return nil, fmt.Errorf("storage: get volume by uuid: %w", err)
	}

	return v, nil
}

// ListVolumes returns every volume known to this library, across all devices.
func (s *Store) ListVolumes(ctx context.Context) ([]*Volume, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+volumeColumns+` FROM volumes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list volumes: %w", err)
	}
	defer rows.Close()

	var out []*Volume

	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan volume: %w", err)
		}

		out = append(out, v)
	}

	return out, rows.Err()
}

// UpsertVolumeStateChange applies an inbound device-owned Volume record
// keyed by uuid (§4.6 "state-based": "devices, locations, volumes, ...").
func (s *Store) UpsertVolumeStateChange(ctx context.Context, tx *sql.Tx, v *Volume, deviceID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO volumes (uuid, device_id, fingerprint, mount_point, name, capacity_bytes,
			available_bytes, filesystem, cloud_service, cloud_config, is_mounted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			fingerprint = excluded.fingerprint, mount_point = excluded.mount_point, name = excluded.name,
			capacity_bytes = excluded.capacity_bytes, available_bytes = excluded.available_bytes,
			filesystem = excluded.filesystem, cloud_service = excluded.cloud_service,
			cloud_config = excluded.cloud_config, is_mounted = excluded.is_mounted, updated_at = excluded.updated_at`,
		v.UUID, deviceID, v.Fingerprint, v.MountPoint, v.Name, v.CapacityBytes, v.AvailableBytes,
		v.Filesystem, v.CloudService, v.CloudConfig, v.IsMounted, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert volume state change: %w", err)
	}

	return nil
}

// LocationIDByUUID resolves a Location's local id from its uuid, used by
// FK mapping when an inbound Entry or job target references a location.
func (s *Store) LocationIDByUUID(ctx context.Context, uuid string) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM locations WHERE uuid = ?`, uuid).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// UpsertLocationStateChange applies an inbound device-owned Location
// record keyed by uuid (§4.6 state-based replication).
func (s *Store) UpsertLocationStateChange(ctx context.Context, tx *sql.Tx, l *Location) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO locations (uuid, device_id, entry_id, name, index_mode, scan_state,
			aggregate_size, file_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			entry_id = excluded.entry_id, name = excluded.name, index_mode = excluded.index_mode,
			scan_state = excluded.scan_state, aggregate_size = excluded.aggregate_size,
			file_count = excluded.file_count, updated_at = excluded.updated_at`,
		l.UUID, l.DeviceID, l.EntryID, l.Name, l.IndexMode, l.ScanState, l.AggregateSize, l.FileCount,
		l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert location state change: %w", err)
	}

	return nil
}

// UpsertDeviceStateChange applies an inbound Device record describing a
// third device gossiped transitively through a peer (§4.6 "devices" is a
// state-based model). The local "is_current" flag is never touched by
// inbound sync — only InsertDevice at first-pairing time sets it, and
// only for this library's own device.
func (s *Store) UpsertDeviceStateChange(ctx context.Context, tx *sql.Tx, d *Device) error {
	addrsJSON, err := jsonMarshalStrings(d.NetworkAddresses)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (uuid, name, slug, os, os_version, public_key, network_addresses,
			is_online, last_seen_at, capabilities, sync_enabled, last_sync_at, is_current, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name, os = excluded.os, os_version = excluded.os_version,
			public_key = excluded.public_key, network_addresses = excluded.network_addresses,
			capabilities = excluded.capabilities, updated_at = excluded.updated_at`,
		d.UUID, d.Name, d.Slug, d.OS, d.OSVersion, d.PublicKey, addrsJSON,
		d.IsOnline, d.LastSeenAt, d.Capabilities, d.SyncEnabled, d.LastSyncAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert device state change: %w", err)
	}

	return nil
}

// UpsertContentIdentityStateChange applies an inbound ContentIdentity
// record keyed by uuid (§4.6 "state-based": "... content_identities,
// ..."; §4.7 "two devices that independently identify the same bytes...
// converge on the same ContentIdentity uuid"). mimeTypeID is already
// resolved by the caller via UpsertMimeType against the local mime_types
// lookup table, since MIME strings travel on the wire, not their local
// ids (§4.1 Phase 4 "MIME-type strings are themselves deduplicated").
func (s *Store) UpsertContentIdentityStateChange(ctx context.Context, tx *sql.Tx, ci *ContentIdentity, mimeTypeID *int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO content_identities (uuid, content_hash, kind_id, mime_type_id, total_size,
			entry_count, first_seen_at, last_verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			kind_id = excluded.kind_id, mime_type_id = excluded.mime_type_id,
			total_size = excluded.total_size, entry_count = MAX(content_identities.entry_count, excluded.entry_count),
			last_verified_at = excluded.last_verified_at
		ON CONFLICT(content_hash) DO UPDATE SET
			kind_id = excluded.kind_id, mime_type_id = excluded.mime_type_id,
			total_size = excluded.total_size, entry_count = MAX(content_identities.entry_count, excluded.entry_count),
			last_verified_at = excluded.last_verified_at`,
		ci.UUID, ci.ContentHash, ci.KindID, mimeTypeID, ci.TotalSize, ci.EntryCount, ci.FirstSeenAt, ci.LastVerifiedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert content identity state change: %w", err)
	}

	return nil
}

// PairedDeviceTrust is the long-term device public key pinned at pairing
// time, re-consulted on every future reconnect rather than re-derived
// from session keys (§4.4 point 7: "long-term trust is re-established on
// future connections via the device public keys").
type PairedDeviceTrust struct {
	DeviceUUID string
	PublicKey  []byte
	PairedAt   int64
}

// InsertPairedDeviceTrust pins a newly-paired device's public key.
func (s *Store) InsertPairedDeviceTrust(ctx context.Context, t *PairedDeviceTrust) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paired_devices_trust (device_uuid, public_key, paired_at) VALUES (?, ?, ?)
		ON CONFLICT(device_uuid) DO UPDATE SET public_key = excluded.public_key`,
		t.DeviceUUID, t.PublicKey, t.PairedAt)
	if err != nil {
		return fmt.Errorf("storage: insert paired device trust: %w", err)
	}

	return nil
}

// GetPairedDeviceTrust loads the pinned public key for a previously-paired
// device, consulted on reconnect before any session-key negotiation.
func (s *Store) GetPairedDeviceTrust(ctx context.Context, deviceUUID string) (*PairedDeviceTrust, error) {
	var t PairedDeviceTrust
	t.DeviceUUID = deviceUUID

	err := s.db.QueryRowContext(ctx, `
		SELECT public_key, paired_at FROM paired_devices_trust WHERE device_uuid = ?`, deviceUUID).
		Scan(&t.PublicKey, &t.PairedAt)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// SharedChangeRow is one row of the shared_change_log table (§4.6 shared
// change log).
type SharedChangeRow struct {
	HLC        string
	ModelType  string
	RecordUUID string
	ChangeType string
	Data       string
	CreatedAt  int64
}

// AppendSharedChange writes a new outbound or applied shared-change entry,
// keyed by its HLC so replay order and idempotent re-application both work
// off the primary key (§4.6, §4.6.2 point 4).
func (s *Store) AppendSharedChange(ctx context.Context, tx *sql.Tx, row *SharedChangeRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO shared_change_log (hlc, model_type, record_uuid, change_type, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hlc) DO NOTHING`,
		row.HLC, row.ModelType, row.RecordUUID, row.ChangeType, row.Data, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append shared change: %w", err)
	}

	return nil
}

// ListSharedChangesSince returns every shared-change-log entry with an HLC
// strictly greater than sinceHLC, ordered by HLC (§4.6.5 "paged by hlc").
// An empty sinceHLC returns the full log, the initial-backfill case.
func (s *Store) ListSharedChangesSince(ctx context.Context, sinceHLC string, limit int) ([]*SharedChangeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hlc, model_type, record_uuid, change_type, data, created_at
		FROM shared_change_log WHERE hlc > ? ORDER BY hlc LIMIT ?`, sinceHLC, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list shared changes since %q: %w", sinceHLC, err)
	}
	defer rows.Close()

	var out []*SharedChangeRow

	for rows.Next() {
		var r SharedChangeRow
		if err := rows.Scan(&r.HLC, &r.ModelType, &r.RecordUUID, &r.ChangeType, &r.Data, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan shared change: %w", err)
		}

		out = append(out, &r)
	}

	return out, rows.Err()
}

// ListSharedChangesForRecord returns every logged change for one
// record_uuid in HLC order, the comparison set HLC-ordering needs before
// applying an inbound entry (§4.6.3.a: "HLC-order the entry against
// existing log entries with the same record_uuid").
func (s *Store) ListSharedChangesForRecord(ctx context.Context, recordUUID string) ([]*SharedChangeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hlc, model_type, record_uuid, change_type, data, created_at
		FROM shared_change_log WHERE record_uuid = ? ORDER BY hlc`, recordUUID)
	if err != nil {
		return nil, fmt.Errorf("storage: list shared changes for record: %w", err)
	}
	defer rows.Close()

	var out []*SharedChangeRow

	for rows.Next() {
		var r SharedChangeRow
		if err := rows.Scan(&r.HLC, &r.ModelType, &r.RecordUUID, &r.ChangeType, &r.Data, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan shared change: %w", err)
		}

		out = append(out, &r)
	}

	return out, rows.Err()
}

// GetLabelByUUID loads a Label row.
func (s *Store) GetLabelByUUID(ctx context.Context, uuid string) (*Label, error) {
	var l Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, name, created_at, updated_at FROM labels WHERE uuid = ?`, uuid).
		Scan(&l.ID, &l.UUID, &l.Name, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// DeleteLabel removes a Label row by uuid (shared-log Delete application).
func (s *Store) DeleteLabel(ctx context.Context, tx *sql.Tx, uuid string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("storage: delete label: %w", err)
	}

	return nil
}

// DeleteUserMetadata removes a UserMetadata row by uuid.
func (s *Store) DeleteUserMetadata(ctx context.Context, tx *sql.Tx, uuid string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_metadata WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("storage: delete user metadata: %w", err)
	}

	return nil
}

func jsonMarshalStrings(ss []string) (string, error) {
	if ss == nil {
		return "[]", nil
	}

	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("storage: marshal string slice: %w", err)
	}

	return string(b), nil
}
