package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type deviceStatements struct {
	insert       *sql.Stmt
	getByUUID    *sql.Stmt
	getBySlug    *sql.Stmt
	listAll      *sql.Stmt
	getCurrent   *sql.Stmt
	setOnline    *sql.Stmt
	updateSync   *sql.Stmt
}

const deviceColumns = `id, uuid, name, slug, os, os_version, public_key, network_addresses,
	is_online, last_seen_at, capabilities, sync_enabled, last_sync_at, is_current, created_at, updated_at`

func prepareDeviceStatements(ctx context.Context, db *sql.DB) (deviceStatements, error) {
	var s deviceStatements

	var err error

	if s.insert, err = db.PrepareContext(ctx, `
		INSERT INTO devices (uuid, name, slug, os, os_version, public_key, network_addresses,
			is_online, last_seen_at, capabilities, sync_enabled, last_sync_at, is_current, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`); err != nil {
		return s, fmt.Errorf("storage: prepare device insert: %w", err)
	}

	if s.getByUUID, err = db.PrepareContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE uuid = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare device getByUUID: %w", err)
	}

	if s.getBySlug, err = db.PrepareContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE slug = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare device getBySlug: %w", err)
	}

	if s.listAll, err = db.PrepareContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name`); err != nil {
		return s, fmt.Errorf("storage: prepare device listAll: %w", err)
	}

	if s.getCurrent, err = db.PrepareContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE is_current = 1`); err != nil {
		return s, fmt.Errorf("storage: prepare device getCurrent: %w", err)
	}

	if s.setOnline, err = db.PrepareContext(ctx, `
		UPDATE devices SET is_online = ?, last_seen_at = ?, network_addresses = ? WHERE uuid = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare device setOnline: %w", err)
	}

	if s.updateSync, err = db.PrepareContext(ctx, `
		UPDATE devices SET sync_enabled = ?, last_sync_at = ? WHERE uuid = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare device updateSync: %w", err)
	}

	return s, nil
}

func scanDevice(row interface{ Scan(...any) error }) (*Device, error) {
	var d Device

	var addrsJSON string

	if err := row.Scan(&d.ID, &d.UUID, &d.Name, &d.Slug, &d.OS, &d.OSVersion, &d.PublicKey, &addrsJSON,
		&d.IsOnline, &d.LastSeenAt, &d.Capabilities, &d.SyncEnabled, &d.LastSyncAt, &d.IsCurrent,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(addrsJSON), &d.NetworkAddresses)

	return &d, nil
}

// InsertDevice registers a new paired device, resolving slug collisions by
// appending a numeric suffix before insertion (§3 Device, §4.4 "Slug
// collision on registration"). Returns the resolved slug so the caller can
// echo it back to the remote during pairing registration.
func (s *Store) InsertDevice(ctx context.Context, d *Device) (string, error) {
	slug, err := s.resolveSlugCollision(ctx, d.Slug)
	if err != nil {
		return "", err
	}

	d.Slug = slug

	addrsJSON, err := json.Marshal(d.NetworkAddresses)
	if err != nil {
		return "", fmt.Errorf("storage: marshal device network addresses: %w", err)
	}

	row := s.deviceStmts.insert.QueryRowContext(ctx, d.UUID, d.Name, d.Slug, d.OS, d.OSVersion,
		d.PublicKey, string(addrsJSON), d.IsOnline, d.LastSeenAt, d.Capabilities, d.SyncEnabled,
		d.LastSyncAt, d.IsCurrent, d.CreatedAt, d.UpdatedAt)

	if err := row.Scan(&d.ID); err != nil {
		return "", fmt.Errorf("storage: insert device: %w", err)
	}

	return d.Slug, nil
}

// resolveSlugCollision appends "-2", "-3", … until the slug is free.
func (s *Store) resolveSlugCollision(ctx context.Context, base string) (string, error) {
	candidate := base

	for n := 2; ; n++ {
		_, err := s.GetDeviceBySlug(ctx, candidate)
		if err == sql.ErrNoRows {
			return candidate, nil
		}

		if err != nil {
			return "", err
		}

		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// GetDeviceByUUID loads a device by its global identifier.
func (s *Store) GetDeviceByUUID(ctx context.Context, uuid string) (*Device, error) {
	return scanDevice(s.deviceStmts.getByUUID.QueryRowContext(ctx, uuid))
}

// GetDeviceBySlug loads a device by its stable human-readable slug.
func (s *Store) GetDeviceBySlug(ctx context.Context, slug string) (*Device, error) {
	return scanDevice(s.deviceStmts.getBySlug.QueryRowContext(ctx, slug))
}

// DeviceUUIDForSlug resolves a device slug to its uuid, satisfying
// sdpath.DeviceResolver so local:// paths can be addressed without the
// sdpath package importing storage directly.
func (s *Store) DeviceUUIDForSlug(ctx context.Context, slug string) (string, error) {
	d, err := s.GetDeviceBySlug(ctx, slug)
	if err != nil {
		return "", err
	}

	return d.UUID, nil
}

// CurrentDevice returns this library's single "current device" row.
// Every library has exactly one (§3 Device).
func (s *Store) CurrentDevice(ctx context.Context) (*Device, error) {
	return scanDevice(s.deviceStmts.getCurrent.QueryRowContext(ctx))
}

// ListDevices returns every known device, paired or current.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.deviceStmts.listAll.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: list devices: %w", err)
	}
	defer rows.Close()

	var out []*Device

	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan device: %w", err)
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// SetDeviceOnline updates presence state observed by the transport layer.
func (s *Store) SetDeviceOnline(ctx context.Context, uuid string, online bool, lastSeenAt int64, addrs []string) error {
	addrsJSON, err := json.Marshal(addrs)
	if err != nil {
		return fmt.Errorf("storage: marshal network addresses: %w", err)
	}

	if _, err := s.deviceStmts.setOnline.ExecContext(ctx, online, lastSeenAt, string(addrsJSON), uuid); err != nil {
		return fmt.Errorf("storage: set device online: %w", err)
	}

	return nil
}

// SetDeviceSyncState records whether sync is enabled for a peer and its
// last successful sync time, consulted by the sync engine's per-peer loop.
func (s *Store) SetDeviceSyncState(ctx context.Context, uuid string, enabled bool, lastSyncAt *int64) error {
	if _, err := s.deviceStmts.updateSync.ExecContext(ctx, enabled, lastSyncAt, uuid); err != nil {
		return fmt.Errorf("storage: set device sync state: %w", err)
	}

	return nil
}
