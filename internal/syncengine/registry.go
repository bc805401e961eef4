package syncengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

// WireRow is one record paged out of a model's QueryForSync, ready to be
// wrapped in a StateChange or a shared-state SnapshotRecord.
type WireRow struct {
	UUID string
	Data json.RawMessage
}

// ModelHandlers is the per-model registry entry §4.6's "apply state
// changes from a snapshot by iterating the model registry" describes:
// its declared FK fields, how to apply an inbound upsert or deletion,
// and how to page its own rows out for a peer that is behind.
type ModelHandlers struct {
	ForeignKeys []FKField
	IsSharedLog bool

	ApplyUpsert   func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (uuid string, err error)
	ApplyDeletion func(ctx context.Context, tx *sql.Tx, store *storage.Store, uuid string) error
	QueryPage     func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) (rows []WireRow, nextCursor string, exhausted bool, err error)
}

// Registry maps a model_type name to its handlers.
type Registry map[string]ModelHandlers

// NewRegistry builds the registry for every model §4.6 names: the
// state-based set (entries, locations, volumes, devices,
// content_identities, user_metadata) plus the shared-log set (tags,
// labels).
func NewRegistry() Registry {
	return Registry{
		"entry":            entryHandlers(),
		"location":         locationHandlers(),
		"volume":           volumeHandlers(),
		"device":           deviceHandlers(),
		"content_identity": contentIdentityHandlers(),
		"user_metadata":    userMetadataHandlers(),
		"tag":              tagHandlers(),
		"label":            labelHandlers(),
	}
}

func entryWireToStorage(w *entryWire, mapper *FKMapper, ctx context.Context) (*storage.Entry, error) {
	ids, err := mapper.IDsForUUIDs(ctx, "entries", []string{w.ParentUUID})
	if err != nil {
		return nil, err
	}

	contentIDs, err := mapper.IDsForUUIDs(ctx, "content_identities", []string{w.ContentUUID})
	if err != nil {
		return nil, err
	}

	metadataIDs, err := mapper.IDsForUUIDs(ctx, "user_metadata", []string{w.MetadataUUID})
	if err != nil {
		return nil, err
	}

	if err := RequireResolved("entries", []string{w.ParentUUID}, ids); err != nil {
		return nil, err
	}

	if err := RequireResolved("content_identities", []string{w.ContentUUID}, contentIDs); err != nil {
		return nil, err
	}

	if err := RequireResolved("user_metadata", []string{w.MetadataUUID}, metadataIDs); err != nil {
		return nil, err
	}

	e := &storage.Entry{
		UUID:          w.UUID,
		Name:          w.Name,
		Kind:          storage.EntryKind(w.Kind),
		Extension:     w.Extension,
		Size:          w.Size,
		AggregateSize: w.AggregateSize,
		ChildCount:    w.ChildCount,
		FileCount:     w.FileCount,
		CreatedAt:     w.CreatedAt,
		ModifiedAt:    w.ModifiedAt,
		AccessedAt:    w.AccessedAt,
	}

	if w.ParentUUID != "" {
		id := ids[w.ParentUUID]
		e.ParentID = &id
	}

	if w.ContentUUID != "" {
		id := contentIDs[w.ContentUUID]
		e.ContentID = &id
	}

	if w.MetadataUUID != "" {
		id := metadataIDs[w.MetadataUUID]
		e.MetadataID = &id
	}

	return e, nil
}

// entryWire is Entry's FK-mapped wire shape (§4.6.4's own worked
// example: "Entry has {parent_id -> entries, metadata_id ->
// user_metadata, content_id -> content_identities}").
type entryWire struct {
	UUID          string `json:"uuid"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Extension     string `json:"extension,omitempty"`
	ParentUUID    string `json:"parent_uuid,omitempty"`
	ContentUUID   string `json:"content_uuid,omitempty"`
	MetadataUUID  string `json:"metadata_uuid,omitempty"`
	Size          int64  `json:"size"`
	AggregateSize int64  `json:"aggregate_size"`
	ChildCount    int64  `json:"child_count"`
	FileCount     int64  `json:"file_count"`
	CreatedAt     int64  `json:"created_at"`
	ModifiedAt    int64  `json:"modified_at"`
	AccessedAt    *int64 `json:"accessed_at,omitempty"`

	// DirectoryPath carries the sending device's absolute path for a
	// directory entry. §4.6.3.d: "either accept an inline directory_path
	// (preferred for location roots) or leave the path to be rebuilt in a
	// post-backfill pass." Per §9's open-question resolution, the
	// receiver never overwrites an already-known path with this value —
	// it only materializes a path the receiver has not seen before, so a
	// stale or differently-mounted remote path can never clobber a
	// locally-correct one.
	DirectoryPath string `json:"directory_path,omitempty"`
}

func entryHandlers() ModelHandlers {
	return ModelHandlers{
		ForeignKeys: entryFKs,
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w entryWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode entry wire: %w", err)
			}

			e, err := entryWireToStorage(&w, mapper, ctx)
			if err != nil {
				return "", err
			}

			id, err := store.UpsertEntryStateChange(ctx, tx, e)
			if err != nil {
				return "", err
			}

			// §4.6.3.d: immediately rebuild this entry's closure rows.
			if err := storage.RebuildClosureFor(ctx, tx, store.ClosureStatements(), id, e.ParentID); err != nil {
				return "", err
			}

			if e.Kind == storage.EntryKindDirectory && w.DirectoryPath != "" {
				if _, err := store.DirectoryPathOf(ctx, id); err != nil {
					// No path recorded locally yet: safe to materialize the
					// sender's. An existing path is left untouched (see
					// entryWire.DirectoryPath's doc comment).
					if err := storage.UpsertDirectoryPath(ctx, tx, store.PathStatements(), id, w.DirectoryPath); err != nil {
						return "", err
					}
				}
			}

			return w.UUID, nil
		},
		ApplyDeletion: func(ctx context.Context, tx *sql.Tx, store *storage.Store, uuid string) error {
			return store.DeleteEntryByUUID(ctx, tx, uuid)
		},
		QueryPage: func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) ([]WireRow, string, bool, error) {
			ts, uuid, err := parseCursor(sinceCursor)
			if err != nil {
				return nil, "", false, err
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT id, uuid, name, kind, extension, content_id, metadata_id, size, aggregate_size,
					child_count, file_count, parent_id, created_at, modified_at, accessed_at, indexed_at
				FROM entries
				WHERE uuid != '' AND (indexed_at > ? OR (indexed_at = ? AND uuid > ?))
				ORDER BY indexed_at, uuid LIMIT ?`, ts, ts, uuid, limit)
			if err != nil {
				return nil, "", false, fmt.Errorf("syncengine: page entries: %w", err)
			}
			defer rows.Close()

			var (
				out        []WireRow
				parentIDs  []int64
				contentIDs []int64
				metaIDs    []int64
				pending    []*storage.Entry
				lastCursor string
			)

			for rows.Next() {
				var e storage.Entry

				var (
					extension sql.NullString
					indexedAt sql.NullInt64
				)

				if err := rows.Scan(&e.ID, &e.UUID, &e.Name, &e.Kind, &extension, &e.ContentID, &e.MetadataID,
					&e.Size, &e.AggregateSize, &e.ChildCount, &e.FileCount, &e.ParentID, &e.CreatedAt,
					&e.ModifiedAt, &e.AccessedAt, &indexedAt); err != nil {
					return nil, "", false, fmt.Errorf("syncengine: scan entry page: %w", err)
				}

				e.Extension = extension.String
				if indexedAt.Valid {
					e.IndexedAt = &indexedAt.Int64
					lastCursor = fmt.Sprintf("%d|%s", indexedAt.Int64, e.UUID)
				}

				pending = append(pending, &e)

				if e.ParentID != nil {
					parentIDs = append(parentIDs, *e.ParentID)
				}

				if e.ContentID != nil {
					contentIDs = append(contentIDs, *e.ContentID)
				}

				if e.MetadataID != nil {
					metaIDs = append(metaIDs, *e.MetadataID)
				}
			}

			if err := rows.Err(); err != nil {
				return nil, "", false, err
			}

			parentUUIDs, err := mapper.UUIDsForIDs(ctx, "entries", parentIDs)
			if err != nil {
				return nil, "", false, err
			}

			contentUUIDs, err := mapper.UUIDsForIDs(ctx, "content_identities", contentIDs)
			if err != nil {
				return nil, "", false, err
			}

			metaUUIDs, err := mapper.UUIDsForIDs(ctx, "user_metadata", metaIDs)
			if err != nil {
				return nil, "", false, err
			}

			for _, e := range pending {
				w := entryWire{
					UUID: e.UUID, Name: e.Name, Kind: string(e.Kind), Extension: e.Extension,
					Size: e.Size, AggregateSize: e.AggregateSize, ChildCount: e.ChildCount,
					FileCount: e.FileCount, CreatedAt: e.CreatedAt, ModifiedAt: e.ModifiedAt, AccessedAt: e.AccessedAt,
				}

				if e.ParentID != nil {
					w.ParentUUID = parentUUIDs[*e.ParentID]
				}

				if e.ContentID != nil {
					w.ContentUUID = contentUUIDs[*e.ContentID]
				}

				if e.MetadataID != nil {
					w.MetadataUUID = metaUUIDs[*e.MetadataID]
				}

				if e.Kind == storage.EntryKindDirectory {
					if path, err := store.DirectoryPathOf(ctx, e.ID); err == nil {
						w.DirectoryPath = path
					}
				}

				data, err := json.Marshal(w)
				if err != nil {
					return nil, "", false, err
				}

				out = append(out, WireRow{UUID: e.UUID, Data: data})
			}

			exhausted := len(out) < limit
			if lastCursor == "" {
				lastCursor = sinceCursor
			}

			return out, lastCursor, exhausted, nil
		},
	}
}

type locationWire struct {
	UUID          string `json:"uuid"`
	DeviceUUID    string `json:"device_uuid"`
	EntryUUID     string `json:"entry_uuid"`
	Name          string `json:"name"`
	IndexMode     string `json:"index_mode"`
	ScanState     string `json:"scan_state"`
	AggregateSize int64  `json:"aggregate_size"`
	FileCount     int64  `json:"file_count"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

func locationHandlers() ModelHandlers {
	return ModelHandlers{
		ForeignKeys: locationFKs,
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w locationWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode location wire: %w", err)
			}

			deviceIDs, err := mapper.IDsForUUIDs(ctx, "devices", []string{w.DeviceUUID})
			if err != nil {
				return "", err
			}

			entryIDs, err := mapper.IDsForUUIDs(ctx, "entries", []string{w.EntryUUID})
			if err != nil {
				return "", err
			}

			if err := RequireResolved("devices", []string{w.DeviceUUID}, deviceIDs); err != nil {
				return "", err
			}

			if err := RequireResolved("entries", []string{w.EntryUUID}, entryIDs); err != nil {
				return "", err
			}

			l := &storage.Location{
				UUID: w.UUID, DeviceID: deviceIDs[w.DeviceUUID], EntryID: entryIDs[w.EntryUUID],
				Name: w.Name, IndexMode: w.IndexMode, ScanState: w.ScanState,
				AggregateSize: w.AggregateSize, FileCount: w.FileCount,
				CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
			}

			return w.UUID, store.UpsertLocationStateChange(ctx, tx, l)
		},
		QueryPage: func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) ([]WireRow, string, bool, error) {
			ts, uuid, err := parseCursor(sinceCursor)
			if err != nil {
				return nil, "", false, err
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT l.uuid, d.uuid, e.uuid, l.name, l.index_mode, l.scan_state,
					l.aggregate_size, l.file_count, l.created_at, l.updated_at
				FROM locations l
				JOIN devices d ON d.id = l.device_id
				JOIN entries e ON e.id = l.entry_id
				WHERE l.updated_at > ? OR (l.updated_at = ? AND l.uuid > ?)
				ORDER BY l.updated_at, l.uuid LIMIT ?`, ts, ts, uuid, limit)
			if err != nil {
				return nil, "", false, fmt.Errorf("syncengine: page locations: %w", err)
			}
			defer rows.Close()

			var (
				out        []WireRow
				lastCursor string
			)

			for rows.Next() {
				var w locationWire
				if err := rows.Scan(&w.UUID, &w.DeviceUUID, &w.EntryUUID, &w.Name, &w.IndexMode, &w.ScanState,
					&w.AggregateSize, &w.FileCount, &w.CreatedAt, &w.UpdatedAt); err != nil {
					return nil, "", false, fmt.Errorf("syncengine: scan location page: %w", err)
				}

				data, err := json.Marshal(w)
				if err != nil {
					return nil, "", false, err
				}

				out = append(out, WireRow{UUID: w.UUID, Data: data})
				lastCursor = fmt.Sprintf("%d|%s", w.UpdatedAt, w.UUID)
			}

			if err := rows.Err(); err != nil {
				return nil, "", false, err
			}

			if lastCursor == "" {
				lastCursor = sinceCursor
			}

			return out, lastCursor, len(out) < limit, nil
		},
	}
}

type volumeWire struct {
	UUID           string  `json:"uuid"`
	DeviceUUID     string  `json:"device_uuid"`
	Fingerprint    string  `json:"fingerprint"`
	MountPoint     string  `json:"mount_point"`
	Name           string  `json:"name"`
	CapacityBytes  int64   `json:"capacity_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	Filesystem     string  `json:"filesystem"`
	CloudService   *string `json:"cloud_service,omitempty"`
	CloudConfig    *string `json:"cloud_config,omitempty"`
	IsMounted      bool    `json:"is_mounted"`
	CreatedAt      int64   `json:"created_at"`
	UpdatedAt      int64   `json:"updated_at"`
}

func volumeHandlers() ModelHandlers {
	return ModelHandlers{
		ForeignKeys: volumeFKs,
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w volumeWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode volume wire: %w", err)
			}

			deviceIDs, err := mapper.IDsForUUIDs(ctx, "devices", []string{w.DeviceUUID})
			if err != nil {
				return "", err
			}

			if err := RequireResolved("devices", []string{w.DeviceUUID}, deviceIDs); err != nil {
				return "", err
			}

			v := &storage.Volume{
				UUID: w.UUID, Fingerprint: w.Fingerprint, MountPoint: w.MountPoint, Name: w.Name,
				CapacityBytes: w.CapacityBytes, AvailableBytes: w.AvailableBytes, Filesystem: w.Filesystem,
				CloudService: w.CloudService, CloudConfig: w.CloudConfig, IsMounted: w.IsMounted,
				CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
			}

			return w.UUID, store.UpsertVolumeStateChange(ctx, tx, v, deviceIDs[w.DeviceUUID])
		},
		QueryPage: func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) ([]WireRow, string, bool, error) {
			ts, uuid, err := parseCursor(sinceCursor)
			if err != nil {
				return nil, "", false, err
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT v.uuid, d.uuid, v.fingerprint, v.mount_point, v.name, v.capacity_bytes,
					v.available_bytes, v.filesystem, v.cloud_service, v.cloud_config, v.is_mounted,
					v.created_at, v.updated_at
				FROM volumes v
				JOIN devices d ON d.id = v.device_id
				WHERE v.updated_at > ? OR (v.updated_at = ? AND v.uuid > ?)
				ORDER BY v.updated_at, v.uuid LIMIT ?`, ts, ts, uuid, limit)
			if err != nil {
				return nil, "", false, fmt.Errorf("syncengine: page volumes: %w", err)
			}
			defer rows.Close()

			var (
				out        []WireRow
				lastCursor string
			)

			for rows.Next() {
				var w volumeWire
				if err := rows.Scan(&w.UUID, &w.DeviceUUID, &w.Fingerprint, &w.MountPoint, &w.Name,
					&w.CapacityBytes, &w.AvailableBytes, &w.Filesystem, &w.CloudService, &w.CloudConfig,
					&w.IsMounted, &w.CreatedAt, &w.UpdatedAt); err != nil {
					return nil, "", false, fmt.Errorf("syncengine: scan volume page: %w", err)
				}

				data, err := json.Marshal(w)
				if err != nil {
					return nil, "", false, err
				}

				out = append(out, WireRow{UUID: w.UUID, Data: data})
				lastCursor = fmt.Sprintf("%d|%s", w.UpdatedAt, w.UUID)
			}

			if err := rows.Err(); err != nil {
				return nil, "", false, err
			}

			if lastCursor == "" {
				lastCursor = sinceCursor
			}

			return out, lastCursor, len(out) < limit, nil
		},
	}
}

type deviceWire struct {
	UUID             string   `json:"uuid"`
	Name             string   `json:"name"`
	Slug             string   `json:"slug"`
	OS               string   `json:"os"`
	OSVersion        string   `json:"os_version"`
	PublicKey        []byte   `json:"public_key"`
	NetworkAddresses []string `json:"network_addresses"`
	IsOnline         bool     `json:"is_online"`
	LastSeenAt       *int64   `json:"last_seen_at,omitempty"`
	Capabilities     string   `json:"capabilities"`
	SyncEnabled      bool     `json:"sync_enabled"`
	LastSyncAt       *int64   `json:"last_sync_at,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

func deviceHandlers() ModelHandlers {
	return ModelHandlers{
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w deviceWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode device wire: %w", err)
			}

			d := &storage.Device{
				UUID: w.UUID, Name: w.Name, Slug: w.Slug, OS: w.OS, OSVersion: w.OSVersion,
				PublicKey: w.PublicKey, NetworkAddresses: w.NetworkAddresses, IsOnline: w.IsOnline,
				LastSeenAt: w.LastSeenAt, Capabilities: w.Capabilities, SyncEnabled: w.SyncEnabled,
				LastSyncAt: w.LastSyncAt, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
			}

			return w.UUID, store.UpsertDeviceStateChange(ctx, tx, d)
		},
		QueryPage: func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) ([]WireRow, string, bool, error) {
			ts, uuid, err := parseCursor(sinceCursor)
			if err != nil {
				return nil, "", false, err
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT uuid, name, slug, os, os_version, public_key, network_addresses, is_online,
					last_seen_at, capabilities, sync_enabled, last_sync_at, created_at, updated_at
				FROM devices
				WHERE updated_at > ? OR (updated_at = ? AND uuid > ?)
				ORDER BY updated_at, uuid LIMIT ?`, ts, ts, uuid, limit)
			if err != nil {
				return nil, "", false, fmt.Errorf("syncengine: page devices: %w", err)
			}
			defer rows.Close()

			var (
				out        []WireRow
				lastCursor string
			)

			for rows.Next() {
				var (
					w         deviceWire
					addrsJSON string
				)

				if err := rows.Scan(&w.UUID, &w.Name, &w.Slug, &w.OS, &w.OSVersion, &w.PublicKey, &addrsJSON,
					&w.IsOnline, &w.LastSeenAt, &w.Capabilities, &w.SyncEnabled, &w.LastSyncAt,
					&w.CreatedAt, &w.UpdatedAt); err != nil {
					return nil, "", false, fmt.Errorf("syncengine: scan device page: %w", err)
				}

				if addrsJSON != "" {
					if err := json.Unmarshal([]byte(addrsJSON), &w.NetworkAddresses); err != nil {
						return nil, "", false, fmt.Errorf("syncengine: decode device network_addresses: %w", err)
					}
				}

				data, err := json.Marshal(w)
				if err != nil {
					return nil, "", false, err
				}

				out = append(out, WireRow{UUID: w.UUID, Data: data})
				lastCursor = fmt.Sprintf("%d|%s", w.UpdatedAt, w.UUID)
			}

			if err := rows.Err(); err != nil {
				return nil, "", false, err
			}

			if lastCursor == "" {
				lastCursor = sinceCursor
			}

			return out, lastCursor, len(out) < limit, nil
		},
	}
}

type userMetadataWire struct {
	UUID      string `json:"uuid"`
	Note      string `json:"note"`
	Favorite  bool   `json:"favorite"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func userMetadataHandlers() ModelHandlers {
	return ModelHandlers{
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w userMetadataWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode user_metadata wire: %w", err)
			}

			m := &storage.UserMetadata{
				UUID: w.UUID, Note: w.Note, Favorite: w.Favorite, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
			}

			return w.UUID, store.UpsertUserMetadata(ctx, tx, m)
		},
		ApplyDeletion: func(ctx context.Context, tx *sql.Tx, store *storage.Store, uuid string) error {
			return store.DeleteUserMetadata(ctx, tx, uuid)
		},
		QueryPage: func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) ([]WireRow, string, bool, error) {
			ts, uuid, err := parseCursor(sinceCursor)
			if err != nil {
				return nil, "", false, err
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT uuid, note, favorite, created_at, updated_at
				FROM user_metadata
				WHERE updated_at > ? OR (updated_at = ? AND uuid > ?)
				ORDER BY updated_at, uuid LIMIT ?`, ts, ts, uuid, limit)
			if err != nil {
				return nil, "", false, fmt.Errorf("syncengine: page user_metadata: %w", err)
			}
			defer rows.Close()

			var (
				out        []WireRow
				lastCursor string
			)

			for rows.Next() {
				var w userMetadataWire
				if err := rows.Scan(&w.UUID, &w.Note, &w.Favorite, &w.CreatedAt, &w.UpdatedAt); err != nil {
					return nil, "", false, fmt.Errorf("syncengine: scan user_metadata page: %w", err)
				}

				data, err := json.Marshal(w)
				if err != nil {
					return nil, "", false, err
				}

				out = append(out, WireRow{UUID: w.UUID, Data: data})
				lastCursor = fmt.Sprintf("%d|%s", w.UpdatedAt, w.UUID)
			}

			if err := rows.Err(); err != nil {
				return nil, "", false, err
			}

			if lastCursor == "" {
				lastCursor = sinceCursor
			}

			return out, lastCursor, len(out) < limit, nil
		},
	}
}

type contentIdentityWire struct {
	UUID           string `json:"uuid"`
	ContentHash    string `json:"content_hash"`
	KindID         int    `json:"kind_id"`
	Mime           string `json:"mime,omitempty"`
	TotalSize      int64  `json:"total_size"`
	EntryCount     int64  `json:"entry_count"`
	FirstSeenAt    int64  `json:"first_seen_at"`
	LastVerifiedAt int64  `json:"last_verified_at"`
}

// contentIdentityHandlers replicates ContentIdentity as a state-based
// model (§4.6 "state-based (device-owned records: devices, locations,
// volumes, entries, content_identities, user_metadata)"). A
// ContentIdentity's uuid is itself deterministic from its content hash
// (§4.7), so two devices that independently identify the same bytes
// converge without ever needing this path — it exists for the case where
// one device hashed the file first and the other must learn the result
// rather than recompute it.
func contentIdentityHandlers() ModelHandlers {
	return ModelHandlers{
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w contentIdentityWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode content_identity wire: %w", err)
			}

			var mimeID *int64
			if w.Mime != "" {
				id, err := storage.UpsertMimeType(ctx, tx, store.ContentIdentityStatements(), w.Mime)
				if err != nil {
					return "", err
				}

				mimeID = &id
			}

			ci := &storage.ContentIdentity{
				UUID: w.UUID, ContentHash: w.ContentHash, KindID: storage.ContentKind(w.KindID),
				TotalSize: w.TotalSize, EntryCount: w.EntryCount,
				FirstSeenAt: w.FirstSeenAt, LastVerifiedAt: w.LastVerifiedAt,
			}

			return w.UUID, store.UpsertContentIdentityStateChange(ctx, tx, ci, mimeID)
		},
		QueryPage: func(ctx context.Context, store *storage.Store, mapper *FKMapper, sinceCursor string, limit int) ([]WireRow, string, bool, error) {
			ts, uuid, err := parseCursor(sinceCursor)
			if err != nil {
				return nil, "", false, err
			}

			rows, err := store.DB().QueryContext(ctx, `
				SELECT ci.uuid, ci.content_hash, ci.kind_id, COALESCE(mt.mime, ''), ci.total_size,
					ci.entry_count, ci.first_seen_at, ci.last_verified_at
				FROM content_identities ci
				LEFT JOIN mime_types mt ON mt.id = ci.mime_type_id
				WHERE ci.last_verified_at > ? OR (ci.last_verified_at = ? AND ci.uuid > ?)
				ORDER BY ci.last_verified_at, ci.uuid LIMIT ?`, ts, ts, uuid, limit)
			if err != nil {
				return nil, "", false, fmt.Errorf("syncengine: page content_identities: %w", err)
			}
			defer rows.Close()

			var (
				out        []WireRow
				lastCursor string
			)

			for rows.Next() {
				var w contentIdentityWire
				if err := rows.Scan(&w.UUID, &w.ContentHash, &w.KindID, &w.Mime, &w.TotalSize,
					&w.EntryCount, &w.FirstSeenAt, &w.LastVerifiedAt); err != nil {
					return nil, "", false, fmt.Errorf("syncengine: scan content_identity page: %w", err)
				}

				data, err := json.Marshal(w)
				if err != nil {
					return nil, "", false, err
				}

				out = append(out, WireRow{UUID: w.UUID, Data: data})
				lastCursor = fmt.Sprintf("%d|%s", w.LastVerifiedAt, w.UUID)
			}

			if err := rows.Err(); err != nil {
				return nil, "", false, err
			}

			if lastCursor == "" {
				lastCursor = sinceCursor
			}

			return out, lastCursor, len(out) < limit, nil
		},
	}
}

type tagWire struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func tagHandlers() ModelHandlers {
	return ModelHandlers{
		IsSharedLog: true,
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w tagWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode tag wire: %w", err)
			}

			t := &storage.Tag{UUID: w.UUID, Name: w.Name, Color: w.Color, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}

			return w.UUID, store.UpsertTag(ctx, tx, t)
		},
		ApplyDeletion: func(ctx context.Context, tx *sql.Tx, store *storage.Store, uuid string) error {
			return store.DeleteTag(ctx, tx, uuid)
		},
	}
}

type labelWire struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func labelHandlers() ModelHandlers {
	return ModelHandlers{
		IsSharedLog: true,
		ApplyUpsert: func(ctx context.Context, tx *sql.Tx, store *storage.Store, mapper *FKMapper, data json.RawMessage) (string, error) {
			var w labelWire
			if err := json.Unmarshal(data, &w); err != nil {
				return "", fmt.Errorf("syncengine: decode label wire: %w", err)
			}

			l := &storage.Label{UUID: w.UUID, Name: w.Name, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}

			return w.UUID, store.UpsertLabel(ctx, tx, l)
		},
		ApplyDeletion: func(ctx context.Context, tx *sql.Tx, store *storage.Store, uuid string) error {
			return store.DeleteLabel(ctx, tx, uuid)
		},
	}
}

// parseCursor splits the composite `"timestamp|uuid"` cursor §4.6.5
// names for state pagination. An empty cursor means "from the
// beginning" (initial backfill).
func parseCursor(cursor string) (int64, string, error) {
	if cursor == "" {
		return 0, "", nil
	}

	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("syncengine: malformed cursor %q", cursor)
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("syncengine: malformed cursor timestamp: %w", err)
	}

	return ts, parts[1], nil
}
