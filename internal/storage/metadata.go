package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertUserMetadata creates or updates a free-form annotation row by uuid.
// Called from the shared-change registry (§4.6.3.b) as well as local edits.
func (s *Store) UpsertUserMetadata(ctx context.Context, tx *sql.Tx, m *UserMetadata) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_metadata (uuid, note, favorite, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			note = excluded.note, favorite = excluded.favorite, updated_at = excluded.updated_at`,
		m.UUID, m.Note, m.Favorite, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert user metadata: %w", err)
	}

	return nil
}

// GetUserMetadataByUUID loads a UserMetadata row.
func (s *Store) GetUserMetadataByUUID(ctx context.Context, uuid string) (*UserMetadata, error) {
	var m UserMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, note, favorite, created_at, updated_at FROM user_metadata WHERE uuid = ?`, uuid).
		Scan(&m.ID, &m.UUID, &m.Note, &m.Favorite, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// UpsertTag creates or updates a Tag by uuid — a shared-change-log model
// (§4.6 "mutable by any peer"). Two peers creating a Tag with the same
// name independently converge on two distinct-uuid rows; this library
// enforces no unique index on name, so de-duplication is an explicit
// application-level merge step, not a database constraint (§8 boundary
// behaviour — "specify one behaviour and test it").
func (s *Store) UpsertTag(ctx context.Context, tx *sql.Tx, t *Tag) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tags (uuid, name, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name, color = excluded.color, updated_at = excluded.updated_at`,
		t.UUID, t.Name, t.Color, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert tag: %w", err)
	}

	return nil
}

// GetTagByUUID loads a Tag row.
func (s *Store) GetTagByUUID(ctx context.Context, uuid string) (*Tag, error) {
	var t Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, name, color, created_at, updated_at FROM tags WHERE uuid = ?`, uuid).
		Scan(&t.ID, &t.UUID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// ListTagsByName finds every Tag row sharing a name, the candidate set
// for application-level merge when two peers created the "same" tag
// independently (§8 boundary behaviour).
func (s *Store) ListTagsByName(ctx context.Context, name string) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, name, color, created_at, updated_at FROM tags WHERE name = ? ORDER BY created_at`, name)
	if err != nil {
		return nil, fmt.Errorf("storage: list tags by name: %w", err)
	}
	defer rows.Close()

	var out []*Tag

	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.UUID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan tag: %w", err)
		}

		out = append(out, &t)
	}

	return out, rows.Err()
}

// UpsertLabel creates or updates a Label by uuid.
func (s *Store) UpsertLabel(ctx context.Context, tx *sql.Tx, l *Label) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO labels (uuid, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		l.UUID, l.Name, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert label: %w", err)
	}

	return nil
}

// TagEntry attaches an existing Tag to an Entry (many-to-many junction).
func (s *Store) TagEntry(ctx context.Context, tx *sql.Tx, entryID, tagID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entry_tags (entry_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, entryID, tagID)
	if err != nil {
		return fmt.Errorf("storage: tag entry: %w", err)
	}

	return nil
}

// DeleteTag removes a Tag row by uuid, used when applying a shared-log
// Delete change type (§4.6.3.b).
func (s *Store) DeleteTag(ctx context.Context, tx *sql.Tx, uuid string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("storage: delete tag: %w", err)
	}

	return nil
}
