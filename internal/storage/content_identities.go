package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type contentIdentityStatements struct {
	insert        *sql.Stmt
	incrementRef  *sql.Stmt
	getByHash     *sql.Stmt
	getByUUID     *sql.Stmt
	getByID       *sql.Stmt
	upsertMime    *sql.Stmt
}

func prepareContentIdentityStatements(ctx context.Context, db *sql.DB) (contentIdentityStatements, error) {
	var s contentIdentityStatements

	var err error

	if s.insert, err = db.PrepareContext(ctx, `
		INSERT INTO content_identities
			(uuid, content_hash, kind_id, mime_type_id, total_size, entry_count, first_seen_at, last_verified_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING
		RETURNING id`); err != nil {
		return s, fmt.Errorf("storage: prepare content identity insert: %w", err)
	}

	// Concurrency discipline (§4.1 Phase 4): if a concurrent worker won the
	// insert race, fall through here to increment the reference count.
	if s.incrementRef, err = db.PrepareContext(ctx, `
		UPDATE content_identities SET entry_count = entry_count + 1, last_verified_at = ?
		WHERE content_hash = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare content identity incrementRef: %w", err)
	}

	if s.getByHash, err = db.PrepareContext(ctx, `
		SELECT id, uuid, content_hash, kind_id, mime_type_id, total_size, entry_count, first_seen_at, last_verified_at
		FROM content_identities WHERE content_hash = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare content identity getByHash: %w", err)
	}

	if s.getByUUID, err = db.PrepareContext(ctx, `
		SELECT id, uuid, content_hash, kind_id, mime_type_id, total_size, entry_count, first_seen_at, last_verified_at
		FROM content_identities WHERE uuid = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare content identity getByUUID: %w", err)
	}

	if s.getByID, err = db.PrepareContext(ctx, `
		SELECT id, uuid, content_hash, kind_id, mime_type_id, total_size, entry_count, first_seen_at, last_verified_at
		FROM content_identities WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare content identity getByID: %w", err)
	}

	if s.upsertMime, err = db.PrepareContext(ctx, `
		INSERT INTO mime_types (mime) VALUES (?)
		ON CONFLICT(mime) DO UPDATE SET mime = excluded.mime
		RETURNING id`); err != nil {
		return s, fmt.Errorf("storage: prepare mime upsert: %w", err)
	}

	return s, nil
}

func scanContentIdentity(row interface{ Scan(...any) error }) (*ContentIdentity, error) {
	var ci ContentIdentity
	if err := row.Scan(&ci.ID, &ci.UUID, &ci.ContentHash, &ci.KindID, &ci.MimeTypeID,
		&ci.TotalSize, &ci.EntryCount, &ci.FirstSeenAt, &ci.LastVerifiedAt); err != nil {
		return nil, err
	}

	return &ci, nil
}

// UpsertMimeType deduplicates a MIME string into the mime_types lookup
// table (§4.1 Phase 4: "MIME-type strings are themselves deduplicated").
func UpsertMimeType(ctx context.Context, tx *sql.Tx, stmts contentIdentityStatements, mime string) (int64, error) {
	var id int64
	if err := tx.StmtContext(ctx, stmts.upsertMime).QueryRowContext(ctx, mime).Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: upsert mime type: %w", err)
	}

	return id, nil
}

// UpsertContentIdentity inserts a new ContentIdentity for contentHash, or
// increments entry_count and returns the existing row if another writer
// inserted it first (§4.1 Phase 4, §3 ContentIdentity lifecycle).
func UpsertContentIdentity(ctx context.Context, tx *sql.Tx, stmts contentIdentityStatements, ci *ContentIdentity, now int64) (*ContentIdentity, error) {
	row := tx.StmtContext(ctx, stmts.insert).QueryRowContext(ctx,
		ci.UUID, ci.ContentHash, ci.KindID, ci.MimeTypeID, ci.TotalSize, ci.FirstSeenAt, ci.LastVerifiedAt)

	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			// Unique-violation path: someone else inserted content_hash
			// first. Fall through to an update that increments entry_count.
			if _, execErr := tx.StmtContext(ctx, stmts.incrementRef).ExecContext(ctx, now, ci.ContentHash); execErr != nil {
				return nil, fmt.Errorf("storage: increment content identity ref count: %w", execErr)
			}

			existing, getErr := scanContentIdentity(tx.StmtContext(ctx, stmts.getByHash).QueryRowContext(ctx, ci.ContentHash))
			if getErr != nil {
				return nil, fmt.Errorf("storage: reload content identity after race: %w", getErr)
			}

			return existing, nil
		}

		return nil, fmt.Errorf("storage: insert content identity: %w", err)
	}

	ci.ID = id
	ci.EntryCount = 1

	return ci, nil
}

// GetContentIdentityByHash looks up a ContentIdentity by its content hash.
func (s *Store) GetContentIdentityByHash(ctx context.Context, hash string) (*ContentIdentity, error) {
	ci, err := scanContentIdentity(s.ciStmts.getByHash.QueryRowContext(ctx, hash))
	if err != nil {
		return nil, fmt.Errorf("storage: get content identity by hash: %w", err)
	}

	return ci, nil
}

// GetContentIdentityByUUID looks up a ContentIdentity by its uuid, used
// by inbound sync FK resolution (§4.6.4).
func (s *Store) GetContentIdentityByUUID(ctx context.Context, uuid string) (*ContentIdentity, error) {
	ci, err := scanContentIdentity(s.ciStmts.getByUUID.QueryRowContext(ctx, uuid))
	if err != nil {
		return nil, fmt.Errorf("storage: get content identity by uuid: %w", err)
	}

	return ci, nil
}

// GetContentIdentityByIDTx looks up a ContentIdentity by its local id
// inside an existing transaction, used by Phase 4's crash-resume guard to
// check whether an entry is already linked to the content it just hashed.
func GetContentIdentityByIDTx(ctx context.Context, tx *sql.Tx, stmts contentIdentityStatements, id int64) (*ContentIdentity, error) {
	ci, err := scanContentIdentity(tx.StmtContext(ctx, stmts.getByID).QueryRowContext(ctx, id))
	if err != nil {
		return nil, fmt.Errorf("storage: get content identity %d: %w", id, err)
	}

	return ci, nil
}
