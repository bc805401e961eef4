package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type entryStatements struct {
	insert       *sql.Stmt
	getByID      *sql.Stmt
	getByParentName *sql.Stmt
	setUUID      *sql.Stmt
	setContentID *sql.Stmt
	setAggregate *sql.Stmt
	listChildren *sql.Stmt
	updateParent *sql.Stmt
}

const entryColumns = `id, uuid, name, kind, extension, content_id, metadata_id,
	size, aggregate_size, child_count, file_count, parent_id,
	created_at, modified_at, accessed_at, indexed_at`

func prepareEntryStatements(ctx context.Context, db *sql.DB) (entryStatements, error) {
	var s entryStatements

	var err error

	if s.insert, err = db.PrepareContext(ctx, `
		INSERT INTO entries (uuid, name, kind, extension, size, parent_id, created_at, modified_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_id, name) DO UPDATE SET
			modified_at = excluded.modified_at,
			size = excluded.size,
			indexed_at = excluded.indexed_at
		RETURNING id`); err != nil {
		return s, fmt.Errorf("storage: prepare entry insert: %w", err)
	}

	if s.getByID, err = db.PrepareContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare entry getByID: %w", err)
	}

	if s.getByParentName, err = db.PrepareContext(ctx, `SELECT `+entryColumns+
		` FROM entries WHERE parent_id IS ? AND name = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare entry getByParentName: %w", err)
	}

	if s.setUUID, err = db.PrepareContext(ctx, `UPDATE entries SET uuid = ? WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare entry setUUID: %w", err)
	}

	if s.setContentID, err = db.PrepareContext(ctx, `UPDATE entries SET content_id = ?, uuid = ? WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare entry setContentID: %w", err)
	}

	if s.setAggregate, err = db.PrepareContext(ctx, `
		UPDATE entries SET aggregate_size = ?, child_count = ?, file_count = ? WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare entry setAggregate: %w", err)
	}

	if s.listChildren, err = db.PrepareContext(ctx, `SELECT `+entryColumns+
		` FROM entries WHERE parent_id = ? ORDER BY kind = 'directory' DESC, name`); err != nil {
		return s, fmt.Errorf("storage: prepare entry listChildren: %w", err)
	}

	if s.updateParent, err = db.PrepareContext(ctx, `UPDATE entries SET parent_id = ? WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare entry updateParent: %w", err)
	}

	return s, nil
}

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry

	var uuidVal sql.NullString

	var extension sql.NullString

	if err := row.Scan(&e.ID, &uuidVal, &e.Name, &e.Kind, &extension, &e.ContentID, &e.MetadataID,
		&e.Size, &e.AggregateSize, &e.ChildCount, &e.FileCount, &e.ParentID,
		&e.CreatedAt, &e.ModifiedAt, &e.AccessedAt, &e.IndexedAt); err != nil {
		return nil, err
	}

	e.UUID = uuidVal.String
	e.Extension = extension.String

	return &e, nil
}

// InsertEntry inserts an Entry row inside an existing transaction (the
// caller owns the transaction boundary — Phase 2 of the indexer batches
// many of these into one commit, §4.1 Phase 2). Returns the assigned
// local id. Upserts on (parent_id, name) so a retried batch after a crash
// is idempotent (§4.1 Phase 2 failure semantics).
func InsertEntry(ctx context.Context, tx *sql.Tx, stmts entryStatements, e *Entry) (int64, error) {
	row := tx.StmtContext(ctx, stmts.insert).QueryRowContext(ctx,
		nullString(e.UUID), e.Name, e.Kind, nullString(e.Extension), e.Size, e.ParentID,
		e.CreatedAt, e.ModifiedAt, e.IndexedAt)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: insert entry %q: %w", e.Name, err)
	}

	return id, nil
}

// GetEntry loads an Entry by local id.
func (s *Store) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	return scanEntry(s.entryStmts.getByID.QueryRowContext(ctx, id))
}

// GetEntryTx loads an Entry by local id inside an existing transaction.
func GetEntryTx(ctx context.Context, tx *sql.Tx, stmts entryStatements, id int64) (*Entry, error) {
	e, err := scanEntry(tx.StmtContext(ctx, stmts.getByID).QueryRowContext(ctx, id))
	if err != nil {
		return nil, fmt.Errorf("storage: get entry %d: %w", id, err)
	}

	return e, nil
}

// GetEntryByParentName resolves an entry by (parent_id, name); parentID
// nil matches roots.
func (s *Store) GetEntryByParentName(ctx context.Context, parentID *int64, name string) (*Entry, error) {
	e, err := scanEntry(s.entryStmts.getByParentName.QueryRowContext(ctx, parentID, name))
	if err != nil {
		return nil, fmt.Errorf("storage: get entry by parent/name: %w", err)
	}

	return e, nil
}

// SetEntryUUID assigns an entry's sync-ready uuid (§3 invariant d).
func SetEntryUUID(ctx context.Context, tx *sql.Tx, stmts entryStatements, id int64, uuid string) error {
	if _, err := tx.StmtContext(ctx, stmts.setUUID).ExecContext(ctx, uuid, id); err != nil {
		return fmt.Errorf("storage: set entry uuid: %w", err)
	}

	return nil
}

// SetEntryContentID links an entry to its ContentIdentity and assigns its
// own uuid in the same statement — Phase 4 commits both in one transaction
// (§4.1 Phase 4).
func SetEntryContentID(ctx context.Context, tx *sql.Tx, stmts entryStatements, id, contentID int64, uuid string) error {
	if _, err := tx.StmtContext(ctx, stmts.setContentID).ExecContext(ctx, contentID, uuid, id); err != nil {
		return fmt.Errorf("storage: set entry content id: %w", err)
	}

	return nil
}

// SetEntryAggregate persists Phase-3 rollups (§3 invariant c, §8 invariant 3).
func SetEntryAggregate(ctx context.Context, tx *sql.Tx, stmts entryStatements, id, aggregateSize, childCount, fileCount int64) error {
	if _, err := tx.StmtContext(ctx, stmts.setAggregate).ExecContext(ctx, aggregateSize, childCount, fileCount, id); err != nil {
		return fmt.Errorf("storage: set entry aggregate: %w", err)
	}

	return nil
}

// ListChildren returns direct children of parentID, directories first.
func (s *Store) ListChildren(ctx context.Context, parentID int64) ([]*Entry, error) {
	rows, err := s.entryStmts.listChildren.QueryContext(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list children: %w", err)
	}
	defer rows.Close()

	var out []*Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan child entry: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// MoveEntry re-parents an entry (used by move-detection in Phase 1
// rescans and by inbound sync). Closure rows must be rebuilt by the
// caller via RebuildClosureFor — moving does not, by itself, touch
// EntryClosure (§9: closure is a strictly-derived view of parent_id).
func MoveEntry(ctx context.Context, tx *sql.Tx, stmts entryStatements, id int64, newParentID *int64) error {
	if _, err := tx.StmtContext(ctx, stmts.updateParent).ExecContext(ctx, newParentID, id); err != nil {
		return fmt.Errorf("storage: move entry: %w", err)
	}

	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
