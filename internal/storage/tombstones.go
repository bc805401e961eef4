package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// IsTombstoned reports whether uuid has a tombstone of any model type.
// Consulted before applying any inbound message of that uuid, for every
// model type — not just Entries (§4.6.3.b, and §9's flagged open question:
// "the source applies state changes from a snapshot by iterating the
// model registry, but current tombstone checks are only done for
// Entries." — this implementation checks tombstones for every model type
// uniformly via the per-model registry, resolving that ambiguity).
func (s *Store) IsTombstoned(ctx context.Context, uuid string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tombstones WHERE uuid = ?`, uuid).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("storage: check tombstone: %w", err)
	}

	return true, nil
}

// WriteTombstone records a deletion, keyed by uuid, so out-of-order
// re-insertion from a late-arriving Insert/Update never re-materializes
// the row (§8 invariant 8).
func (s *Store) WriteTombstone(ctx context.Context, tx *sql.Tx, t *Tombstone) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (uuid, model_type, deleted_at, deleted_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uuid) DO NOTHING`,
		t.UUID, t.ModelType, t.DeletedAt, t.DeletedBy)
	if err != nil {
		return fmt.Errorf("storage: write tombstone: %w", err)
	}

	return nil
}
