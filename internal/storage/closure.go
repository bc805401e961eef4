package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type closureStatements struct {
	insertSelf     *sql.Stmt
	expandAncestors *sql.Stmt
	deleteDescendant *sql.Stmt
	ancestorsOf    *sql.Stmt
	descendantsOf  *sql.Stmt
}

func prepareClosureStatements(ctx context.Context, db *sql.DB) (closureStatements, error) {
	var s closureStatements

	var err error

	if s.insertSelf, err = db.PrepareContext(ctx,
		`INSERT INTO entry_closure (ancestor_id, descendant_id, depth) VALUES (?, ?, 0)
		ON CONFLICT(ancestor_id, descendant_id) DO NOTHING`); err != nil {
		return s, fmt.Errorf("storage: prepare closure insertSelf: %w", err)
	}

	// Materializes ancestor links for a newly-inserted descendant by
	// copying the parent's own ancestor chain, one depth further out
	// (§4.1 Phase 2, §9 "strictly-derived view"). ON CONFLICT DO NOTHING
	// makes a checkpoint-replay of the same batch (§4.1 Phase 2 crash
	// resume) a no-op instead of a primary-key violation.
	if s.expandAncestors, err = db.PrepareContext(ctx, `
		INSERT INTO entry_closure (ancestor_id, descendant_id, depth)
		SELECT ancestor_id, ?, depth + 1
		FROM entry_closure
		WHERE descendant_id = ?
		ON CONFLICT(ancestor_id, descendant_id) DO NOTHING`); err != nil {
		return s, fmt.Errorf("storage: prepare closure expandAncestors: %w", err)
	}

	if s.deleteDescendant, err = db.PrepareContext(ctx,
		`DELETE FROM entry_closure WHERE descendant_id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare closure deleteDescendant: %w", err)
	}

	if s.ancestorsOf, err = db.PrepareContext(ctx, `
		SELECT ancestor_id, depth FROM entry_closure WHERE descendant_id = ? ORDER BY depth`); err != nil {
		return s, fmt.Errorf("storage: prepare closure ancestorsOf: %w", err)
	}

	if s.descendantsOf, err = db.PrepareContext(ctx, `
		SELECT descendant_id, depth FROM entry_closure WHERE ancestor_id = ? ORDER BY depth`); err != nil {
		return s, fmt.Errorf("storage: prepare closure descendantsOf: %w", err)
	}

	return s, nil
}

// InsertClosureSelfRow writes the mandatory depth-0 self row for a newly
// created entry (§3 EntryClosure invariant, §8 invariant 1).
func InsertClosureSelfRow(ctx context.Context, tx *sql.Tx, stmts closureStatements, entryID int64) error {
	if _, err := tx.StmtContext(ctx, stmts.insertSelf).ExecContext(ctx, entryID, entryID); err != nil {
		return fmt.Errorf("storage: insert closure self row: %w", err)
	}

	return nil
}

// ExpandClosureAncestors materializes closure rows for every ancestor of
// parentID against the new descendant entryID, one depth further than
// parentID's own ancestor chain (§4.1 Phase 2's per-parent expansion SQL).
// Must run after parentID's own self row exists.
func ExpandClosureAncestors(ctx context.Context, tx *sql.Tx, stmts closureStatements, entryID, parentID int64) error {
	if _, err := tx.StmtContext(ctx, stmts.expandAncestors).ExecContext(ctx, entryID, parentID); err != nil {
		return fmt.Errorf("storage: expand closure ancestors: %w", err)
	}

	return nil
}

// RebuildClosureFor deletes and recomputes every closure row where
// entryID is the descendant, then re-expands from its (possibly new)
// parent. Used by inbound sync state-change application (§4.6.3.d) and
// as the "emergency repair" rebuild-from-parent-links path (§9).
func RebuildClosureFor(ctx context.Context, tx *sql.Tx, stmts closureStatements, entryID int64, parentID *int64) error {
	if _, err := tx.StmtContext(ctx, stmts.deleteDescendant).ExecContext(ctx, entryID); err != nil {
		return fmt.Errorf("storage: rebuild closure, delete old rows: %w", err)
	}

	if err := InsertClosureSelfRow(ctx, tx, stmts, entryID); err != nil {
		return err
	}

	if parentID != nil {
		if err := ExpandClosureAncestors(ctx, tx, stmts, entryID, *parentID); err != nil {
			return err
		}
	}

	return nil
}

// AncestorLink is one row of an ancestor-chain query result.
type AncestorLink struct {
	AncestorID int64
	Depth      int
}

// AncestorsOf returns every ancestor of entryID including itself at depth 0.
func (s *Store) AncestorsOf(ctx context.Context, entryID int64) ([]AncestorLink, error) {
	rows, err := s.closureStmts.ancestorsOf.QueryContext(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("storage: ancestors of %d: %w", entryID, err)
	}
	defer rows.Close()

	var out []AncestorLink

	for rows.Next() {
		var l AncestorLink
		if err := rows.Scan(&l.AncestorID, &l.Depth); err != nil {
			return nil, fmt.Errorf("storage: scan ancestor link: %w", err)
		}

		out = append(out, l)
	}

	return out, rows.Err()
}

// DescendantsOf returns every descendant of entryID including itself at
// depth 0, ordered nearest-first.
func (s *Store) DescendantsOf(ctx context.Context, entryID int64) ([]AncestorLink, error) {
	rows, err := s.closureStmts.descendantsOf.QueryContext(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("storage: descendants of %d: %w", entryID, err)
	}
	defer rows.Close()

	var out []AncestorLink

	for rows.Next() {
		var l AncestorLink
		if err := rows.Scan(&l.AncestorID, &l.Depth); err != nil {
			return nil, fmt.Errorf("storage: scan descendant link: %w", err)
		}

		out = append(out, l)
	}

	return out, rows.Err()
}
