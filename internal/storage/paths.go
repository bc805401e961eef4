package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type pathStatements struct {
	upsert       *sql.Stmt
	get          *sql.Stmt
	getEntryID   *sql.Stmt
	renamePrefix *sql.Stmt
}

func preparePathStatements(ctx context.Context, db *sql.DB) (pathStatements, error) {
	var s pathStatements

	var err error

	if s.upsert, err = db.PrepareContext(ctx, `
		INSERT INTO directory_paths (entry_id, path) VALUES (?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET path = excluded.path`); err != nil {
		return s, fmt.Errorf("storage: prepare path upsert: %w", err)
	}

	if s.get, err = db.PrepareContext(ctx, `SELECT path FROM directory_paths WHERE entry_id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare path get: %w", err)
	}

	if s.getEntryID, err = db.PrepareContext(ctx, `SELECT entry_id FROM directory_paths WHERE path = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare path getEntryID: %w", err)
	}

	// A rename/move propagates to every descendant directory path in one
	// bulk UPDATE (§3 DirectoryPath: "kept as a separate table so a path
	// edit on rename propagates in a single bulk UPDATE").
	if s.renamePrefix, err = db.PrepareContext(ctx, `
		UPDATE directory_paths
		SET path = ? || substr(path, ?)
		WHERE entry_id IN (SELECT descendant_id FROM entry_closure WHERE ancestor_id = ?)`); err != nil {
		return s, fmt.Errorf("storage: prepare path renamePrefix: %w", err)
	}

	return s, nil
}

// UpsertDirectoryPath writes the absolute path of a directory entry.
// Invariant: path(d) = path(parent) + "/" + name (§3 DirectoryPath).
func UpsertDirectoryPath(ctx context.Context, tx *sql.Tx, stmts pathStatements, entryID int64, path string) error {
	if _, err := tx.StmtContext(ctx, stmts.upsert).ExecContext(ctx, entryID, path); err != nil {
		return fmt.Errorf("storage: upsert directory path: %w", err)
	}

	return nil
}

// DirectoryPathOf returns the absolute path of a directory entry, or
// sql.ErrNoRows if the entry has none (files never have one).
func (s *Store) DirectoryPathOf(ctx context.Context, entryID int64) (string, error) {
	var path string
	if err := s.pathStmts.get.QueryRowContext(ctx, entryID).Scan(&path); err != nil {
		return "", err
	}

	return path, nil
}

// GetEntryIDByPath resolves a directory's local entry id from its absolute
// path — the fallback Phase 2 uses when a batch's in-memory path cache
// misses (§4.1 Phase 2: "falling back to a DirectoryPath lookup"), which
// happens when the parent directory was materialized in an earlier job
// run rather than the current one.
func (s *Store) GetEntryIDByPath(ctx context.Context, path string) (int64, error) {
	var id int64
	if err := s.pathStmts.getEntryID.QueryRowContext(ctx, path).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// RenameDirectorySubtree rewrites oldPath's prefix to newPath for dirID
// and every descendant directory, in one statement (§3 DirectoryPath).
func RenameDirectorySubtree(ctx context.Context, tx *sql.Tx, stmts pathStatements, dirID int64, newPath string, oldPrefixLen int) error {
	// substr is 1-indexed; oldPrefixLen+1 keeps everything after the old prefix.
	if _, err := tx.StmtContext(ctx, stmts.renamePrefix).ExecContext(ctx, newPath, oldPrefixLen+1, dirID); err != nil {
		return fmt.Errorf("storage: rename directory subtree: %w", err)
	}

	return nil
}
