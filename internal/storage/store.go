// Package storage implements the §3 hierarchical entity graph — entries,
// their closure table, content identities, locations, devices, volumes,
// and the orthogonal annotation tables — atop an embedded SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

// walJournalSizeLimit bounds the WAL file so long indexing runs don't grow
// it unbounded between checkpoints.
const walJournalSizeLimit = 67108864 // 64 MiB

// Store is the library database: one SQLite file per library, opened in
// WAL mode, holding every entity of §3 plus sync bookkeeping.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	entryStmts   entryStatements
	closureStmts closureStatements
	pathStmts    pathStatements
	ciStmts      contentIdentityStatements
	deviceStmts  deviceStatements
	locStmts     locationStatements
}

// Open creates a Store backed by the SQLite database at dbPath, applying
// pragmas and pending migrations. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening library database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: prepare statements: %w", err)
	}

	logger.Info("library database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode, durability, and FK enforcement.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("storage: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// DB exposes the underlying *sql.DB for callers (job framework, sync
// engine) that need to open their own transactions spanning multiple
// storage sub-packages' statements.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	if s.entryStmts, err = prepareEntryStatements(ctx, s.db); err != nil {
		return err
	}

	if s.closureStmts, err = prepareClosureStatements(ctx, s.db); err != nil {
		return err
	}

	if s.pathStmts, err = preparePathStatements(ctx, s.db); err != nil {
		return err
	}

	if s.ciStmts, err = prepareContentIdentityStatements(ctx, s.db); err != nil {
		return err
	}

	if s.deviceStmts, err = prepareDeviceStatements(ctx, s.db); err != nil {
		return err
	}

	if s.locStmts, err = prepareLocationStatements(ctx, s.db); err != nil {
		return err
	}

	return nil
}
