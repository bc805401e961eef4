package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type locationStatements struct {
	insert     *sql.Stmt
	getByUUID  *sql.Stmt
	listAll    *sql.Stmt
	setState   *sql.Stmt
	setRollups *sql.Stmt
}

const locationColumns = `id, uuid, device_id, entry_id, name, index_mode, scan_state,
	aggregate_size, file_count, created_at, updated_at`

func prepareLocationStatements(ctx context.Context, db *sql.DB) (locationStatements, error) {
	var s locationStatements

	var err error

	if s.insert, err = db.PrepareContext(ctx, `
		INSERT INTO locations (uuid, device_id, entry_id, name, index_mode, scan_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`); err != nil {
		return s, fmt.Errorf("storage: prepare location insert: %w", err)
	}

	if s.getByUUID, err = db.PrepareContext(ctx, `SELECT `+locationColumns+` FROM locations WHERE uuid = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare location getByUUID: %w", err)
	}

	if s.listAll, err = db.PrepareContext(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY name`); err != nil {
		return s, fmt.Errorf("storage: prepare location listAll: %w", err)
	}

	if s.setState, err = db.PrepareContext(ctx, `UPDATE locations SET scan_state = ?, updated_at = ? WHERE uuid = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare location setState: %w", err)
	}

	if s.setRollups, err = db.PrepareContext(ctx, `
		UPDATE locations SET aggregate_size = ?, file_count = ?, updated_at = ? WHERE id = ?`); err != nil {
		return s, fmt.Errorf("storage: prepare location setRollups: %w", err)
	}

	return s, nil
}

func scanLocation(row interface{ Scan(...any) error }) (*Location, error) {
	var l Location
	if err := row.Scan(&l.ID, &l.UUID, &l.DeviceID, &l.EntryID, &l.Name, &l.IndexMode, &l.ScanState,
		&l.AggregateSize, &l.FileCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}

	return &l, nil
}

// InsertLocation registers a new managed subtree. A Location owns its root
// Entry but never a path directly — paths are derived through the root
// entry's DirectoryPath (§3 Location).
func (s *Store) InsertLocation(ctx context.Context, l *Location) error {
	row := s.locStmts.insert.QueryRowContext(ctx, l.UUID, l.DeviceID, l.EntryID, l.Name,
		l.IndexMode, l.ScanState, l.CreatedAt, l.UpdatedAt)

	if err := row.Scan(&l.ID); err != nil {
		return fmt.Errorf("storage: insert location: %w", err)
	}

	return nil
}

// GetLocationByUUID loads a Location by its global identifier.
func (s *Store) GetLocationByUUID(ctx context.Context, uuid string) (*Location, error) {
	l, err := scanLocation(s.locStmts.getByUUID.QueryRowContext(ctx, uuid))
	if err != nil {
		return nil, fmt.Errorf("storage: get location by uuid: %w", err)
	}

	return l, nil
}

// ListLocations returns every managed subtree known to this library.
func (s *Store) ListLocations(ctx context.Context) ([]*Location, error) {
	rows, err := s.locStmts.listAll.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: list locations: %w", err)
	}
	defer rows.Close()

	var out []*Location

	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan location: %w", err)
		}

		out = append(out, l)
	}

	return out, rows.Err()
}

// SetLocationScanState records the indexer job's current scan_state.
func (s *Store) SetLocationScanState(ctx context.Context, uuid, state string, now int64) error {
	if _, err := s.locStmts.setState.ExecContext(ctx, state, now, uuid); err != nil {
		return fmt.Errorf("storage: set location scan state: %w", err)
	}

	return nil
}

// SetLocationRollups persists Phase-3 aggregation results for a location's root.
func (s *Store) SetLocationRollups(ctx context.Context, id, aggregateSize, fileCount, now int64) error {
	if _, err := s.locStmts.setRollups.ExecContext(ctx, aggregateSize, fileCount, now, id); err != nil {
		return fmt.Errorf("storage: set location rollups: %w", err)
	}

	return nil
}

// WithTx runs fn inside a new write transaction, committing on success and
// rolling back on error or panic. Short write transactions only — never
// hold one across a non-database suspension point (§5 Suspension points).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}

		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}

	return nil
}

// EntryStatements exposes the prepared entry statements to other
// storage-adjacent packages (indexer, syncengine) that need to run entry
// writes inside their own transactions.
func (s *Store) EntryStatements() entryStatements { return s.entryStmts }

// ClosureStatements exposes the prepared closure statements.
func (s *Store) ClosureStatements() closureStatements { return s.closureStmts }

// PathStatements exposes the prepared directory-path statements.
func (s *Store) PathStatements() pathStatements { return s.pathStmts }

// ContentIdentityStatements exposes the prepared content-identity statements.
func (s *Store) ContentIdentityStatements() contentIdentityStatements { return s.ciStmts }
