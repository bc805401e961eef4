package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), ":memory:", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// insertEntryWithClosure mimics Phase 2 of the indexer job for a single
// entry: insert the row, the self closure row, and (if it has a parent)
// the ancestor expansion, all in one transaction (§4.1 Phase 2).
func insertEntryWithClosure(t *testing.T, s *Store, e *Entry) int64 {
	t.Helper()

	ctx := context.Background()

	var id int64

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var insertErr error

		id, insertErr = InsertEntry(ctx, tx, s.EntryStatements(), e)
		if insertErr != nil {
			return insertErr
		}

		if err := InsertClosureSelfRow(ctx, tx, s.ClosureStatements(), id); err != nil {
			return err
		}

		if e.ParentID != nil {
			if err := ExpandClosureAncestors(ctx, tx, s.ClosureStatements(), id, *e.ParentID); err != nil {
				return err
			}
		}

		if e.Kind == EntryKindDirectory {
			parentPath := ""
			if e.ParentID != nil {
				parentPath, _ = s.DirectoryPathOf(ctx, *e.ParentID)
			}

			if err := UpsertDirectoryPath(ctx, tx, s.PathStatements(), id, parentPath+"/"+e.Name); err != nil {
				return err
			}
		}

		return nil
	})
	require.NoError(t, err)

	return id
}

func TestInsertEntry_ClosureSelfRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := &Entry{UUID: "root-uuid", Name: "root", Kind: EntryKindDirectory, CreatedAt: 1, ModifiedAt: 1}
	rootID := insertEntryWithClosure(t, s, root)

	links, err := s.AncestorsOf(ctx, rootID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, rootID, links[0].AncestorID)
	require.Equal(t, 0, links[0].Depth)
}

func TestInsertEntry_AncestorClosureChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := &Entry{UUID: "root-uuid", Name: "root", Kind: EntryKindDirectory, CreatedAt: 1, ModifiedAt: 1}
	rootID := insertEntryWithClosure(t, s, root)

	child := &Entry{UUID: "child-uuid", Name: "child", Kind: EntryKindDirectory, ParentID: &rootID, CreatedAt: 2, ModifiedAt: 2}
	childID := insertEntryWithClosure(t, s, child)

	grandchild := &Entry{Name: "leaf.txt", Kind: EntryKindFile, ParentID: &childID, CreatedAt: 3, ModifiedAt: 3}
	leafID := insertEntryWithClosure(t, s, grandchild)

	// §8 invariant 2: every ancestor reachable via repeated parent_id has
	// a closure row at the correct depth.
	links, err := s.AncestorsOf(ctx, leafID)
	require.NoError(t, err)
	require.Len(t, links, 3)

	byAncestor := map[int64]int{}
	for _, l := range links {
		byAncestor[l.AncestorID] = l.Depth
	}

	require.Equal(t, 0, byAncestor[leafID])
	require.Equal(t, 1, byAncestor[childID])
	require.Equal(t, 2, byAncestor[rootID])
}

func TestDirectoryPath_FollowsParentPlusName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := &Entry{UUID: "root-uuid", Name: "root", Kind: EntryKindDirectory, CreatedAt: 1, ModifiedAt: 1}
	rootID := insertEntryWithClosure(t, s, root)

	child := &Entry{UUID: "child-uuid", Name: "docs", Kind: EntryKindDirectory, ParentID: &rootID, CreatedAt: 2, ModifiedAt: 2}
	childID := insertEntryWithClosure(t, s, child)

	path, err := s.DirectoryPathOf(ctx, childID)
	require.NoError(t, err)
	require.Equal(t, "/root/docs", path)
}

func TestContentIdentity_ConcurrentInsertIncrementsRefCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ci := &ContentIdentity{UUID: "ci-1", ContentHash: "blake3:abc", TotalSize: 5, FirstSeenAt: 1, LastVerifiedAt: 1}

	var first, second *ContentIdentity

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		first, err = UpsertContentIdentity(ctx, tx, s.ContentIdentityStatements(), ci, 1)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.EntryCount)

	ci2 := &ContentIdentity{UUID: "ci-1", ContentHash: "blake3:abc", TotalSize: 5, FirstSeenAt: 2, LastVerifiedAt: 2}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		second, err = UpsertContentIdentity(ctx, tx, s.ContentIdentityStatements(), ci2, 2)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(2), second.EntryCount)
}

func TestDevice_SlugCollisionAppendsSuffix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d1 := &Device{UUID: "dev-1", Name: "Toni's MacBook", Slug: "tonis-macbook", PublicKey: []byte("k1"), CreatedAt: 1, UpdatedAt: 1}
	slug1, err := s.InsertDevice(ctx, d1)
	require.NoError(t, err)
	require.Equal(t, "tonis-macbook", slug1)

	d2 := &Device{UUID: "dev-2", Name: "Toni's MacBook", Slug: "tonis-macbook", PublicKey: []byte("k2"), CreatedAt: 2, UpdatedAt: 2}
	slug2, err := s.InsertDevice(ctx, d2)
	require.NoError(t, err)
	require.Equal(t, "tonis-macbook-2", slug2)
}

func TestTombstone_SuppressesReappearance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.WriteTombstone(ctx, tx, &Tombstone{UUID: "entry-1", ModelType: "entry", DeletedAt: 1})
	})
	require.NoError(t, err)

	tombstoned, err := s.IsTombstoned(ctx, "entry-1")
	require.NoError(t, err)
	require.True(t, tombstoned)
}
