package indexer

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/content"
	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.Open(context.Background(), ":memory:", discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// writeTree creates a small fixture tree under a temp directory:
//
//	root/
//	  a.txt            (non-empty file)
//	  empty.txt        (empty file)
//	  sub/
//	    b.txt
//	  node_modules/
//	    ignored.js      (rejected by the default dev-dir toggle)
func writeTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("nested"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "ignored.js"), []byte("//"), 0o644))

	return root
}

// seedRootEntry creates the Location's pre-existing root Entry and
// DirectoryPath — the state Phase 2 expects to already be in place before
// the first batch of children is processed (§4.1 Phase 2: "falling back
// to a DirectoryPath lookup").
func seedRootEntry(t *testing.T, store *storage.Store, rootPath string) int64 {
	t.Helper()

	var rootID int64

	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		id, err := storage.InsertEntry(context.Background(), tx, store.EntryStatements(), &storage.Entry{
			Name: filepath.Base(rootPath),
			Kind: storage.EntryKindDirectory,
			UUID: uuid.NewString(),
		})
		if err != nil {
			return err
		}

		if err := storage.InsertClosureSelfRow(context.Background(), tx, store.ClosureStatements(), id); err != nil {
			return err
		}

		if err := storage.UpsertDirectoryPath(context.Background(), tx, store.PathStatements(), id, rootPath); err != nil {
			return err
		}

		rootID = id

		return nil
	})
	require.NoError(t, err)

	return rootID
}

func runIndexerJobSync(t *testing.T, store *storage.Store, cfg Config) string {
	t.Helper()

	logger := discardLogger()
	reg := jobqueue.NewRegistry()
	reg.Register(JobName, Factory(store, logger))

	q := jobqueue.New(store, reg, logger)

	job := New(store, logger, cfg)

	jobUUID, err := q.Enqueue(context.Background(), job, cfg.RootPath, struct{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, err := store.GetJobByUUID(context.Background(), jobUUID)
		return err == nil && (row.Status == "completed" || row.Status == "failed")
	}, 5*time.Second, 10*time.Millisecond)

	row, err := store.GetJobByUUID(context.Background(), jobUUID)
	require.NoError(t, err)
	require.Equal(t, "completed", row.Status, "job error: %s", stringOrEmpty(row.ErrorMessage))

	return jobUUID
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func TestIndexerJob_ShallowIndexesTreeRespectingRuler(t *testing.T) {
	store := newTestStore(t)
	root := writeTree(t)

	rootID := seedRootEntry(t, store, root)

	cfg := Config{
		RootPath:    root,
		Mode:        ModeShallow,
		Scope:       ScopeRecursive,
		Persistence: PersistencePersistent,
		Toggles:     DefaultRuleToggles(),
		LibraryUUID: uuid.NewString(),
	}

	runIndexerJobSync(t, store, cfg)

	children, err := store.ListChildren(context.Background(), rootID)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, c := range children {
		names[c.Name] = true
	}

	require.True(t, names["a.txt"])
	require.True(t, names["empty.txt"])
	require.True(t, names["sub"])
	require.False(t, names["node_modules"], "node_modules should be rejected by the default dev-dir toggle")

	// Directories and empty files get a uuid at creation; non-empty files
	// (mode Shallow never reaches Phase 4) do not yet.
	var sub *storage.Entry

	var empty *storage.Entry

	var nonEmpty *storage.Entry

	for _, c := range children {
		switch c.Name {
		case "sub":
			sub = c
		case "empty.txt":
			empty = c
		case "a.txt":
			nonEmpty = c
		}
	}

	require.NotNil(t, sub)
	require.NotEmpty(t, sub.UUID)

	require.NotNil(t, empty)
	require.NotEmpty(t, empty.UUID)

	require.NotNil(t, nonEmpty)
	require.Empty(t, nonEmpty.UUID, "non-empty file uuid is assigned only at Phase 4 content identification")
}

func TestIndexerJob_ContentModeIdentifiesAndLinksContentIdentity(t *testing.T) {
	store := newTestStore(t)
	root := writeTree(t)

	rootID := seedRootEntry(t, store, root)

	cfg := Config{
		RootPath:    root,
		Mode:        ModeContent,
		Scope:       ScopeRecursive,
		Persistence: PersistencePersistent,
		Toggles:     DefaultRuleToggles(),
		LibraryUUID: uuid.NewString(),
	}

	runIndexerJobSync(t, store, cfg)

	children, err := store.ListChildren(context.Background(), rootID)
	require.NoError(t, err)

	for _, c := range children {
		if c.Name == "a.txt" {
			require.NotNil(t, c.ContentID, "non-empty file should be linked to a ContentIdentity after Phase 4")
			require.NotEmpty(t, c.UUID, "non-empty file uuid is assigned once content-identified")
		}
	}
}

func TestIndexerJob_AggregationRollsUpSizesAndCounts(t *testing.T) {
	store := newTestStore(t)
	root := writeTree(t)

	rootID := seedRootEntry(t, store, root)

	cfg := Config{
		RootPath:    root,
		Mode:        ModeContent,
		Scope:       ScopeRecursive,
		Persistence: PersistencePersistent,
		Toggles:     DefaultRuleToggles(),
		LibraryUUID: uuid.NewString(),
	}

	runIndexerJobSync(t, store, cfg)

	rootEntry, err := store.GetEntry(context.Background(), rootID)
	require.NoError(t, err)

	// a.txt (11 bytes) + empty.txt (0) + sub/b.txt (6 bytes) = 17 bytes,
	// 3 files total, 1 direct child directory (sub) plus the two direct
	// files — child_count counts direct children only.
	require.Equal(t, int64(17), rootEntry.AggregateSize)
	require.Equal(t, int64(3), rootEntry.FileCount)
}

func TestIndexerRuler_RejectsDevDirsAndHiddenFiles(t *testing.T) {
	ruler := NewIndexerRuler(discardLogger(), DefaultRuleToggles())

	require.Equal(t, Reject, ruler.Evaluate("/x/node_modules", true, []string{"index.js"}))
	require.Equal(t, Reject, ruler.Evaluate("/x/.hidden", false, nil))
	require.Equal(t, Accept, ruler.Evaluate("/x/readme.txt", false, nil))
}

func TestIndexerRuler_AcceptGlobExcludesNonMatches(t *testing.T) {
	ruler := NewIndexerRuler(discardLogger(), RuleToggles{OnlyImages: true})

	require.Equal(t, Accept, ruler.Evaluate("/x/photo.jpg", false, nil))
	require.Equal(t, Reject, ruler.Evaluate("/x/notes.txt", false, nil))
}

// TestClosureExpansion_IdempotentOnCrashReplay exercises §4.1 Phase 2's
// crash-resume contract directly against the closure statements: a
// checkpoint committed after the batch transaction, but before
// ctx.Checkpoint persists, means ResumeAll can replay the very same batch
// against an entry that already has its closure rows in place. Both
// InsertClosureSelfRow and ExpandClosureAncestors must tolerate that
// replay rather than hitting entry_closure's (ancestor_id, descendant_id)
// primary key.
func TestClosureExpansion_IdempotentOnCrashReplay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var parentID, childID int64

	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := storage.InsertEntry(ctx, tx, store.EntryStatements(), &storage.Entry{
			Name: "root", Kind: storage.EntryKindDirectory, UUID: uuid.NewString(),
		})
		if err != nil {
			return err
		}

		parentID = id

		return storage.InsertClosureSelfRow(ctx, tx, store.ClosureStatements(), parentID)
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := storage.InsertEntry(ctx, tx, store.EntryStatements(), &storage.Entry{
			Name: "child.txt", Kind: storage.EntryKindFile, ParentID: &parentID,
		})
		if err != nil {
			return err
		}

		childID = id

		if err := storage.InsertClosureSelfRow(ctx, tx, store.ClosureStatements(), childID); err != nil {
			return err
		}

		return storage.ExpandClosureAncestors(ctx, tx, store.ClosureStatements(), childID, parentID)
	})
	require.NoError(t, err)

	// Replay the exact same batch, as ResumeAll would after a crash between
	// the batch commit and the next checkpoint write.
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := storage.InsertClosureSelfRow(ctx, tx, store.ClosureStatements(), childID); err != nil {
			return err
		}

		return storage.ExpandClosureAncestors(ctx, tx, store.ClosureStatements(), childID, parentID)
	})
	require.NoError(t, err, "replaying closure inserts for an already-indexed entry must be a no-op, not a constraint violation")

	ancestors, err := store.AncestorsOf(ctx, childID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2, "replay must not duplicate ancestor rows")
}

// TestIndexerJob_ContentIdentification_ReplayDoesNotDoubleCountEntryCount
// exercises §4.1 Phase 4's crash-resume contract: identifyOne commits its
// transaction before the ContentQueue checkpoint is persisted
// (runContentIdentification), so a crash in that window makes ResumeAll
// replay the same ContentPending item. A second identifyOne pass over the
// same entry must be a no-op rather than incrementing entry_count again.
func TestIndexerJob_ContentIdentification_ReplayDoesNotDoubleCountEntryCount(t *testing.T) {
	store := newTestStore(t)
	root := writeTree(t)
	seedRootEntry(t, store, root)

	libraryUUID := uuid.New()
	libraryNamespace := content.LibraryNamespace(libraryUUID)

	var entryID int64

	err := store.WithTx(context.Background(), func(tx *sql.Tx) error {
		id, err := storage.InsertEntry(context.Background(), tx, store.EntryStatements(), &storage.Entry{
			Name: "a.txt", Kind: storage.EntryKindFile, Size: 11,
		})
		if err != nil {
			return err
		}

		entryID = id

		return nil
	})
	require.NoError(t, err)

	job := New(store, discardLogger(), Config{LibraryUUID: libraryUUID.String()})

	jobCtx := &jobqueue.Context{Context: context.Background(), JobUUID: "test-replay", Logger: discardLogger()}

	pending := ContentPending{EntryID: entryID, Path: filepath.Join(root, "a.txt"), Size: 11}

	require.NoError(t, job.identifyOne(jobCtx, pending, libraryNamespace))

	entry, err := store.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	require.NotNil(t, entry.ContentID)

	var ci *storage.ContentIdentity

	err = store.WithTx(context.Background(), func(tx *sql.Tx) error {
		ci, err = storage.GetContentIdentityByIDTx(context.Background(), tx, store.ContentIdentityStatements(), *entry.ContentID)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), ci.EntryCount)

	// Replay the identical identify pass, as a crash-resumed Phase 4 would.
	require.NoError(t, job.identifyOne(jobCtx, pending, libraryNamespace))

	ciAfterReplay, err := store.GetContentIdentityByHash(context.Background(), ci.ContentHash)
	require.NoError(t, err)
	require.Equal(t, int64(1), ciAfterReplay.EntryCount, "replaying Phase 4 on an already-linked entry must not double-count entry_count")
}
