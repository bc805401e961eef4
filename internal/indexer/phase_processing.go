package indexer

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/content"
	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// runProcessing executes Phase 2 (§4.1 Phase 2): for each batch, smallest-
// index-first, open one write transaction and insert entries in BFS
// order, materializing closure rows and directory paths as it goes.
func (j *IndexerJob) runProcessing(ctx *jobqueue.Context, p *persistedJobState) error {
	st := p.State

	if st.PathCache == nil {
		st.PathCache = make(map[string]int64)
	}

	if st.UUIDCache == nil {
		st.UUIDCache = make(map[string]string)
	}

	libraryNamespace := content.LibraryNamespace(parseOrNil(p.Config.LibraryUUID))

	for len(st.Batches) > 0 {
		if err := ctx.CheckInterrupt(); err != nil {
			return err
		}

		batch := st.Batches[0]

		// On failure mid-batch the transaction rolls back and the whole
		// batch is retried on resume; idempotent for directories/empty
		// files via deterministic UUIDs, and for non-empty files via the
		// (parent_id, name) unique constraint + upsert (§4.1 Phase 2).
		if err := j.processBatch(ctx, st, batch, libraryNamespace); err != nil {
			return fmt.Errorf("indexer: process batch: %w", err)
		}

		st.Batches = st.Batches[1:]

		if err := ctx.Checkpoint(st.Stats.Files+st.Stats.Dirs, st.Stats.Files+st.Stats.Dirs+int64(len(st.Batches))); err != nil {
			return err
		}

		ctx.Progress(string(PhaseProcessing), "processed batch", st.Stats.Files+st.Stats.Dirs, 0)
	}

	st.Phase = PhaseAggregation

	return nil
}

func parseOrNil(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}

	return id
}

func (j *IndexerJob) processBatch(ctx *jobqueue.Context, st *State, batch PendingBatch, libraryNamespace uuid.UUID) error {
	entryStmts := j.store.EntryStatements()
	closureStmts := j.store.ClosureStatements()
	pathStmts := j.store.PathStatements()

	return j.store.WithTx(ctx.Context, func(tx *sql.Tx) error {
		for _, de := range batch.Entries {
			parentID, parentUUID, err := j.resolveParent(ctx, tx, st, de.ParentPath)
			if err != nil {
				st.Stats.Errors++
				st.Errs = append(st.Errs, "resolve parent of "+de.Path+": "+err.Error())

				continue
			}

			entry := &storage.Entry{
				Name:       de.Name,
				Kind:       storage.EntryKind(de.Kind),
				Size:       de.Size,
				ParentID:   parentID,
				CreatedAt:  de.ModifiedAt,
				ModifiedAt: de.ModifiedAt,
			}

			// Directories and empty files get their uuid at creation time,
			// deterministically derived so a retried batch is idempotent
			// (§3 invariant d, §4.7). Non-empty files defer uuid
			// assignment to Phase 4.
			assignNow := de.Kind == "directory" || (de.Kind == "file" && de.Size == 0)
			if assignNow {
				entry.UUID = content.DeriveEntryUUID(libraryNamespace, parentUUID, de.Name).String()
			}

			id, err := storage.InsertEntry(ctx.Context, tx, entryStmts, entry)
			if err != nil {
				return err
			}

			if err := storage.InsertClosureSelfRow(ctx.Context, tx, closureStmts, id); err != nil {
				return err
			}

			if parentID != nil {
				if err := storage.ExpandClosureAncestors(ctx.Context, tx, closureStmts, id, *parentID); err != nil {
					return err
				}
			}

			if de.Kind == "directory" {
				if err := storage.UpsertDirectoryPath(ctx.Context, tx, pathStmts, id, de.Path); err != nil {
					return err
				}

				st.PathCache[de.Path] = id
				st.UUIDCache[de.Path] = entry.UUID
			} else if assignNow {
				st.UUIDCache[de.Path] = entry.UUID
			}

			if de.Kind == "file" && de.Size > 0 {
				st.ContentQueue = append(st.ContentQueue, ContentPending{EntryID: id, Path: de.Path, Size: de.Size})
			}
		}

		return nil
	})
}

// resolveParent consults the in-memory path cache first, falling back to a
// DirectoryPath lookup for a parent materialized by an earlier job run
// (§4.1 Phase 2). The location root, created outside this job, is found
// the same way through its DirectoryPath row.
func (j *IndexerJob) resolveParent(ctx *jobqueue.Context, tx *sql.Tx, st *State, parentPath string) (*int64, string, error) {
	if id, ok := st.PathCache[parentPath]; ok {
		return &id, st.UUIDCache[parentPath], nil
	}

	id, err := j.store.GetEntryIDByPath(ctx.Context, parentPath)
	if err != nil {
		return nil, "", err
	}

	entry, err := j.store.GetEntry(ctx.Context, id)
	if err != nil {
		return nil, "", err
	}

	st.PathCache[parentPath] = id
	st.UUIDCache[parentPath] = entry.UUID

	return &id, entry.UUID, nil
}
