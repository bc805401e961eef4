package indexer

import (
	"database/sql"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/content"
	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// sniffHeadBytes bounds how much of a file's head content.Identify's
// magic-byte fallback gets to look at.
const sniffHeadBytes = 512

// runContentIdentification executes Phase 4 (§4.1 Phase 4): runs only when
// mode >= Content. Hashes and classifies every non-empty file queued
// during Phase 2, deduplicating by content hash into ContentIdentity rows.
func (j *IndexerJob) runContentIdentification(ctx *jobqueue.Context, p *persistedJobState) error {
	st := p.State

	if p.Config.Mode == ModeShallow {
		st.Phase = PhaseDeep
		return nil
	}

	libraryNamespace := content.LibraryNamespace(parseOrNil(p.Config.LibraryUUID))

	total := int64(len(st.ContentQueue))

	for len(st.ContentQueue) > 0 {
		if err := ctx.CheckInterrupt(); err != nil {
			return err
		}

		pending := st.ContentQueue[0]

		if err := j.identifyOne(ctx, pending, libraryNamespace); err != nil {
			st.Stats.Errors++
			st.Errs = append(st.Errs, "identify "+pending.Path+": "+err.Error())
		}

		st.ContentQueue = st.ContentQueue[1:]

		if err := ctx.Checkpoint(total-int64(len(st.ContentQueue)), total); err != nil {
			return err
		}

		ctx.Progress(string(PhaseContentID), "identified "+pending.Path, total-int64(len(st.ContentQueue)), total)
	}

	st.Phase = PhaseDeep

	return nil
}

// identifyOne hashes and classifies one file, then upserts its
// ContentIdentity and links the entry to it in a single transaction (§4.1
// Phase 4: "a single transaction covers (a) CI upsert, (b) entry update").
func (j *IndexerJob) identifyOne(ctx *jobqueue.Context, pending ContentPending, libraryNamespace uuid.UUID) error {
	f, err := os.Open(pending.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, sniffHeadBytes)

	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}

	head = head[:n]

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	hash, err := content.StreamHash(f)
	if err != nil {
		return err
	}

	kind, mime := content.Identify(pending.Path, head)

	now := time.Now().UnixNano()

	return j.store.WithTx(ctx.Context, func(tx *sql.Tx) error {
		entry, err := storage.GetEntryTx(ctx.Context, tx, j.store.EntryStatements(), pending.EntryID)
		if err != nil {
			return err
		}

		if entry.ContentID != nil {
			linked, err := storage.GetContentIdentityByIDTx(ctx.Context, tx, j.store.ContentIdentityStatements(), *entry.ContentID)
			if err != nil {
				return err
			}

			if linked.ContentHash == hash {
				// Already linked to this exact content from a pre-crash
				// attempt at this same queue entry; re-running Phase 4 must
				// not double-count entry_count (§4.1 Phase 4 crash resume).
				return nil
			}
		}

		var mimeID *int64

		if mime != "" {
			id, err := storage.UpsertMimeType(ctx.Context, tx, j.store.ContentIdentityStatements(), mime)
			if err != nil {
				return err
			}

			mimeID = &id
		}

		ciUUID := content.DeriveContentIdentityUUID(libraryNamespace, hash)

		ci, err := storage.UpsertContentIdentity(ctx.Context, tx, j.store.ContentIdentityStatements(), &storage.ContentIdentity{
			UUID:           ciUUID.String(),
			ContentHash:    hash,
			KindID:         kind,
			MimeTypeID:     mimeID,
			TotalSize:      pending.Size,
			FirstSeenAt:    now,
			LastVerifiedAt: now,
		}, now)
		if err != nil {
			return err
		}

		// Linking content identification assigns the entry's own uuid,
		// now that it's sync-ready (§3 invariant d). Deterministic over
		// (content identity, path) so a retried Phase 4 pass after a
		// crash reassigns the same value rather than minting a new one.
		entryUUID := content.DeriveEntryUUID(libraryNamespace, ci.UUID, pending.Path)

		return storage.SetEntryContentID(ctx.Context, tx, j.store.EntryStatements(), pending.EntryID, ci.ID, entryUUID.String())
	})
}
