package indexer

import (
	"database/sql"
	"fmt"

	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// runAggregation executes Phase 3 (§4.1 Phase 3): a post-order traversal
// computing aggregate_size, child_count, and file_count for every
// directory in the indexed subtree. Skipped entirely for Ephemeral jobs.
func (j *IndexerJob) runAggregation(ctx *jobqueue.Context, p *persistedJobState) error {
	st := p.State

	if p.Config.Persistence == PersistenceEphemeral {
		st.Phase = PhaseContentID
		return nil
	}

	if err := ctx.CheckInterrupt(); err != nil {
		return err
	}

	rootID := st.AggregationRootID

	if rootID == 0 {
		id, err := j.store.GetEntryIDByPath(ctx.Context, p.Config.RootPath)
		if err != nil {
			return fmt.Errorf("indexer: resolve aggregation root: %w", err)
		}

		rootID = id
		st.AggregationRootID = rootID
	}

	if _, _, _, err := j.rollupSubtree(ctx, rootID); err != nil {
		return fmt.Errorf("indexer: aggregate rollups: %w", err)
	}

	st.Phase = PhaseContentID

	return nil
}

// rollupSubtree computes (aggregate_size, child_count, file_count) for
// entryID by recursing into its direct children first, a post-order walk
// over the parent/child relationship the closure table is strictly
// derived from (§4.1 Phase 3, §9 "closure is never a source of truth
// independent of parent_id").
func (j *IndexerJob) rollupSubtree(ctx *jobqueue.Context, entryID int64) (aggregateSize, childCount, fileCount int64, err error) {
	entry, err := j.store.GetEntry(ctx.Context, entryID)
	if err != nil {
		return 0, 0, 0, err
	}

	if entry.Kind != storage.EntryKindDirectory {
		return entry.Size, 0, 1, nil
	}

	children, err := j.store.ListChildren(ctx.Context, entryID)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, child := range children {
		childAgg, _, childFiles, err := j.rollupSubtree(ctx, child.ID)
		if err != nil {
			return 0, 0, 0, err
		}

		aggregateSize += childAgg
		fileCount += childFiles
		childCount++
	}

	err = j.store.WithTx(ctx.Context, func(tx *sql.Tx) error {
		return storage.SetEntryAggregate(ctx.Context, tx, j.store.EntryStatements(), entryID, aggregateSize, childCount, fileCount)
	})
	if err != nil {
		return 0, 0, 0, err
	}

	return aggregateSize, childCount, fileCount, nil
}
