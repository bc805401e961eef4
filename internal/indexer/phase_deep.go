package indexer

import "github.com/spacedriveapp/sdcore/internal/jobqueue"

// runDeep executes Phase 5 (§4.1 Phase 5): when mode is Deep, dispatch a
// separate Thumbnail job for the location and mark this job complete. The
// deep phase is decoupled so sync can operate on content-identified
// entries without waiting for thumbnails.
func (j *IndexerJob) runDeep(ctx *jobqueue.Context, p *persistedJobState) error {
	if p.Config.Mode == ModeDeep && j.thumbnailDispatcher != nil {
		if err := j.thumbnailDispatcher(ctx, p.Config); err != nil {
			return err
		}
	}

	p.State.Phase = PhaseDone

	return nil
}
