// Package indexer implements §4.1: the resumable five-phase job that
// materializes a filesystem subtree into the storage model, plus the
// composable IndexerRuler accept/reject rule engine of §4.1.1.
package indexer

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// JobName is the Job.Name() registered with the jobqueue.Registry.
const JobName = "indexer"

// persistedJobState is what actually gets marshaled into the jobs table's
// state column. Folding Config in alongside State lets a rehydrated job
// (built blank by the Registry's Factory, per §4.3 point 2) reconstruct
// everything Run needs without a separate config channel.
type persistedJobState struct {
	Config Config
	State  *State
}

// ThumbnailDispatcher is invoked by Phase 5 when mode is Deep (§4.1 Phase
// 5: "dispatch a separate Thumbnail job for the location"). Actual
// thumbnail generation is out of scope (no ffmpeg integration); the
// default dispatcher is a no-op so the phase boundary still exists for a
// caller that wants to wire a real implementation in.
type ThumbnailDispatcher func(ctx *jobqueue.Context, cfg Config) error

// IndexerJob implements jobqueue.Job for the five-phase indexing pipeline.
// A fresh instance is constructed with a Config by the caller enqueuing a
// new run; a rehydrated instance (after a process restart) starts blank
// and recovers its Config from the persisted state on first Run.
type IndexerJob struct {
	store  *storage.Store
	logger *slog.Logger
	ruler  *IndexerRuler

	cfg Config // only meaningful before the first Run on a fresh enqueue

	thumbnailDispatcher ThumbnailDispatcher
}

// WithThumbnailDispatcher overrides the Phase 5 dispatch hook.
func (j *IndexerJob) WithThumbnailDispatcher(d ThumbnailDispatcher) *IndexerJob {
	j.thumbnailDispatcher = d
	return j
}

// New constructs an IndexerJob for a fresh enqueue. cfg.RootPath and
// cfg.Mode/Scope are required; the rest fall back to WithDefaults.
func New(store *storage.Store, logger *slog.Logger, cfg Config) *IndexerJob {
	cfg = cfg.WithDefaults()

	return &IndexerJob{
		store:  store,
		logger: logger,
		ruler:  NewIndexerRuler(logger, cfg.Toggles),
		cfg:    cfg,
	}
}

// Factory returns a jobqueue.Factory producing blank IndexerJob instances
// for Registry-driven rehydration (§4.3 point 2). store/logger are bound
// at daemon startup, shared by every rehydrated instance.
func Factory(store *storage.Store, logger *slog.Logger) jobqueue.Factory {
	return func() jobqueue.Job {
		return &IndexerJob{store: store, logger: logger}
	}
}

func (j *IndexerJob) Name() string    { return JobName }
func (j *IndexerJob) Resumable() bool { return true }

// Run dispatches to the current phase in a loop, checkpointing between
// phases (and between batches within Phase 2) until the job reaches
// PhaseDone or a phase returns an error (§4.1 "checkpoints state between
// phases and may be paused, cancelled, or resumed").
func (j *IndexerJob) Run(ctx *jobqueue.Context) (jobqueue.Output, error) {
	p, err := j.loadOrInit(ctx)
	if err != nil {
		return jobqueue.Output{}, err
	}

	if j.ruler == nil {
		j.ruler = NewIndexerRuler(j.logger, p.Config.Toggles)
	}

	for p.State.Phase != PhaseDone {
		if err := ctx.CheckInterrupt(); err != nil {
			j.checkpoint(ctx, p)
			return jobqueue.Output{}, err
		}

		ctx.Progress(string(p.State.Phase), "running "+string(p.State.Phase), p.State.Stats.Files+p.State.Stats.Dirs, 0)

		var phaseErr error

		switch p.State.Phase {
		case PhaseDiscovery:
			phaseErr = j.runDiscovery(ctx, p)
		case PhaseProcessing:
			phaseErr = j.runProcessing(ctx, p)
		case PhaseAggregation:
			phaseErr = j.runAggregation(ctx, p)
		case PhaseContentID:
			phaseErr = j.runContentIdentification(ctx, p)
		case PhaseDeep:
			phaseErr = j.runDeep(ctx, p)
		default:
			p.State.Phase = PhaseDone
		}

		if phaseErr != nil {
			j.checkpoint(ctx, p)
			return jobqueue.Output{}, phaseErr
		}

		if err := j.checkpoint(ctx, p); err != nil {
			return jobqueue.Output{}, err
		}
	}

	summary, _ := json.Marshal(p.State.Stats)

	return jobqueue.Output{Summary: "indexed " + p.Config.RootPath, Data: summary}, nil
}

func (j *IndexerJob) loadOrInit(ctx *jobqueue.Context) (*persistedJobState, error) {
	if raw := ctx.State(); raw != nil {
		blob, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}

		var p persistedJobState
		if err := json.Unmarshal(blob, &p); err != nil {
			return nil, err
		}

		if p.State != nil {
			return &p, nil
		}
	}

	cfg := j.cfg.WithDefaults()

	return &persistedJobState{
		Config: cfg,
		State:  NewState(cfg.RootPath, time.Now().UnixNano()),
	}, nil
}

func (j *IndexerJob) checkpoint(ctx *jobqueue.Context, p *persistedJobState) error {
	ctx.SetState(p)
	return ctx.Checkpoint(p.State.Stats.Files+p.State.Stats.Dirs, p.State.Stats.Files+p.State.Stats.Dirs+int64(len(p.State.Batches)))
}
