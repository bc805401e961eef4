package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/errs"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// Queue is a per-library, priority-naive (FIFO within policy), durable job
// queue. One Queue instance owns exactly one library's jobs table (§4.3).
type Queue struct {
	store    *storage.Store
	registry *Registry
	logger   *slog.Logger

	progressCh chan Progress

	mu      stdsync.Mutex
	running map[string]context.CancelFunc // job uuid -> cancel, while Running
	paused  map[string]bool               // job uuid -> true once paused/cancelled observed
}

// New creates a Queue bound to store, dispatching through registry.
func New(store *storage.Store, registry *Registry, logger *slog.Logger) *Queue {
	return &Queue{
		store:      store,
		registry:   registry,
		logger:     logger,
		progressCh: make(chan Progress, 256),
		running:    make(map[string]context.CancelFunc),
		paused:     make(map[string]bool),
	}
}

// Progress returns the channel the UI/TUI/daemon RPC read job status from
// (§4.3 "Status reporting", §9 event bus).
func (q *Queue) Progress() <-chan Progress { return q.progressCh }

// Enqueue persists a new job row and immediately starts it, enforcing
// at-most-one-per-target via the jobs table's partial unique index
// (§4.3 point 1). config is marshaled as the job's persisted Config.
func (q *Queue) Enqueue(ctx context.Context, job Job, target string, config any) (string, error) {
	configBlob, err := json.Marshal(config)
	if err != nil {
		return "", errs.Wrap(errs.ErrDatabaseConstraint, "marshal job config", err)
	}

	now := time.Now().UnixNano()
	jobUUID := uuid.NewString()

	row := &storage.JobRow{
		UUID:      jobUUID,
		Name:      job.Name(),
		Target:    target,
		Status:    string(StatusQueued),
		Config:    string(configBlob),
		State:     "null",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := q.store.InsertJob(ctx, row); err != nil {
		return "", fmt.Errorf("jobqueue: enqueue %s/%s: %w", job.Name(), target, err)
	}

	q.start(job, row)

	return jobUUID, nil
}

// ResumeAll rehydrates every job left in Running or Queued state from a
// prior process and resumes it (§4.3 point 2: "On process start, every
// non-terminal job in Running|Queued is rehydrated and resumed").
func (q *Queue) ResumeAll(ctx context.Context) error {
	rows, err := q.store.ListResumableJobs(ctx)
	if err != nil {
		return fmt.Errorf("jobqueue: list resumable jobs: %w", err)
	}

	for _, row := range rows {
		job, err := q.registry.New(row.Name)
		if err != nil {
			q.logger.Warn("cannot rehydrate job, no factory registered", "job_uuid", row.UUID, "name", row.Name)
			continue
		}

		if !job.Resumable() {
			q.logger.Warn("job type is not resumable, marking failed", "job_uuid", row.UUID, "name", row.Name)

			errMsg := "job type is not resumable; process restarted mid-run"
			_ = q.store.UpdateJobStatus(ctx, row.UUID, string(StatusFailed), row.Phase, &errMsg, time.Now().UnixNano())

			continue
		}

		q.start(job, row)
	}

	return nil
}

// Resume restarts a Paused job explicitly (§4.3 "Paused jobs remain in the
// queue until explicitly resumed").
func (q *Queue) Resume(ctx context.Context, jobUUID string) error {
	row, err := q.store.GetJobByUUID(ctx, jobUUID)
	if err != nil {
		return fmt.Errorf("jobqueue: resume %s: %w", jobUUID, err)
	}

	if row.Status != string(StatusPaused) {
		return fmt.Errorf("jobqueue: job %s is not paused (status=%s)", jobUUID, row.Status)
	}

	job, err := q.registry.New(row.Name)
	if err != nil {
		return fmt.Errorf("jobqueue: resume %s: %w", jobUUID, err)
	}

	q.mu.Lock()
	delete(q.paused, jobUUID)
	q.mu.Unlock()

	q.start(job, row)

	return nil
}

// Pause signals a running job to stop at its next CheckInterrupt call.
// The queue marks it Paused once the run loop observes cancellation and
// returns.
func (q *Queue) Pause(jobUUID string) error {
	return q.signal(jobUUID)
}

// Cancel signals a running job to stop and be marked Cancelled rather
// than Paused.
func (q *Queue) Cancel(jobUUID string) error {
	q.mu.Lock()
	q.paused[jobUUID] = true // reused as "terminal, do not resume" marker
	q.mu.Unlock()

	return q.signal(jobUUID)
}

func (q *Queue) signal(jobUUID string) error {
	q.mu.Lock()
	cancel, ok := q.running[jobUUID]
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("jobqueue: job %s is not running", jobUUID)
	}

	cancel()

	return nil
}

// start launches job's Run method in a goroutine bound to row's persisted
// state, tracking its cancel function for Pause/Cancel.
func (q *Queue) start(job Job, row *storage.JobRow) {
	runCtx, cancel := context.WithCancel(context.Background())

	q.mu.Lock()
	q.running[row.UUID] = cancel
	q.mu.Unlock()

	var state any

	if row.State != "" && row.State != "null" {
		_ = json.Unmarshal([]byte(row.State), &state)
	}

	cancelled := func() bool {
		select {
		case <-runCtx.Done():
			return true
		default:
			return false
		}
	}

	jctx := &Context{
		Context:    runCtx,
		JobUUID:    row.UUID,
		Logger:     q.logger.With("job_uuid", row.UUID, "job_name", row.Name),
		queue:      q,
		cancelled:  cancelled,
		progressCh: q.progressCh,
		state:      state,
	}

	now := time.Now().UnixNano()
	_ = q.store.UpdateJobStatus(context.Background(), row.UUID, string(StatusRunning), row.Phase, nil, now)

	if hook, ok := job.(ResumeHook); ok && row.Status == string(StatusPaused) {
		if err := hook.OnResume(jctx); err != nil {
			q.logger.Error("on_resume hook failed", "error", err)
		}
	}

	go q.run(job, jctx, row.UUID)
}

func (q *Queue) run(job Job, jctx *Context, jobUUID string) {
	defer func() {
		q.mu.Lock()
		delete(q.running, jobUUID)
		q.mu.Unlock()
	}()

	out, err := job.Run(jctx)

	now := time.Now().UnixNano()

	switch {
	case err == nil:
		_ = q.store.UpdateJobStatus(context.Background(), jobUUID, string(StatusCompleted), "done", nil, now)
		q.logger.Info("job completed", "job_uuid", jobUUID, "summary", out.Summary)

	case errs.KindOf(err) == errs.KindJobInterrupted:
		q.mu.Lock()
		terminal := q.paused[jobUUID]
		q.mu.Unlock()

		if terminal {
			if hook, ok := job.(CancelHook); ok {
				_ = hook.OnCancel(jctx)
			}

			_ = q.store.UpdateJobStatus(context.Background(), jobUUID, string(StatusCancelled), "", nil, now)
		} else {
			if hook, ok := job.(PauseHook); ok {
				_ = hook.OnPause(jctx)
			}

			_ = q.store.UpdateJobStatus(context.Background(), jobUUID, string(StatusPaused), "", nil, now)
		}

	default:
		msg := err.Error()
		_ = q.store.UpdateJobStatus(context.Background(), jobUUID, string(StatusFailed), "", &msg, now)
		q.logger.Error("job failed", "job_uuid", jobUUID, "error", err)
	}
}

// persistCheckpoint is called by Context.Checkpoint.
func (q *Queue) persistCheckpoint(ctx context.Context, jobUUID string, stateBlob []byte, processed, total int64) error {
	return q.store.UpdateJobCheckpoint(ctx, jobUUID, string(stateBlob), processed, total, time.Now().UnixNano())
}
