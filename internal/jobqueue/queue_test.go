package jobqueue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/errs"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

func newTestQueue(t *testing.T) (*Queue, *Registry) {
	t.Helper()

	store, err := storage.Open(context.Background(), ":memory:", slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100})))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	reg := NewRegistry()
	q := New(store, reg, slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100})))

	return q, reg
}

// countingJob completes immediately, recording that it ran.
type countingJob struct {
	ran atomic.Bool
}

func (j *countingJob) Name() string      { return "counting-job" }
func (j *countingJob) Resumable() bool   { return true }
func (j *countingJob) Run(ctx *Context) (Output, error) {
	j.ran.Store(true)
	return Output{Summary: "ok"}, nil
}

// interruptibleJob blocks until CheckInterrupt reports cancellation.
type interruptibleJob struct{}

func (j *interruptibleJob) Name() string    { return "interruptible-job" }
func (j *interruptibleJob) Resumable() bool { return true }
func (j *interruptibleJob) Run(ctx *Context) (Output, error) {
	for {
		if err := ctx.CheckInterrupt(); err != nil {
			return Output{}, err
		}

		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestQueue_EnqueueRunsJobToCompletion(t *testing.T) {
	q, _ := newTestQueue(t)

	job := &countingJob{}

	jobUUID, err := q.Enqueue(context.Background(), job, "target-1", map[string]any{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, err := q.store.GetJobByUUID(context.Background(), jobUUID)
		return err == nil && row.Status == string(StatusCompleted)
	}, time.Second, 5*time.Millisecond)

	require.True(t, job.ran.Load())
}

func TestQueue_PauseTransitionsToPaused(t *testing.T) {
	q, _ := newTestQueue(t)

	job := &interruptibleJob{}

	jobUUID, err := q.Enqueue(context.Background(), job, "target-1", map[string]any{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, _ := q.store.GetJobByUUID(context.Background(), jobUUID)
		return row != nil && row.Status == string(StatusRunning)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Pause(jobUUID))

	require.Eventually(t, func() bool {
		row, _ := q.store.GetJobByUUID(context.Background(), jobUUID)
		return row != nil && row.Status == string(StatusPaused)
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_CancelTransitionsToCancelled(t *testing.T) {
	q, _ := newTestQueue(t)

	job := &interruptibleJob{}

	jobUUID, err := q.Enqueue(context.Background(), job, "target-2", map[string]any{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, _ := q.store.GetJobByUUID(context.Background(), jobUUID)
		return row != nil && row.Status == string(StatusRunning)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Cancel(jobUUID))

	require.Eventually(t, func() bool {
		row, _ := q.store.GetJobByUUID(context.Background(), jobUUID)
		return row != nil && row.Status == string(StatusCancelled)
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_AtMostOnePerTarget(t *testing.T) {
	q, _ := newTestQueue(t)

	job := &interruptibleJob{}

	_, err := q.Enqueue(context.Background(), job, "same-target", map[string]any{})
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), &interruptibleJob{}, "same-target", map[string]any{})
	require.Error(t, err, "the partial unique index should reject a second active job for the same target")
}

func TestQueue_ResumeAll_RehydratesRunningJobs(t *testing.T) {
	store, err := storage.Open(context.Background(), ":memory:", slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Simulate a crash: a job row left in Running state from a prior process.
	row := &storage.JobRow{
		UUID: "crashed-job", Name: "counting-job", Target: "t", Status: string(StatusRunning),
		Config: "{}", State: "null", CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, store.InsertJob(context.Background(), row))

	reg := NewRegistry()

	job := &countingJob{}
	reg.Register("counting-job", func() Job { return job })

	q := New(store, reg, slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100})))
	require.NoError(t, q.ResumeAll(context.Background()))

	require.Eventually(t, func() bool {
		r, _ := store.GetJobByUUID(context.Background(), "crashed-job")
		return r != nil && r.Status == string(StatusCompleted)
	}, time.Second, 5*time.Millisecond)
}

func TestContext_CheckInterrupt_ErrorKind(t *testing.T) {
	q, _ := newTestQueue(t)

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()

	jctx := &Context{
		Context: runCtx,
		JobUUID: "x",
		Logger:  slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100})),
		queue:   q,
		cancelled: func() bool {
			select {
			case <-runCtx.Done():
				return true
			default:
				return false
			}
		},
		progressCh: q.progressCh,
	}

	err := jctx.CheckInterrupt()
	require.Error(t, err)
	require.Equal(t, errs.KindJobInterrupted, errs.KindOf(err))
}
