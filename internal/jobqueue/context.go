package jobqueue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/spacedriveapp/sdcore/internal/errs"
)

// Progress is one snapshot of a job's advertised status (§4.3 "Status
// reporting"), consumed by the UI/TUI/daemon RPC over the event bus —
// never blocking the publisher (§9 "Event bus across components").
type Progress struct {
	JobUUID    string
	Phase      string
	Message    string
	Processed  int64
	Total      int64
	Throughput float64 // items/sec, caller-computed
}

// Context is passed to Job.Run. It wraps the caller's context.Context with
// checkpoint persistence, progress publication, and cooperative
// cancellation, matching §4.3's ctx.checkpoint / ctx.progress /
// ctx.check_interrupt contract.
type Context struct {
	context.Context

	JobUUID string
	Logger  *slog.Logger

	queue      *Queue
	cancelled  func() bool
	progressCh chan<- Progress
	state      any // decoded job-specific state; Run() type-asserts it
}

// State returns the job-specific state value decoded for this invocation.
func (c *Context) State() any { return c.state }

// SetState replaces the in-memory state, to be persisted on the next
// Checkpoint call.
func (c *Context) SetState(state any) { c.state = state }

// Checkpoint serializes the current state to the jobs table so a crash
// loses at most the work since the last checkpoint (§4.3 point 2). Safe to
// call frequently; each call is one short write transaction (§5).
func (c *Context) Checkpoint(processed, total int64) error {
	blob, err := json.Marshal(c.state)
	if err != nil {
		return errs.Wrap(errs.ErrDatabaseConstraint, "marshal job state for checkpoint", err)
	}

	return c.queue.persistCheckpoint(c.Context, c.JobUUID, blob, processed, total)
}

// Progress publishes a status update without persisting state (§4.3
// "Status reporting"). Non-blocking: if no subscriber is ready, the
// message is dropped rather than stalling the job.
func (c *Context) Progress(phase, message string, processed, total int64) {
	p := Progress{JobUUID: c.JobUUID, Phase: phase, Message: message, Processed: processed, Total: total}

	select {
	case c.progressCh <- p:
	default:
	}
}

// CheckInterrupt returns errs.ErrJobInterrupted if the job has been
// cancelled or paused since the last call. Jobs must call this at safe
// points only — between batches, never inside an open write transaction
// (§4.3 point 3, §5 Cancellation).
func (c *Context) CheckInterrupt() error {
	if c.cancelled() {
		return errs.New(errs.ErrJobInterrupted, "job "+c.JobUUID+" was paused or cancelled")
	}

	return nil
}
