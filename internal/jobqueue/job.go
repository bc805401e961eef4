// Package jobqueue implements the §4.3 durable, per-library job framework:
// at-most-one active instance per (library, job name, target), checkpoint
// persistence across restarts, cooperative cancellation, and progress
// reporting over the process-local event bus.
package jobqueue

import (
	"encoding/json"
)

// Status is a job's lifecycle state (§4.3 "Lifecycle states").
type Status string

// Lifecycle states. Queued -> Running -> (Completed | Failed | Cancelled | Paused).
// Paused jobs remain in the queue until explicitly resumed.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether s is a terminal state a process restart should
// not rehydrate (§4.3 checkpointing: "every non-terminal job in
// Running|Queued is rehydrated and resumed" — Paused jobs are also
// non-terminal but wait for an explicit resume rather than auto-rehydrate).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Output is the opaque result a job returns on successful completion.
// Concrete job types define their own result shape and marshal it here.
type Output struct {
	Summary string
	Data    json.RawMessage
}

// Job is the contract every job type implements (§4.3 "Contract"). A Job
// declares a name, whether it can resume after a restart, and a Run method
// that receives a *Context bound to this invocation's persisted state.
type Job interface {
	// Name identifies the job type, used for the at-most-one-per-target
	// policy and for rehydration lookups in the Registry.
	Name() string

	// Resumable reports whether this job type can be rehydrated and
	// continued after a process restart, as opposed to restarting from
	// scratch (§4.3 "RESUMABLE: bool").
	Resumable() bool

	// Run executes the job to completion, pausing or erroring via ctx's
	// checkpoint/interrupt machinery rather than returning early on its
	// own. ctx.State() gives access to whatever this invocation's state
	// blob decoded to; implementations assert it to their own type.
	Run(ctx *Context) (Output, error)
}

// ResumeHook is implemented by job types that need to react to
// resume/pause/cancel transitions beyond the default (§4.3 "optional hooks
// on_resume, on_pause, on_cancel").
type ResumeHook interface {
	OnResume(ctx *Context) error
}

// PauseHook is implemented by job types with pause-time cleanup.
type PauseHook interface {
	OnPause(ctx *Context) error
}

// CancelHook is implemented by job types with cancel-time cleanup.
type CancelHook interface {
	OnCancel(ctx *Context) error
}

// Factory builds a zero-value Job instance of a given type, used by the
// Registry to rehydrate a persisted job row back into a typed Job before
// unmarshaling its config/state into it.
type Factory func() Job

// Target identifies the scope a job instance applies to (e.g. a location
// uuid), forming half of the at-most-one policy key
// (library, job_name, target) from §4.3 point 1. The library itself is
// implicit — one Queue instance serves exactly one library's database.
type Target = string

