// Package action implements §6's external action envelope: typed
// user-initiated operations (LocationAdd, VolumeTrack, LocationExport,
// …) dispatched through an ActionManager that optionally hands back a
// job handle, records every completion to the AuditLog, and publishes
// onto the event bus.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacedriveapp/sdcore/internal/errs"
	"github.com/spacedriveapp/sdcore/internal/eventbus"
	"github.com/spacedriveapp/sdcore/internal/jobqueue"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// Type names the user-initiated operation an Action carries (§6 "e.g.,
// LocationAdd, VolumeTrack, LocationExport").
type Type string

// Action types. Handlers are registered per Type with Register; handlers
// exist for location_add, location_remove and volume_track, and the
// cmd/sdcored CLI dispatches location_add and volume_track.
const (
	TypeLocationAdd     Type = "location_add"
	TypeLocationRemove  Type = "location_remove"
	TypeLocationExport  Type = "location_export"
	TypeLocationImport  Type = "location_import"
	TypeVolumeTrack     Type = "volume_track"
	TypeVolumeUntrack   Type = "volume_untrack"
	TypeDeviceRename    Type = "device_rename"
	TypePairingGenerate Type = "pairing_generate"
	TypePairingJoin     Type = "pairing_join"
)

// Action is the typed envelope every user-initiated operation enters the
// core as (§6 "Action envelope"). Payload is handler-specific and decoded
// by the registered Handler for Type.
type Action struct {
	Type       Type
	ActorDevice string
	Targets    []string
	Payload    json.RawMessage
}

// Result is what a Handler returns: an optional job handle (for
// long-running operations dispatched onto the job queue) and an opaque
// result payload for quick, synchronous ones.
type Result struct {
	JobUUID string
	Payload json.RawMessage
}

// Handler executes one Action type. Handlers that dispatch a job return
// its uuid in Result.JobUUID; Result.Payload carries any immediate result
// and may be set alongside a job uuid (LocationAdd returns both).
type Handler func(ctx context.Context, a Action) (Result, error)

// Manager dispatches Actions to registered Handlers, recording every
// completion — success or failure — to the AuditLog (§6 "Every action's
// completion is recorded in AuditLog") and publishing a KindActionComplete
// event so the TUI/daemon RPC can observe it without polling.
type Manager struct {
	store    *storage.Store
	bus      *eventbus.Bus
	logger   *slog.Logger
	queue    *jobqueue.Queue
	handlers map[Type]Handler
}

// NewManager constructs a Manager. queue may be nil for a Manager that
// only dispatches synchronous actions (tests, simple CLIs).
func NewManager(store *storage.Store, bus *eventbus.Bus, queue *jobqueue.Queue, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		bus:      bus,
		queue:    queue,
		logger:   logger,
		handlers: make(map[Type]Handler),
	}
}

// Register associates a Type with the Handler that executes it. Call
// once per Type at startup, before any Dispatch.
func (m *Manager) Register(t Type, h Handler) {
	m.handlers[t] = h
}

// Queue exposes the bound job queue so Handlers dispatching long-running
// work can enqueue onto the same queue instance the Manager was built
// with.
func (m *Manager) Queue() *jobqueue.Queue { return m.queue }

// Dispatch executes a's registered Handler, recording the outcome to the
// AuditLog and publishing an event regardless of success or failure
// (§6 "Every action's completion is recorded in AuditLog").
func (m *Manager) Dispatch(ctx context.Context, a Action) (Result, error) {
	h, ok := m.handlers[a.Type]
	if !ok {
		return Result{}, fmt.Errorf("action: no handler registered for %q", a.Type)
	}

	startedAt := time.Now().UnixNano()

	res, err := h(ctx, a)

	m.recordAudit(ctx, a, startedAt, res, err)
	m.publish(a, res, err)

	return res, err
}

func (m *Manager) recordAudit(ctx context.Context, a Action, startedAt int64, res Result, actionErr error) {
	finishedAt := time.Now().UnixNano()

	entry := &storage.AuditEntry{
		ActionType:  string(a.Type),
		ActorDevice: a.ActorDevice,
		Targets:     a.Targets,
		StartedAt:   startedAt,
		FinishedAt:  &finishedAt,
	}

	if actionErr != nil {
		entry.Status = "failed"
		msg := actionErr.Error()
		entry.ErrorMessage = &msg
	} else {
		entry.Status = "completed"

		if len(res.Payload) > 0 {
			payload := string(res.Payload)
			entry.Result = &payload
		}
	}

	if err := m.store.RecordAudit(ctx, entry); err != nil {
		m.logger.Warn("action: failed to record audit entry", "action_type", a.Type, "error", err)
	}
}

func (m *Manager) publish(a Action, res Result, actionErr error) {
	m.bus.Publish(eventbus.Event{
		Kind: eventbus.KindActionComplete,
		Payload: CompletionEvent{
			Type:    a.Type,
			JobUUID: res.JobUUID,
			Error:   errorString(actionErr),
		},
	})
}

// CompletionEvent is the payload of a KindActionComplete event.
type CompletionEvent struct {
	Type    Type
	JobUUID string
	Error   string
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// errAction wraps an underlying error as a retriable BackendError when
// Handlers need a generic non-specific failure classification; most
// Handlers should prefer a more specific errs.Kind.
func errAction(msg string, cause error) error {
	return errs.Wrap(errs.ErrBackendFailure, "action: "+msg, cause)
}
