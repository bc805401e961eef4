package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/indexer"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// LocationAddPayload is the decoded Action.Payload for TypeLocationAdd.
type LocationAddPayload struct {
	Name     string       `json:"name"`
	RootPath string       `json:"root_path"`
	Mode     indexer.Mode `json:"mode"`
	Scope    indexer.Scope `json:"scope"`
}

// RegisterLocationHandlers wires the Location-related Action types to
// concrete handlers that create the Location's root Entry in a single
// write transaction and then enqueue an IndexerJob to populate it
// (§6 "An ActionManager dispatches each, optionally returning a Job
// handle").
func RegisterLocationHandlers(m *Manager, store *storage.Store, libraryUUID string) {
	m.Register(TypeLocationAdd, func(ctx context.Context, a Action) (Result, error) {
		var p LocationAddPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return Result{}, errAction("decode location_add payload", err)
		}

		device, err := store.CurrentDevice(ctx)
		if err != nil {
			return Result{}, errAction("load current device", err)
		}

		now := time.Now().UnixNano()
		rootUUID := uuid.NewString()
		locUUID := uuid.NewString()

		var rootEntryID int64

		err = store.WithTx(ctx, func(tx *sql.Tx) error {
			var txErr error

			rootEntryID, txErr = storage.InsertEntry(ctx, tx, store.EntryStatements(), &storage.Entry{
				UUID:       rootUUID,
				Name:       p.Name,
				Kind:       storage.EntryKindDirectory,
				ParentID:   nil,
				CreatedAt:  now,
				ModifiedAt: now,
			})
			if txErr != nil {
				return txErr
			}

			if txErr := storage.InsertClosureSelfRow(ctx, tx, store.ClosureStatements(), rootEntryID); txErr != nil {
				return txErr
			}

			return storage.UpsertDirectoryPath(ctx, tx, store.PathStatements(), rootEntryID, p.RootPath)
		})
		if err != nil {
			return Result{}, errAction("create location root entry", err)
		}

		loc := &storage.Location{
			UUID:      locUUID,
			DeviceID:  device.ID,
			EntryID:   rootEntryID,
			Name:      p.Name,
			IndexMode: string(p.Mode),
			ScanState: "pending",
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := store.InsertLocation(ctx, loc); err != nil {
			return Result{}, errAction("insert location row", err)
		}

		cfg := indexer.Config{
			LocationUUID: locUUID,
			LibraryUUID:  libraryUUID,
			RootPath:     p.RootPath,
			Mode:         p.Mode,
			Scope:        p.Scope,
			DeviceID:     device.ID,
		}
		job := indexer.New(store, m.logger, cfg)

		var jobUUID string

		if m.Queue() != nil {
			jobUUID, err = m.Queue().Enqueue(ctx, job, locUUID, cfg)
			if err != nil {
				return Result{}, errAction("enqueue indexer job", err)
			}
		}

		payload, _ := json.Marshal(map[string]string{"location_uuid": locUUID})

		return Result{JobUUID: jobUUID, Payload: payload}, nil
	})

	m.Register(TypeLocationRemove, func(ctx context.Context, a Action) (Result, error) {
		if len(a.Targets) != 1 {
			return Result{}, fmt.Errorf("action: location_remove requires exactly one target uuid")
		}

		loc, err := store.GetLocationByUUID(ctx, a.Targets[0])
		if err != nil {
			return Result{}, errAction("load location for removal", err)
		}

		if err := store.SetLocationScanState(ctx, loc.UUID, "removed", time.Now().UnixNano()); err != nil {
			return Result{}, errAction("mark location removed", err)
		}

		return Result{}, nil
	})
}
