package action

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/eventbus"
	"github.com/spacedriveapp/sdcore/internal/indexer"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.Open(context.Background(), ":memory:", discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func insertCurrentDevice(t *testing.T, store *storage.Store) *storage.Device {
	t.Helper()

	d := &storage.Device{
		UUID: "device-uuid-1", Name: "Test Device", Slug: "test-device",
		PublicKey: []byte("k"), IsCurrent: true, CreatedAt: 1, UpdatedAt: 1,
	}

	_, err := store.InsertDevice(context.Background(), d)
	require.NoError(t, err)

	return d
}

func TestManager_DispatchRecordsAuditOnSuccess(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New()
	m := NewManager(store, bus, nil, discardLogger())

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	m.Register("noop", func(ctx context.Context, a Action) (Result, error) {
		payload, _ := json.Marshal(map[string]string{"ok": "true"})
		return Result{Payload: payload}, nil
	})

	res, err := m.Dispatch(context.Background(), Action{Type: "noop", ActorDevice: "device-uuid-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":"true"}`, string(res.Payload))

	entries, err := store.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].Status)
	assert.Equal(t, "noop", entries[0].ActionType)

	ev := <-sub.C
	assert.Equal(t, eventbus.KindActionComplete, ev.Kind)
}

func TestManager_DispatchRecordsAuditOnFailure(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, eventbus.New(), nil, discardLogger())

	m.Register("fails", func(ctx context.Context, a Action) (Result, error) {
		return Result{}, errAction("boom", assertError("boom"))
	})

	_, err := m.Dispatch(context.Background(), Action{Type: "fails"})
	require.Error(t, err)

	entries, err := store.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].Status)
	require.NotNil(t, entries[0].ErrorMessage)
}

func TestManager_DispatchUnknownTypeErrors(t *testing.T) {
	m := NewManager(newTestStore(t), eventbus.New(), nil, discardLogger())

	_, err := m.Dispatch(context.Background(), Action{Type: "nonexistent"})
	assert.Error(t, err)
}

func TestLocationAdd_CreatesRootEntryAndLocation(t *testing.T) {
	store := newTestStore(t)
	insertCurrentDevice(t, store)

	m := NewManager(store, eventbus.New(), nil, discardLogger())
	RegisterLocationHandlers(m, store, "library-uuid-1")

	payload, _ := json.Marshal(LocationAddPayload{
		Name:     "Documents",
		RootPath: "/tmp/documents",
		Mode:     indexer.ModeShallow,
		Scope:    indexer.ScopeRecursive,
	})

	res, err := m.Dispatch(context.Background(), Action{Type: TypeLocationAdd, Payload: payload})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.NotEmpty(t, out["location_uuid"])

	loc, err := store.GetLocationByUUID(context.Background(), out["location_uuid"])
	require.NoError(t, err)
	assert.Equal(t, "Documents", loc.Name)

	rootEntry, err := store.GetEntry(context.Background(), loc.EntryID)
	require.NoError(t, err)
	assert.Equal(t, storage.EntryKindDirectory, rootEntry.Kind)

	path, err := store.DirectoryPathOf(context.Background(), loc.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/documents", path)
}

func TestVolumeTrack_RegistersAndDeduplicatesByFingerprint(t *testing.T) {
	store := newTestStore(t)
	insertCurrentDevice(t, store)

	m := NewManager(store, eventbus.New(), nil, discardLogger())
	RegisterVolumeHandlers(m, store)

	dir := t.TempDir()

	payload, _ := json.Marshal(VolumeTrackPayload{
		MountPoint: dir, Name: "external-drive", CapacityBytes: 500_000_000_000, Filesystem: "ext4",
	})

	res1, err := m.Dispatch(context.Background(), Action{Type: TypeVolumeTrack, Payload: payload})
	require.NoError(t, err)

	var out1 map[string]string
	require.NoError(t, json.Unmarshal(res1.Payload, &out1))
	assert.Equal(t, "tracked", out1["status"])

	res2, err := m.Dispatch(context.Background(), Action{Type: TypeVolumeTrack, Payload: payload})
	require.NoError(t, err)

	var out2 map[string]string
	require.NoError(t, json.Unmarshal(res2.Payload, &out2))
	assert.Equal(t, "already_tracked", out2["status"])
	assert.Equal(t, out1["volume_uuid"], out2["volume_uuid"])
}

type assertError string

func (e assertError) Error() string { return string(e) }
