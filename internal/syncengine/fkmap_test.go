package syncengine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

func newTestMapper(t *testing.T) (*FKMapper, *storage.Store) {
	t.Helper()

	s, err := storage.Open(context.Background(), ":memory:", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return NewFKMapper(s), s
}

func insertTestDevice(t *testing.T, s *storage.Store, name string) *storage.Device {
	t.Helper()

	ctx := context.Background()

	d := &storage.Device{
		UUID:         uuid.NewString(),
		Name:         name,
		Slug:         name,
		OS:           "linux",
		Capabilities: "{}",
		CreatedAt:    1,
		UpdatedAt:    1,
	}

	_, err := s.InsertDevice(ctx, d)
	require.NoError(t, err)

	return d
}

func TestFKMapper_IDsForUUIDsResolvesKnownRows(t *testing.T) {
	m, s := newTestMapper(t)
	d1 := insertTestDevice(t, s, "device-one")
	d2 := insertTestDevice(t, s, "device-two")

	resolved, err := m.IDsForUUIDs(context.Background(), "devices", []string{d1.UUID, d2.UUID})
	require.NoError(t, err)

	assert.Len(t, resolved, 2)
	assert.Contains(t, resolved, d1.UUID)
	assert.Contains(t, resolved, d2.UUID)
}

func TestFKMapper_IDsForUUIDsOmitsUnknownUUIDs(t *testing.T) {
	m, s := newTestMapper(t)
	d1 := insertTestDevice(t, s, "device-one")

	resolved, err := m.IDsForUUIDs(context.Background(), "devices", []string{d1.UUID, uuid.NewString()})
	require.NoError(t, err)

	assert.Len(t, resolved, 1)
}

func TestFKMapper_IDsForUUIDsEmptyInputIsNoQuery(t *testing.T) {
	m, _ := newTestMapper(t)

	resolved, err := m.IDsForUUIDs(context.Background(), "devices", nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestFKMapper_UUIDsForIDsRoundTrip(t *testing.T) {
	m, s := newTestMapper(t)
	d1 := insertTestDevice(t, s, "device-one")

	byUUID, err := m.IDsForUUIDs(context.Background(), "devices", []string{d1.UUID})
	require.NoError(t, err)

	id := byUUID[d1.UUID]

	byID, err := m.UUIDsForIDs(context.Background(), "devices", []int64{id})
	require.NoError(t, err)

	assert.Equal(t, d1.UUID, byID[id])
}

func TestRequireResolved_ReturnsMissingDependency(t *testing.T) {
	resolved := map[string]int64{"known-uuid": 1}

	err := RequireResolved("devices", []string{"known-uuid", "missing-uuid"}, resolved)
	require.Error(t, err)

	var missing *ErrMissingDependency
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "missing-uuid", missing.UUID)
	assert.Equal(t, "devices", missing.Table)
}

func TestRequireResolved_IgnoresEmptyUUIDs(t *testing.T) {
	err := RequireResolved("devices", []string{""}, map[string]int64{})
	assert.NoError(t, err)
}
