package volume

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocalBackend_ReadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	b := NewLocal(dir)

	var entries []Entry
	err := b.ReadDir(context.Background(), "/", func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	assert.False(t, byName["a.txt"].IsDir)
	assert.EqualValues(t, 5, byName["a.txt"].Size)
	assert.True(t, byName["sub"].IsDir)
}

func TestLocalBackend_Metadata(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("0123456789"), 0o644))

	b := NewLocal(dir)
	m, err := b.Metadata(context.Background(), "/f.bin")
	require.NoError(t, err)
	assert.EqualValues(t, 10, m.Size)
	assert.False(t, m.IsDir)
}

func TestLocalBackend_MetadataMissingPath(t *testing.T) {
	b := NewLocal(t.TempDir())
	_, err := b.Metadata(context.Background(), "/nope")
	assert.Error(t, err)
}

func TestLocalBackend_ReadFullFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("abcdefghij"), 0o644))

	b := NewLocal(dir)
	rc, err := b.Read(context.Background(), "/f.txt", Range{})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(data))
}

func TestLocalBackend_ReadRange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("abcdefghij"), 0o644))

	b := NewLocal(dir)
	rc, err := b.Read(context.Background(), "/f.txt", Range{Start: 2, End: 5})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "cde", string(data))
}

func TestLocalBackend_LatencyClass(t *testing.T) {
	b := NewLocal(t.TempDir())
	assert.Equal(t, LatencyLocal, b.LatencyClass())
}

func TestFingerprint_StableAcrossRemount(t *testing.T) {
	fp1 := Fingerprint("device-1", "/mnt/data", "data-volume", 1000000, "ext4")
	fp2 := Fingerprint("device-1", "/mnt/data", "data-volume", 1000000, "ext4")
	assert.Equal(t, fp1, fp2)
}

func TestFingerprint_DiffersOnCapacity(t *testing.T) {
	base := Fingerprint("device-1", "/mnt/data", "data-volume", 1000000, "ext4")
	other := Fingerprint("device-1", "/mnt/data", "data-volume", 2000000, "ext4")
	assert.NotEqual(t, base, other)
}

func TestMarker_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := Marker{LibraryUUID: "lib-1", VolumeUUID: "vol-1", DeviceUUID: "dev-1", WrittenAt: 123}
	WriteMarker(discardLogger(), dir, m)

	got, ok := ReadMarker(dir)
	require.True(t, ok)
	assert.Equal(t, m, got)
}

func TestMarker_ReadMissingReturnsNotOK(t *testing.T) {
	_, ok := ReadMarker(t.TempDir())
	assert.False(t, ok)
}

func TestMarker_ReadMalformedReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerFileName), []byte("not json"), 0o644))

	_, ok := ReadMarker(dir)
	assert.False(t, ok)
}
