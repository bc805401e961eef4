package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command fresh each time (cobra commands are
// single-use) and returns combined stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestInit_CreatesLibraryLayout(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")

	out, err := runCLI(t, "init", "--library", libPath, "--name", "test-library")
	require.NoError(t, err)
	assert.Contains(t, out, "library initialized")

	assert.FileExists(t, filepath.Join(libPath, "config.toml"))
	assert.FileExists(t, filepath.Join(libPath, "identity.json"))
	assert.FileExists(t, filepath.Join(libPath, "library.db"))
}

func TestDevices_ListsCurrentDeviceAfterInit(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")

	_, err := runCLI(t, "init", "--library", libPath, "--name", "test-library")
	require.NoError(t, err)

	out, err := runCLI(t, "devices", "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "(this device)")
}

func TestLocationAdd_EnqueuesIndexerJob(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")
	rootPath := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(rootPath, "hello.txt"), []byte("hi"), 0o644))

	_, err := runCLI(t, "init", "--library", libPath)
	require.NoError(t, err)

	out, err := runCLI(t, "location", "add", "my-docs", rootPath, "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "location added, indexer job")
}

func TestVolumeTrack_RegistersMountPoint(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")
	mountPoint := t.TempDir()

	_, err := runCLI(t, "init", "--library", libPath)
	require.NoError(t, err)

	out, err := runCLI(t, "volume", "track", mountPoint, "--library", libPath, "--name", "external-disk")
	require.NoError(t, err)
	assert.Contains(t, out, "volume tracked")

	// A second track call should recognize the same fingerprint.
	out, err = runCLI(t, "volume", "track", mountPoint, "--library", libPath, "--name", "external-disk")
	require.NoError(t, err)
	assert.Contains(t, out, "already_tracked")

	out, err = runCLI(t, "volume", "list", "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "external-disk")
	assert.Contains(t, out, mountPoint)
}

func TestPair_GenerateJoinAcceptRoundTrip(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")

	_, err := runCLI(t, "init", "--library", libPath)
	require.NoError(t, err)

	out, err := runCLI(t, "pair", "generate", "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pairing code:")

	out, err = runCLI(t, "pair", "status", "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "role=initiator")

	out, err = runCLI(t, "pair", "accept", "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pairing session completed")
}

func TestRevoke_DisablesSyncForDevice(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")

	_, err := runCLI(t, "init", "--library", libPath)
	require.NoError(t, err)

	out, err := runCLI(t, "devices", "--library", libPath)
	require.NoError(t, err)

	// Extract the current device's UUID (first field of the second line,
	// the one data row under the header).
	lines := bytes.Split([]byte(out), []byte("\n"))
	require.True(t, len(lines) >= 2)
	dataLine := lines[1]
	deviceUUID := string(dataLine[:bytes.IndexByte(dataLine, ' ')])

	out, err = runCLI(t, "revoke", deviceUUID, "--library", libPath)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked:")
}

func TestSpacedrop_RejectsUnknownDevice(t *testing.T) {
	libPath := filepath.Join(t.TempDir(), "lib")
	file := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	_, err := runCLI(t, "init", "--library", libPath)
	require.NoError(t, err)

	_, err = runCLI(t, "spacedrop", "00000000-0000-0000-0000-000000000000", file, "--library", libPath)
	assert.Error(t, err)
}
