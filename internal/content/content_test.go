package content

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

func TestStreamHash_Deterministic(t *testing.T) {
	h1, err := StreamHash(strings.NewReader("hello world"))
	require.NoError(t, err)

	h2, err := StreamHash(strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, HashPrefix))
}

func TestStreamHash_DifferentContentDiffers(t *testing.T) {
	h1, err := StreamHash(strings.NewReader("a"))
	require.NoError(t, err)

	h2, err := StreamHash(strings.NewReader("b"))
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

// TestDeriveContentIdentityUUID_Convergence verifies §8 invariant 7: two
// independent derivations from identical bytes in the same library
// converge on the same UUID.
func TestDeriveContentIdentityUUID_Convergence(t *testing.T) {
	libUUID := uuid.New()
	ns := LibraryNamespace(libUUID)

	hash, err := StreamHash(strings.NewReader("identical file bytes"))
	require.NoError(t, err)

	deviceA := DeriveContentIdentityUUID(ns, hash)
	deviceB := DeriveContentIdentityUUID(ns, hash)

	assert.Equal(t, deviceA, deviceB)
}

func TestLibraryNamespace_DiffersAcrossLibraries(t *testing.T) {
	ns1 := LibraryNamespace(uuid.New())
	ns2 := LibraryNamespace(uuid.New())

	assert.NotEqual(t, ns1, ns2)
}

func TestIdentify_ExtensionFastPath(t *testing.T) {
	kind, mime := Identify("photo.PNG", nil)
	assert.Equal(t, storage.ContentKindImage, kind)
	assert.Equal(t, "image/png", mime)
}

func TestIdentify_MagicBytesFallback(t *testing.T) {
	kind, mime := Identify("noext", []byte("\x89PNG\r\n\x1a\nrest"))
	assert.Equal(t, storage.ContentKindImage, kind)
	assert.Equal(t, "image/png", mime)
}

func TestIdentify_Unknown(t *testing.T) {
	kind, mime := Identify("mystery.xyz123", []byte("not a recognized format"))
	assert.Equal(t, storage.ContentKindUnknown, kind)
	assert.Equal(t, "", mime)
}

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	f1 := Fingerprint("device-1", "/mnt/data", "Data", "1000000", "ext4")
	f2 := Fingerprint("device-1", "/mnt/data", "Data", "1000000", "ext4")
	assert.Equal(t, f1, f2)
}

func TestFingerprint_SeparatesComponents(t *testing.T) {
	f1 := Fingerprint("ab", "c")
	f2 := Fingerprint("a", "bc")
	assert.NotEqual(t, f1, f2, "concatenation without separators would collide")
}
