package ephemeral

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

func testEpoch() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestIndex_AddEntry_EnsuresAncestorsAndIsIdempotent(t *testing.T) {
	idx := New(testEpoch())

	id := uuid.New()
	kind, added := idx.AddEntry("/mnt/nas/photos/beach.jpg", &id, EntryMetadata{
		Kind: KindFile,
		Size: 2048,
	})

	require.True(t, added)
	require.Equal(t, storage.ContentKindImage, kind)

	children, ok := idx.ListDirectory("/mnt/nas/photos")
	require.True(t, ok)
	require.Contains(t, children, "/mnt/nas/photos/beach.jpg")

	root, ok := idx.GetEntry("/mnt/nas")
	require.True(t, ok)
	require.Equal(t, KindDirectory, root.Kind)

	// duplicate add is a no-op
	_, added = idx.AddEntry("/mnt/nas/photos/beach.jpg", nil, EntryMetadata{Kind: KindFile, Size: 999})
	require.False(t, added)

	entry, ok := idx.GetEntry("/mnt/nas/photos/beach.jpg")
	require.True(t, ok)
	require.Equal(t, int64(2048), entry.Size, "duplicate add must not overwrite the original entry")
}

func TestIndex_EnsureDirectory_IsIdempotent(t *testing.T) {
	idx := New(testEpoch())

	first := idx.EnsureDirectory("/a/b/c")
	second := idx.EnsureDirectory("/a/b/c")

	require.Equal(t, first, second)
	require.Equal(t, 3, idx.Len(), "a, b, c each get one node")
}

func TestIndex_AddEntriesBatch(t *testing.T) {
	idx := New(testEpoch())

	kinds := idx.AddEntriesBatch([]EntrySpec{
		{Path: "/vol/a.txt", Meta: EntryMetadata{Kind: KindFile, Size: 1}},
		{Path: "/vol/b.png", Meta: EntryMetadata{Kind: KindFile, Size: 2}},
	})

	require.Equal(t, []storage.ContentKind{storage.ContentKindText, storage.ContentKindImage}, kinds)

	children, ok := idx.ListDirectory("/vol")
	require.True(t, ok)
	require.Len(t, children, 2)
}

func TestIndex_GetOrAssignUUID_IsStableAndLazy(t *testing.T) {
	idx := New(testEpoch())
	idx.EnsureDirectory("/vol/dir")

	first := idx.GetOrAssignUUID("/vol/dir")
	second := idx.GetOrAssignUUID("/vol/dir")

	require.Equal(t, first, second)
}

func TestIndex_ClearDirectoryChildren_PreservesBrowsedSubdirs(t *testing.T) {
	idx := New(testEpoch())

	idx.AddEntry("/vol/keep_me", nil, EntryMetadata{Kind: KindDirectory})
	idx.AddEntry("/vol/stale.txt", nil, EntryMetadata{Kind: KindFile})
	idx.AddEntry("/vol/fresh.txt", nil, EntryMetadata{Kind: KindFile})

	removed := idx.ClearDirectoryChildren("/vol", map[string]bool{
		"/vol/fresh.txt": true,
		"/vol/keep_me":   true,
	})

	require.Equal(t, 1, removed, "only stale.txt should be dropped")

	children, ok := idx.ListDirectory("/vol")
	require.True(t, ok)
	require.ElementsMatch(t, []string{"/vol/keep_me", "/vol/fresh.txt"}, children)
}

func TestIndex_FindByNameAndPrefixAndContaining(t *testing.T) {
	idx := New(testEpoch())

	idx.AddEntry("/vol/project/index.js", nil, EntryMetadata{Kind: KindFile})
	idx.AddEntry("/vol/other/index.js", nil, EntryMetadata{Kind: KindFile})
	idx.AddEntry("/vol/project/index.test.js", nil, EntryMetadata{Kind: KindFile})

	require.Len(t, idx.FindByName("index.js"), 2, "shared name should resolve both occurrences")
	require.Len(t, idx.FindByPrefix("index"), 3)
	require.Len(t, idx.FindContaining(".test."), 1)
}

func TestPackedMetadata_RoundTrips(t *testing.T) {
	epoch := testEpoch()
	mtime := epoch.Add(48 * time.Hour)
	ctime := epoch.Add(24 * time.Hour)

	m := NewPackedMetadata(KindFile, StateAccessible, 123456, mtime, ctime, epoch)

	require.Equal(t, KindFile, m.Kind())
	require.Equal(t, StateAccessible, m.State())
	require.Equal(t, int64(123456), m.Size())
	require.Equal(t, mtime.Unix(), m.MTime(epoch).Unix())
	require.Equal(t, ctime.Unix(), m.CTime(epoch).Unix())

	stale := m.WithState(StateStale)
	require.Equal(t, StateStale, stale.State())
	require.Equal(t, m.Size(), stale.Size(), "changing state must not disturb size")
}

func TestPackedMetadata_SaturatesOversizedValues(t *testing.T) {
	epoch := testEpoch()

	m := NewPackedMetadata(KindFile, StateAccessible, maxSize+1000, epoch, epoch, epoch)
	require.Equal(t, maxSize, m.Size())

	farFuture := epoch.Add(200 * 365 * 24 * time.Hour)
	m2 := NewPackedMetadata(KindFile, StateAccessible, 0, farFuture, farFuture, epoch)
	require.Equal(t, uint32(maxTime), uint32(m2.hi&timeMask))
}

func TestNameCache_InternsOnce(t *testing.T) {
	cache := NewNameCache()

	a := cache.Intern("index.js")
	b := cache.Intern("index.js")
	c := cache.Intern("other.js")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, 2, cache.Len())
}

func TestNameRegistry_PrefixAndContaining(t *testing.T) {
	reg := NewNameRegistry()

	reg.Insert("readme.md", 1)
	reg.Insert("readme.txt", 2)
	reg.Insert("license", 3)

	require.ElementsMatch(t, []NodeID{1, 2}, reg.FindByPrefix("read"))
	require.ElementsMatch(t, []NodeID{1}, reg.FindByName("readme.md"))
	require.ElementsMatch(t, []NodeID{3}, reg.FindContaining("cens"))

	reg.Remove("readme.md", 1)
	require.ElementsMatch(t, []NodeID{2}, reg.FindByPrefix("read"))
}

func TestIndex_SaveAndLoadSnapshot_RoundTrips(t *testing.T) {
	idx := New(testEpoch())

	id := uuid.New()
	idx.AddEntry("/vol/project/main.go", &id, EntryMetadata{
		Kind:    KindFile,
		Size:    4096,
		ModTime: testEpoch().Add(time.Hour),
		CTime:   testEpoch(),
	})
	idx.AddEntry("/vol/project/sub/helper.go", nil, EntryMetadata{Kind: KindFile, Size: 128})

	path := t.TempDir() + "/snapshot.bin"
	require.NoError(t, idx.SaveSnapshot(path))

	restored, err := LoadSnapshot(path)
	require.NoError(t, err)

	require.Equal(t, idx.Len(), restored.Len())

	entry, ok := restored.GetEntry("/vol/project/main.go")
	require.True(t, ok)
	require.Equal(t, int64(4096), entry.Size)

	gotUUID := restored.GetOrAssignUUID("/vol/project/main.go")
	require.Equal(t, id, gotUUID)

	children, ok := restored.ListDirectory("/vol/project")
	require.True(t, ok)
	require.ElementsMatch(t, []string{"/vol/project/main.go", "/vol/project/sub"}, children)
}

func TestLoadSnapshot_MissingFileReturnsNotExist(t *testing.T) {
	_, err := LoadSnapshot(t.TempDir() + "/does-not-exist.bin")
	require.ErrorIs(t, err, os.ErrNotExist)
}
