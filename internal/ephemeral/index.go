package ephemeral

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/content"
	"github.com/spacedriveapp/sdcore/internal/storage"
)

// EntryMetadata is what a caller hands to AddEntry and gets back from
// GetEntry — the ephemeral-index equivalent of a storage.Entry row, but
// never written to the database.
type EntryMetadata struct {
	Kind    EntryKind
	Size    int64
	ModTime time.Time
	CTime   time.Time
}

// Index is the memory-optimized tree of §4.2: a NodeArena of FileNodes, a
// shared NameCache for interning path segments, and a NameRegistry for
// name-based lookups, fronted by a path->NodeID map so callers still
// address entries by path rather than by arena handle. Multiple
// independently-rooted trees (e.g. "/mnt/nas" and "/media/usb" browsed in
// the same session) share the same cache and registry for maximum
// deduplication.
type Index struct {
	mu sync.RWMutex

	arena    *NodeArena
	cache    *NameCache
	registry *NameRegistry

	pathIndex map[string]NodeID
	uuids     map[string]uuid.UUID

	epoch time.Time

	createdAt    time.Time
	lastAccessed time.Time
}

// New returns an empty ephemeral index. epoch anchors the PackedMetadata
// time encoding; callers typically pass the library's creation time or
// time.Now() for a session with no backing library.
func New(epoch time.Time) *Index {
	now := time.Now()

	return &Index{
		arena:        NewNodeArena(),
		cache:        NewNameCache(),
		registry:     NewNameRegistry(),
		pathIndex:    make(map[string]NodeID),
		uuids:        make(map[string]uuid.UUID),
		epoch:        epoch,
		createdAt:    now,
		lastAccessed: now,
	}
}

func normalize(p string) string {
	return path.Clean(filepathToSlash(p))
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// EnsureDirectory recursively creates the ancestor chain from root to leaf
// for path, idempotently, and returns the leaf's NodeID (§4.2
// ensure_directory).
func (idx *Index) EnsureDirectory(p string) NodeID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.ensureDirectoryLocked(normalize(p))
}

func (idx *Index) ensureDirectoryLocked(p string) NodeID {
	if id, ok := idx.pathIndex[p]; ok {
		return id
	}

	parent := noParent

	if dir := path.Dir(p); dir != "." && dir != "/" && dir != p {
		parent = idx.ensureDirectoryLocked(dir)
	}

	name := idx.cache.Intern(baseName(p))

	id := idx.arena.insert(FileNode{
		parent: parent,
		name:   name,
		meta:   NewPackedMetadata(KindDirectory, StateAccessible, 0, idx.epoch, idx.epoch, idx.epoch),
	})

	if parent != noParent {
		if pn := idx.arena.get(parent); pn != nil {
			pn.children = append(pn.children, id)
		}
	}

	idx.pathIndex[p] = id
	idx.registry.Insert(idx.cache.String(name), id)

	return id
}

func baseName(p string) string {
	b := path.Base(p)
	if b == "/" || b == "." {
		return "/"
	}

	return b
}

// AddEntry ensures p's ancestor chain exists, interns its name, and
// appends it to the arena and NameRegistry. Returns the content kind
// identified by extension and false if the path was already present (a
// no-op, per §4.2 "duplicate path is a no-op").
func (idx *Index) AddEntry(p string, id *uuid.UUID, meta EntryMetadata) (storage.ContentKind, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p = normalize(p)

	if _, exists := idx.pathIndex[p]; exists {
		return storage.ContentKindUnknown, false
	}

	parent := noParent

	if dir := path.Dir(p); dir != "." && dir != "/" && dir != p {
		parent = idx.ensureDirectoryLocked(dir)
	}

	name := idx.cache.Intern(baseName(p))

	packed := NewPackedMetadata(meta.Kind, StateAccessible, meta.Size, meta.ModTime, meta.CTime, idx.epoch)

	nodeID := idx.arena.insert(FileNode{parent: parent, name: name, meta: packed})

	if parent != noParent {
		if pn := idx.arena.get(parent); pn != nil {
			pn.children = append(pn.children, nodeID)
		}
	}

	idx.pathIndex[p] = nodeID
	idx.registry.Insert(idx.cache.String(name), nodeID)

	if id != nil {
		idx.uuids[p] = *id
	}

	idx.lastAccessed = time.Now()

	var kind storage.ContentKind

	if meta.Kind == KindFile {
		kind, _ = content.Identify(p, nil)
	}

	return kind, true
}

// EntrySpec is one item of an AddEntriesBatch call.
type EntrySpec struct {
	Path string
	UUID *uuid.UUID
	Meta EntryMetadata
}

// AddEntriesBatch adds many entries under a single lock acquisition,
// amortizing per-call overhead versus repeated AddEntry calls (§4.2
// add_entries_batch).
func (idx *Index) AddEntriesBatch(entries []EntrySpec) []storage.ContentKind {
	kinds := make([]storage.ContentKind, len(entries))

	for i, e := range entries {
		kinds[i], _ = idx.AddEntry(e.Path, e.UUID, e.Meta)
	}

	return kinds
}

// GetEntry returns the metadata stored for path, if present.
func (idx *Index) GetEntry(p string) (EntryMetadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.pathIndex[normalize(p)]
	if !ok {
		return EntryMetadata{}, false
	}

	node := idx.arena.get(id)
	if node == nil {
		return EntryMetadata{}, false
	}

	return EntryMetadata{
		Kind:    node.meta.Kind(),
		Size:    node.meta.Size(),
		ModTime: node.meta.MTime(idx.epoch),
		CTime:   node.meta.CTime(idx.epoch),
	}, true
}

// GetOrAssignUUID returns the UUID cached for path, lazily minting a
// random v4 UUID on first access. Lazily-assigned UUIDs survive promotion
// of an ephemeral tree to a persistent location (§4.2 closing note).
func (idx *Index) GetOrAssignUUID(p string) uuid.UUID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p = normalize(p)

	if id, ok := idx.uuids[p]; ok {
		return id
	}

	id := uuid.New()
	idx.uuids[p] = id

	return id
}

// ListDirectory returns the absolute paths of path's direct children,
// reconstructed from the arena's parent chain (§4.2 list_directory).
func (idx *Index) ListDirectory(p string) ([]string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.pathIndex[normalize(p)]
	if !ok {
		return nil, false
	}

	node := idx.arena.get(id)
	if node == nil {
		return nil, false
	}

	out := make([]string, 0, len(node.children))

	for _, childID := range node.children {
		if p, ok := idx.reconstructPath(childID); ok {
			out = append(out, p)
		}
	}

	return out, true
}

func (idx *Index) reconstructPath(id NodeID) (string, bool) {
	var segments []string

	cur := id

	for {
		node := idx.arena.get(cur)
		if node == nil {
			return "", false
		}

		segments = append(segments, idx.cache.String(node.name))

		if node.parent == noParent {
			break
		}

		cur = node.parent
	}

	if len(segments) == 0 {
		return "", false
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}

	return "/" + strings.Join(segments, "/"), true
}

// ClearDirectoryChildren drops stale children of dirPath that aren't in
// keep, preserving subdirectories so that separately-browsed subtrees
// aren't discarded out from under an open view (§4.2
// clear_directory_children). Returns the number of entries removed.
func (idx *Index) ClearDirectoryChildren(dirPath string, keep map[string]bool) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dirPath = normalize(dirPath)

	dirID, ok := idx.pathIndex[dirPath]
	if !ok {
		return 0
	}

	dirNode := idx.arena.get(dirID)
	if dirNode == nil {
		return 0
	}

	var kept []NodeID

	removed := 0

	for _, childID := range dirNode.children {
		childNode := idx.arena.get(childID)
		childPath, pathOK := idx.reconstructPath(childID)

		if keep[childPath] || (childNode != nil && childNode.isDirectory()) {
			kept = append(kept, childID)
			continue
		}

		removed++

		if pathOK {
			delete(idx.pathIndex, childPath)
			delete(idx.uuids, childPath)

			if childNode != nil {
				idx.registry.Remove(idx.cache.String(childNode.name), childID)
			}
		}
	}

	dirNode.children = kept

	return removed
}

// FindByName returns every path whose basename equals name exactly.
func (idx *Index) FindByName(name string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.resolveAll(idx.registry.FindByName(name))
}

// FindByPrefix returns every path whose basename starts with prefix.
func (idx *Index) FindByPrefix(prefix string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.resolveAll(idx.registry.FindByPrefix(prefix))
}

// FindContaining returns every path whose basename contains substr.
func (idx *Index) FindContaining(substr string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.resolveAll(idx.registry.FindContaining(substr))
}

func (idx *Index) resolveAll(ids []NodeID) []string {
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if p, ok := idx.reconstructPath(id); ok {
			out = append(out, p)
		}
	}

	return out
}

// Len returns the total number of entries in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.arena.len()
}

// Stats summarizes an ephemeral index's size, mirroring the fields a
// caller would want to show in a "browsing N items" status line.
type Stats struct {
	TotalEntries    int
	UniqueNames     int
	InternedStrings int
	MemoryBytes     int
	UUIDCount       int
}

// Stats returns the current size/memory breakdown of the index.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return Stats{
		TotalEntries:    idx.arena.len(),
		UniqueNames:     idx.registry.UniqueNames(),
		InternedStrings: idx.cache.Len(),
		MemoryBytes:     idx.arena.memoryUsage() + idx.cache.memoryUsage() + idx.registry.memoryUsage(),
		UUIDCount:       len(idx.uuids),
	}
}

// Age reports how long ago this index was created.
func (idx *Index) Age() time.Duration {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return time.Since(idx.createdAt)
}
