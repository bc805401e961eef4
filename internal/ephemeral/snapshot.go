package ephemeral

import (
	"bytes"
	"encoding/gob"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/spacedriveapp/sdcore/internal/errs"
)

// snapshotVersion guards against loading a snapshot written by an
// incompatible future encoding.
const snapshotVersion = 1

// snapshotWire is the on-disk shape of an Index: flattened node/name
// tables plus the path-keyed side maps, everything gob needs concrete,
// exported fields for.
type snapshotWire struct {
	Version int

	Epoch int64 // unix seconds

	Names []string

	Nodes []snapshotNode

	Paths []string // pathIndex, parallel to Nodes by insertion order
	UUIDs map[string]uuid.UUID
}

type snapshotNode struct {
	Parent   NodeID
	Name     NameID
	Lo       uint64
	Hi       uint64
	Children []NodeID
}

// SaveSnapshot serializes the index with gob and compresses it with zstd,
// writing atomically via a temp-file-then-rename (§4.2 save_snapshot:
// "compressed serialization for warm restart").
func (idx *Index) SaveSnapshot(snapshotPath string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	wire := snapshotWire{
		Version: snapshotVersion,
		Epoch:   idx.epoch.Unix(),
		Names:   append([]string(nil), idx.cache.strings...),
		UUIDs:   make(map[string]uuid.UUID, len(idx.uuids)),
	}

	wire.Nodes = make([]snapshotNode, idx.arena.len())
	for i := range idx.arena.nodes {
		n := &idx.arena.nodes[i]
		wire.Nodes[i] = snapshotNode{
			Parent:   n.parent,
			Name:     n.name,
			Lo:       n.meta.lo,
			Hi:       n.meta.hi,
			Children: append([]NodeID(nil), n.children...),
		}
	}

	wire.Paths = make([]string, idx.arena.len())
	for p, id := range idx.pathIndex {
		wire.Paths[id] = p
	}

	for p, u := range idx.uuids {
		wire.UUIDs[p] = u
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return errs.Wrap(errs.ErrBackendFailure, "ephemeral: encode snapshot", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return errs.Wrap(errs.ErrBackendFailure, "ephemeral: init zstd encoder", err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(buf.Bytes(), nil)

	tmp := snapshotPath + ".tmp"

	if err := os.WriteFile(tmp, compressed, 0o600); err != nil {
		return errs.Wrap(errs.ErrBackendFailure, "ephemeral: write snapshot", err)
	}

	if err := os.Rename(tmp, snapshotPath); err != nil {
		return errs.Wrap(errs.ErrBackendFailure, "ephemeral: rename snapshot into place", err)
	}

	return nil
}

// LoadSnapshot reconstructs an Index previously written by SaveSnapshot. The
// returned error wraps os.ErrNotExist (checkable with errors.Is) when
// snapshotPath doesn't exist (§4.2 load_snapshot).
func LoadSnapshot(snapshotPath string) (*Index, error) {
	raw, err := os.ReadFile(snapshotPath)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrBackendFailure, "ephemeral: init zstd decoder", err)
	}
	defer dec.Close()

	decompressed, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrBackendFailure, "ephemeral: decompress snapshot", err)
	}

	var wire snapshotWire
	if err := gob.NewDecoder(bytes.NewReader(decompressed)).Decode(&wire); err != nil {
		return nil, errs.Wrap(errs.ErrBackendFailure, "ephemeral: decode snapshot", err)
	}

	if wire.Version != snapshotVersion {
		return nil, errs.New(errs.ErrBackendFailure, "ephemeral: incompatible snapshot version")
	}

	idx := New(time.Unix(wire.Epoch, 0))

	idx.cache.strings = append([]string(nil), wire.Names...)
	idx.cache.byValue = make(map[string]NameID, len(wire.Names))

	for i, s := range wire.Names {
		idx.cache.byValue[s] = NameID(i)
	}

	idx.arena.nodes = make([]FileNode, len(wire.Nodes))
	for i, n := range wire.Nodes {
		idx.arena.nodes[i] = FileNode{
			parent:   n.Parent,
			name:     n.Name,
			meta:     PackedMetadata{lo: n.Lo, hi: n.Hi},
			children: append([]NodeID(nil), n.Children...),
		}
	}

	for id, p := range wire.Paths {
		if p == "" {
			continue
		}

		idx.pathIndex[p] = NodeID(id)
		idx.registry.Insert(idx.cache.String(idx.arena.nodes[id].name), NodeID(id))
	}

	for p, u := range wire.UUIDs {
		idx.uuids[p] = u
	}

	return idx, nil
}
