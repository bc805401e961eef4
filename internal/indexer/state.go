package indexer

// Phase identifies which of the five indexer phases a job is in (§4.1).
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseProcessing Phase = "processing"
	PhaseAggregation Phase = "aggregation"
	PhaseContentID   Phase = "content_identification"
	PhaseDeep        Phase = "deep"
	PhaseDone        Phase = "done"
)

// DirEntry is one entry discovered during Phase 1, not yet persisted
// (§4.1 Job state).
type DirEntry struct {
	Path       string
	Name       string
	Kind       string // "file" | "directory" | "symlink"
	Size       int64
	ModifiedAt int64
	ParentPath string
}

// PendingBatch is an ordered, BFS-ordered group of DirEntry records ready
// for Phase 2 (§4.1 Phase 1, "ordered batch").
type PendingBatch struct {
	Entries []DirEntry
}

// Stats accumulates counters across the whole run (§4.1 Job state).
type Stats struct {
	Files    int64
	Dirs     int64
	Symlinks int64
	Errors   int64
	Bytes    int64
}

// ContentPending marks an entry awaiting Phase 4 content identification,
// keyed by its assigned local entry id.
type ContentPending struct {
	EntryID int64
	Path    string
	Size    int64
}

// State is the serializable job state persisted between checkpoints
// (§4.1 Job state, §4.3 point 2). It survives a process restart in full.
type State struct {
	Phase Phase

	// Phase 1: BFS queue of directories remaining to walk.
	DiscoveryQueue []string

	// Phase 1 -> 2: batches ready for processing, smallest-index-first.
	Batches []PendingBatch

	// Path -> local entry id, populated in discovery order so Phase 2 can
	// resolve parents without re-querying the database for every row.
	PathCache map[string]int64

	// Path -> assigned uuid, populated alongside PathCache for directories
	// and empty files (§3 invariant d), since DeriveEntryUUID needs the
	// parent's uuid to derive a child's.
	UUIDCache map[string]string

	// Phase 2 -> 4: entries awaiting content identification.
	ContentQueue []ContentPending

	// Cycle protection: canonical paths already seen during discovery.
	SeenPaths map[string]bool

	Stats Stats

	Errs []string

	StartedAtUnixNano int64

	// AggregationRootID is the local entry id of the root, used to scope
	// Phase 3's post-order rollup walk.
	AggregationRootID int64

	LocationID int64
}

// NewState seeds a fresh job state for rootPath.
func NewState(rootPath string, startedAt int64) *State {
	return &State{
		Phase:          PhaseDiscovery,
		DiscoveryQueue: []string{rootPath},
		PathCache:      make(map[string]int64),
		UUIDCache:      make(map[string]string),
		SeenPaths:      make(map[string]bool),
		StartedAtUnixNano: startedAt,
	}
}
