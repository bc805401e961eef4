package storage

// This file declares the hybrid-identifier entities of §3: every
// persistent record carries a local auto-incrementing int ID for joins
// plus a global UUID for cross-device addressing. Sync traffic never
// carries an int ID — see internal/syncengine/fkmap.

// EntryKind is the coarse filesystem node type.
type EntryKind string

// Entry kinds, matching the CHECK constraint on entries.kind.
const (
	EntryKindFile      EntryKind = "file"
	EntryKindDirectory EntryKind = "directory"
	EntryKindSymlink   EntryKind = "symlink"
)

// Entry is one node in the virtual file tree (§3 Entity).
type Entry struct {
	ID            int64
	UUID          string // empty until sync-ready (directories/empty files: at creation; non-empty files: at content-ID)
	Name          string
	Kind          EntryKind
	Extension     string
	ContentID     *int64
	MetadataID    *int64
	Size          int64
	AggregateSize int64
	ChildCount    int64
	FileCount     int64
	ParentID      *int64
	CreatedAt     int64 // unix nanoseconds
	ModifiedAt    int64
	AccessedAt    *int64
	IndexedAt     *int64 // local watermark, never synced
}

// IsSyncReady reports whether e is eligible to appear in sync traffic.
// Directories and empty files are ready once UUID is assigned at creation;
// non-empty files become ready only once content identification completes
// (§3 invariant d, §8 invariant 4).
func (e *Entry) IsSyncReady() bool {
	return e.UUID != ""
}

// EntryClosure is one row of the transitive-closure table (§3 EntryClosure).
type EntryClosure struct {
	AncestorID   int64
	DescendantID int64
	Depth        int
}

// DirectoryPath is the absolute filesystem path of a directory entry (§3).
type DirectoryPath struct {
	EntryID int64
	Path    string
}

// ContentKind is the coarse content classification of §4.7.
type ContentKind int

// Content kinds, ordered to match the enum named in §4.7.
const (
	ContentKindUnknown ContentKind = iota
	ContentKindImage
	ContentKindVideo
	ContentKindAudio
	ContentKindDocument
	ContentKindArchive
	ContentKindCode
	ContentKindText
	ContentKindDatabase
	ContentKindBook
	ContentKindFont
	ContentKindMesh
	ContentKindConfig
	ContentKindEncrypted
	ContentKindKey
	ContentKindExecutable
	ContentKindBinary
)

// ContentIdentity is deduplicated content, keyed by content hash (§3).
type ContentIdentity struct {
	ID             int64
	UUID           string // deterministic v5, see internal/content
	ContentHash    string
	KindID         ContentKind
	MimeTypeID     *int64
	TotalSize      int64
	EntryCount     int64
	FirstSeenAt    int64
	LastVerifiedAt int64
}

// Location is a managed subtree of the filesystem (§3).
type Location struct {
	ID            int64
	UUID          string
	DeviceID      int64
	EntryID       int64
	Name          string
	IndexMode     string
	ScanState     string
	AggregateSize int64
	FileCount     int64
	CreatedAt     int64
	UpdatedAt     int64
}

// Device is a peer (§3).
type Device struct {
	ID               int64
	UUID             string
	Name             string
	Slug             string
	OS               string
	OSVersion        string
	PublicKey        []byte
	NetworkAddresses []string // JSON-encoded in the row
	IsOnline         bool
	LastSeenAt       *int64
	Capabilities     string // raw JSON
	SyncEnabled      bool
	LastSyncAt       *int64
	IsCurrent        bool
	CreatedAt        int64
	UpdatedAt        int64
}

// Volume is a physical/virtual storage backend (§3).
type Volume struct {
	ID              int64
	UUID            string
	DeviceID        int64
	Fingerprint     string
	MountPoint      string
	Name            string
	CapacityBytes   int64
	AvailableBytes  int64
	Filesystem      string
	CloudService    *string
	CloudConfig     *string
	IsMounted       bool
	CreatedAt       int64
	UpdatedAt       int64
}

// UserMetadata is a free-form annotation on an Entry (§3).
type UserMetadata struct {
	ID        int64
	UUID      string
	Note      string
	Favorite  bool
	CreatedAt int64
	UpdatedAt int64
}

// Tag is a semantic annotation attachable to Entries or ContentIdentities (§3).
type Tag struct {
	ID        int64
	UUID      string
	Name      string
	Color     string
	CreatedAt int64
	UpdatedAt int64
}

// Label is a semantic annotation attachable to Entries (§3).
type Label struct {
	ID        int64
	UUID      string
	Name      string
	CreatedAt int64
	UpdatedAt int64
}

// AuditEntry is one append-only audit record (§3 AuditLog).
type AuditEntry struct {
	ID           int64
	ActionType   string
	ActorDevice  string
	Targets      []string // JSON-encoded in the row
	Status       string
	StartedAt    int64
	FinishedAt   *int64
	ErrorMessage *string
	Result       *string
}

// SyncCheckpoint is a per-peer watermark pair (§3).
type SyncCheckpoint struct {
	PeerDeviceUUID string
	LastStateHLC   string
	LastSharedHLC  string
}

// Tombstone records a deletion by uuid, suppressing out-of-order
// re-insertion from late-arriving messages (§4.6.3, §8 invariant 8).
type Tombstone struct {
	UUID      string
	ModelType string
	DeletedAt int64
	DeletedBy string
}
