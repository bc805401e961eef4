package ephemeral

import "time"

// EntryKind distinguishes what a FileNode represents.
type EntryKind uint8

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
	KindUnknown
)

// NodeState records whether an entry's metadata can still be trusted. A
// node is marked Stale rather than removed when a rescan can't confirm it
// still exists, so callers browsing the tree mid-rescan see a consistent
// view instead of entries disappearing out from under them.
type NodeState uint8

const (
	StateAccessible NodeState = iota
	StateStale
	StateDenied
)

const (
	kindBits  = 2
	stateBits = 2
	sizeBits  = 48

	kindShift  = 0
	stateShift = kindShift + kindBits
	sizeShift  = stateShift + stateBits

	kindMask  = uint64(1)<<kindBits - 1
	stateMask = uint64(1)<<stateBits - 1
	sizeMask  = uint64(1)<<sizeBits - 1

	maxSize = int64(sizeMask)

	timeBits = 32
	timeMask = uint64(1)<<timeBits - 1
	maxTime  = uint32(timeMask)
)

// PackedMetadata is a 128-bit bit-packed record carrying an entry's kind,
// size, node-state, and compact mtime/ctime, all without a heap allocation
// per entry (§4.2 "bit-packed 128-bit record"). lo holds kind/state/size;
// hi holds the two saturating time offsets.
type PackedMetadata struct {
	lo uint64
	hi uint64
}

// NewPackedMetadata builds a PackedMetadata for a freshly observed entry.
// mtime and ctime are stored as seconds since epoch, saturating at the
// 32-bit range rather than overflowing or erroring.
func NewPackedMetadata(kind EntryKind, state NodeState, size int64, mtime, ctime time.Time, epoch time.Time) PackedMetadata {
	m := PackedMetadata{
		lo: uint64(kind)&kindMask<<kindShift | uint64(state)&stateMask<<stateShift | packSize(size)<<sizeShift,
	}

	return m.WithTimes(mtime, ctime, epoch)
}

func packSize(size int64) uint64 {
	if size < 0 {
		return 0
	}

	if size > maxSize {
		return uint64(maxSize)
	}

	return uint64(size)
}

// WithTimes returns a copy of m with mtime/ctime re-encoded against epoch.
func (m PackedMetadata) WithTimes(mtime, ctime time.Time, epoch time.Time) PackedMetadata {
	m.hi = uint64(saturateOffset(mtime, epoch)) | uint64(saturateOffset(ctime, epoch))<<timeBits

	return m
}

func saturateOffset(t, epoch time.Time) uint32 {
	if t.Before(epoch) {
		return 0
	}

	d := t.Sub(epoch).Seconds()
	if d > float64(maxTime) {
		return maxTime
	}

	return uint32(d)
}

// Kind returns the entry's kind.
func (m PackedMetadata) Kind() EntryKind {
	return EntryKind(m.lo >> kindShift & kindMask)
}

// State returns the entry's node-state.
func (m PackedMetadata) State() NodeState {
	return NodeState(m.lo >> stateShift & stateMask)
}

// Size returns the entry's byte size, saturated at 2^48-1 for sizes beyond
// that (no real file on a supported filesystem approaches it).
func (m PackedMetadata) Size() int64 {
	return int64(m.lo >> sizeShift & sizeMask)
}

// MTime decodes the entry's modification time relative to epoch.
func (m PackedMetadata) MTime(epoch time.Time) time.Time {
	return epoch.Add(time.Duration(m.hi&timeMask) * time.Second)
}

// CTime decodes the entry's creation/change time relative to epoch.
func (m PackedMetadata) CTime(epoch time.Time) time.Time {
	return epoch.Add(time.Duration(m.hi>>timeBits&timeMask) * time.Second)
}

// WithState returns a copy of m with its node-state replaced.
func (m PackedMetadata) WithState(state NodeState) PackedMetadata {
	m.lo = m.lo&^(stateMask<<stateShift) | uint64(state)&stateMask<<stateShift

	return m
}
