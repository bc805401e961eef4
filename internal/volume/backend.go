// Package volume implements the §6 VolumeBackend abstraction the indexer
// reads through, plus the concrete local-filesystem and cloud-service
// backends that satisfy it, and the §5/§9 advisory `.sdvolume` marker
// file convention.
package volume

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// Entry is one child yielded by a backend's ReadDir stream (§6
// "read_dir(path) -> Stream<Entry>").
type Entry struct {
	Name    string
	IsDir   bool
	IsLink  bool
	Size    int64
	ModTime time.Time
}

// Metadata is the per-path metadata a backend can report without reading
// file content (§6 "metadata(path)").
type Metadata struct {
	Size    int64
	IsDir   bool
	IsLink  bool
	ModTime time.Time
	// AccessedAt is nil when the backend cannot report access time
	// (cloud backends, and local backends on platforms other than Linux
	// and macOS).
	AccessedAt *time.Time
}

// Range selects a byte span for Backend.Read (§6 "read(path, range)").
// An End of 0 with Start of 0 means "read to EOF".
type Range struct {
	Start int64
	End   int64
}

// Backend is the uniform interface the indexer walks through, whether the
// underlying storage is local disk, a network share, or a cloud service
// (§6: "Local, cloud (S3, Google Drive, Dropbox, OneDrive, Box, …), and
// network backends implement this uniformly. The indexer does not
// distinguish backends beyond latency tolerance.").
type Backend interface {
	// ReadDir streams the direct children of path. The returned function
	// is called once per entry; returning a non-nil error from it stops
	// the stream early and that error is returned from ReadDir.
	ReadDir(ctx context.Context, path string, yield func(Entry) error) error

	// Metadata reports path's metadata without opening its content.
	Metadata(ctx context.Context, path string) (Metadata, error)

	// Read opens a ReadCloser over the given byte range of path's
	// content. Range{0,0} reads the whole file.
	Read(ctx context.Context, path string, r Range) (io.ReadCloser, error)

	// LatencyClass hints to the indexer how aggressively it can pipeline
	// requests against this backend (§6 "latency tolerance").
	LatencyClass() LatencyClass
}

// LatencyClass buckets a backend's expected per-call latency so the
// indexer can size its concurrency without backend-specific code.
type LatencyClass int

const (
	// LatencyLocal covers local disks and mounted network shares fast
	// enough to treat like local disk.
	LatencyLocal LatencyClass = iota
	// LatencyCloud covers backends reached over a WAN API call per
	// operation (S3, Google Drive, Dropbox, OneDrive, Box).
	LatencyCloud
)

// wrapNotExist wraps a backend error in an *fs.PathError. The cause stays
// reachable through Unwrap, so errors.Is(err, fs.ErrNotExist) still holds
// for a missing path and callers can use the standard library predicate
// regardless of backend.
func wrapNotExist(err error) error {
	if err == nil {
		return nil
	}

	return &fs.PathError{Op: "stat", Err: err}
}
