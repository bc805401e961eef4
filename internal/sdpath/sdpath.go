// Package sdpath implements the §6 SdPath URI scheme, the unified way
// every component addresses a file: a physical path on a named device
// (local://), a path inside a cloud backend (s3://, gdrive://, …), or a
// device-independent content-addressed reference (content://).
package sdpath

import (
	"context"
	"fmt"
	"strings"

	"github.com/spacedriveapp/sdcore/internal/errs"
)

// Scheme identifies which of the three SdPath forms a path takes.
type Scheme string

// Schemes named in §6.
const (
	SchemeLocal   Scheme = "local"
	SchemeContent Scheme = "content"
	// Cloud schemes are open-ended (s3, gdrive, dropbox, box, onedrive, …);
	// ParseCloud accepts any scheme not equal to local/content.
	SchemeS3       Scheme = "s3"
	SchemeGDrive   Scheme = "gdrive"
	SchemeDropbox  Scheme = "dropbox"
	SchemeBox      Scheme = "box"
	SchemeOneDrive Scheme = "onedrive"
)

// SdPath is a parsed, structured path. Exactly one of the field groups is
// meaningful, selected by Scheme:
//   - SchemeLocal: DeviceSlug + AbsPath
//   - SchemeContent: ContentUUID
//   - any cloud scheme: Bucket + CloudPath
type SdPath struct {
	Scheme Scheme

	// local://<device-slug>/<abs-path>
	DeviceSlug string
	AbsPath    string

	// content://<uuid>
	ContentUUID string

	// <service>://<bucket>/<path>
	Bucket    string
	CloudPath string
}

// Parse decodes raw into an SdPath without resolving device/volume
// identity — that step requires a library context and is done separately
// by Resolver (§6 "Parsing requires a device/volume lookup through the
// current library context").
func Parse(raw string) (SdPath, error) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return SdPath{}, errs.New(errs.ErrPathInvalid, "sdpath: missing scheme separator in "+raw)
	}

	scheme := Scheme(raw[:idx])
	rest := raw[idx+3:]

	switch scheme {
	case SchemeLocal:
		return parseLocal(rest)
	case SchemeContent:
		return parseContent(rest)
	default:
		return parseCloud(scheme, rest)
	}
}

func parseLocal(rest string) (SdPath, error) {
	slug, abs, ok := strings.Cut(rest, "/")
	if !ok || slug == "" {
		return SdPath{}, errs.New(errs.ErrPathInvalid, "sdpath: local:// path missing device slug or absolute path")
	}

	return SdPath{Scheme: SchemeLocal, DeviceSlug: slug, AbsPath: "/" + abs}, nil
}

func parseContent(rest string) (SdPath, error) {
	if rest == "" {
		return SdPath{}, errs.New(errs.ErrPathInvalid, "sdpath: content:// path missing uuid")
	}

	return SdPath{Scheme: SchemeContent, ContentUUID: rest}, nil
}

func parseCloud(scheme Scheme, rest string) (SdPath, error) {
	bucket, path, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" {
		return SdPath{}, errs.New(errs.ErrPathInvalid, fmt.Sprintf("sdpath: %s:// path missing bucket or path", scheme))
	}

	return SdPath{Scheme: scheme, Bucket: bucket, CloudPath: "/" + path}, nil
}

// Format renders p back into its canonical string form. Format(Parse(s))
// round-trips for every valid SdPath (§8 round-trip law).
func Format(p SdPath) string {
	switch p.Scheme {
	case SchemeLocal:
		return fmt.Sprintf("local://%s%s", p.DeviceSlug, p.AbsPath)
	case SchemeContent:
		return fmt.Sprintf("content://%s", p.ContentUUID)
	default:
		return fmt.Sprintf("%s://%s%s", p.Scheme, p.Bucket, p.CloudPath)
	}
}

// String implements fmt.Stringer via Format.
func (p SdPath) String() string { return Format(p) }

// DeviceResolver looks up device/volume identity for a library, used to
// turn a parsed local:// SdPath's DeviceSlug into concrete routing
// information (§6 "Parsing requires a device/volume lookup through the
// current library context"). Implemented by internal/storage's Store in
// the daemon; kept as an interface here so sdpath has no storage import.
type DeviceResolver interface {
	// DeviceUUIDForSlug resolves a device slug to its uuid, or an error if
	// no such device is registered in this library.
	DeviceUUIDForSlug(ctx context.Context, slug string) (string, error)
}

// Resolve parses raw and, for local:// paths, resolves the device slug to
// a uuid via resolver so callers can address the path's owning device
// unambiguously even if its slug changes later.
func Resolve(ctx context.Context, resolver DeviceResolver, raw string) (SdPath, string, error) {
	p, err := Parse(raw)
	if err != nil {
		return SdPath{}, "", err
	}

	if p.Scheme != SchemeLocal {
		return p, "", nil
	}

	deviceUUID, err := resolver.DeviceUUIDForSlug(ctx, p.DeviceSlug)
	if err != nil {
		return SdPath{}, "", errs.Wrap(errs.ErrPathInvalid, "sdpath: resolve device slug "+p.DeviceSlug, err)
	}

	return p, deviceUUID, nil
}
