package device

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

// slugInvalidRun matches one or more characters that cannot appear in a
// slug, collapsed to a single hyphen (§4.4 "a url-safe slug derived from
// the device name").
var slugInvalidRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and replaces every run of non-alphanumeric
// characters with a single hyphen, trimming leading/trailing hyphens.
// storage.InsertDevice resolves any remaining collision by appending a
// numeric suffix, so this function only needs to produce a reasonable
// base candidate, not a guaranteed-unique one.
func Slugify(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	slug := strings.Trim(slugInvalidRun.ReplaceAllString(lower, "-"), "-")

	if slug == "" {
		slug = "device"
	}

	return slug
}

// Register persists a newly generated (local) device identity as this
// library's own device row (§4.4 "On first run... a device row is
// created locally with is_current = true").
func Register(ctx context.Context, store *storage.Store, id *Identity, name, os, osVersion string, now time.Time) (*storage.Device, error) {
	d := &storage.Device{
		UUID:         uuid.NewString(),
		Name:         name,
		Slug:         Slugify(name),
		OS:           os,
		OSVersion:    osVersion,
		PublicKey:    id.Public,
		IsOnline:     true,
		Capabilities: "{}",
		SyncEnabled:  true,
		IsCurrent:    true,
		CreatedAt:    now.Unix(),
		UpdatedAt:    now.Unix(),
	}

	if _, err := store.InsertDevice(ctx, d); err != nil {
		return nil, err
	}

	return d, nil
}

// RegisterPeer persists a remote device discovered through a completed
// pairing session, resolving slug collisions the same way Register does
// (§4.4 "Slug collision on registration... resolved slug is returned to
// the remote so both sides store the same value"), plus a long-term
// pinned trust entry keyed by its public key (§4.4 point 7: "both sides
// persist {peer_uuid, peer_public_key, paired_at} to a long-term trust
// store").
func RegisterPeer(ctx context.Context, store *storage.Store, info *DeviceInfo, now time.Time) (*storage.Device, error) {
	d := &storage.Device{
		UUID:         info.UUID,
		Name:         info.Name,
		Slug:         Slugify(info.Name),
		OS:           info.OS,
		OSVersion:    info.OSVersion,
		PublicKey:    info.PublicKey,
		IsOnline:     true,
		Capabilities: "{}",
		SyncEnabled:  true,
		IsCurrent:    false,
		CreatedAt:    now.Unix(),
		UpdatedAt:    now.Unix(),
	}

	if _, err := store.InsertDevice(ctx, d); err != nil {
		return nil, err
	}

	trust := &storage.PairedDeviceTrust{
		DeviceUUID: info.UUID,
		PublicKey:  info.PublicKey,
		PairedAt:   now.Unix(),
	}

	if err := store.InsertPairedDeviceTrust(ctx, trust); err != nil {
		return nil, err
	}

	return d, nil
}
