package content

import (
	"strings"

	"github.com/google/uuid"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

// globalNamespace roots every library's content-identity namespace. A
// fixed, arbitrary-but-stable UUID, analogous to uuid.NameSpaceURL.
var globalNamespace = uuid.MustParse("a17f0000-5d00-4a00-8e00-c0de00000001")

// LibraryNamespace derives the per-library v5 namespace used to scope
// ContentIdentity UUIDs (§4.7: "library_namespace = v5(global_namespace,
// library_uuid)"). Two libraries never share a ContentIdentity UUID even
// for byte-identical content, which keeps export/import (§6) from
// colliding across unrelated libraries.
func LibraryNamespace(libraryUUID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(globalNamespace, libraryUUID[:])
}

// DeriveContentIdentityUUID computes the deterministic ContentIdentity
// UUID for contentHash within libraryNamespace (§4.7, §8 invariant 7:
// two devices that independently identify identical bytes in the same
// library converge on the same UUID with no coordination).
func DeriveContentIdentityUUID(libraryNamespace uuid.UUID, contentHash string) uuid.UUID {
	return uuid.NewSHA1(libraryNamespace, []byte(contentHash))
}

// DeriveEntryUUID deterministically derives a directory or empty-file
// entry's UUID from its parent chain and name, so that a retried Phase-2
// batch after a crash (§4.1 Phase 2 failure semantics) assigns the same
// UUID rather than minting a new one. Non-empty files do NOT use this —
// their UUID is assigned only once content-identification completes
// (§3 invariant d) and therefore does not need to be retry-stable here;
// duplicate-insert safety for those instead comes from the
// (parent_id, name) unique constraint and upsert (§4.1 Phase 2).
func DeriveEntryUUID(libraryNamespace uuid.UUID, parentUUID, name string) uuid.UUID {
	return uuid.NewSHA1(libraryNamespace, []byte(parentUUID+"/"+name))
}

// KindFromMime maps a MIME type's top-level category to a coarse
// storage.ContentKind, returning ContentKindBinary for any other category.
// Identify does not call it: it takes the kind from the matched extension
// or magic-byte entry directly.
func KindFromMime(mime string) storage.ContentKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return storage.ContentKindImage
	case strings.HasPrefix(mime, "video/"):
		return storage.ContentKindVideo
	case strings.HasPrefix(mime, "audio/"):
		return storage.ContentKindAudio
	case strings.HasPrefix(mime, "text/"):
		return storage.ContentKindText
	case strings.HasPrefix(mime, "font/"):
		return storage.ContentKindFont
	default:
		return storage.ContentKindBinary
	}
}
