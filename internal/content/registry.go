package content

import (
	"bytes"
	"strings"

	"github.com/spacedriveapp/sdcore/internal/storage"
)

// extEntry pairs a ContentKind with its canonical MIME string.
type extEntry struct {
	kind storage.ContentKind
	mime string
}

// extensionTable is the fast-path extension matcher (§4.7: "a fast
// extension-first matcher with optional magic-bytes fallback"). Not
// exhaustive — out of scope is full file-type identification (spec.md §1
// Non-goals); this gives every component that needs a coarse kind a
// working default.
var extensionTable = map[string]extEntry{
	".jpg":  {storage.ContentKindImage, "image/jpeg"},
	".jpeg": {storage.ContentKindImage, "image/jpeg"},
	".png":  {storage.ContentKindImage, "image/png"},
	".gif":  {storage.ContentKindImage, "image/gif"},
	".webp": {storage.ContentKindImage, "image/webp"},
	".heic": {storage.ContentKindImage, "image/heic"},
	".mp4":  {storage.ContentKindVideo, "video/mp4"},
	".mov":  {storage.ContentKindVideo, "video/quicktime"},
	".mkv":  {storage.ContentKindVideo, "video/x-matroska"},
	".webm": {storage.ContentKindVideo, "video/webm"},
	".mp3":  {storage.ContentKindAudio, "audio/mpeg"},
	".flac": {storage.ContentKindAudio, "audio/flac"},
	".wav":  {storage.ContentKindAudio, "audio/wav"},
	".pdf":  {storage.ContentKindDocument, "application/pdf"},
	".doc":  {storage.ContentKindDocument, "application/msword"},
	".docx": {storage.ContentKindDocument, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".zip":  {storage.ContentKindArchive, "application/zip"},
	".tar":  {storage.ContentKindArchive, "application/x-tar"},
	".gz":   {storage.ContentKindArchive, "application/gzip"},
	".7z":   {storage.ContentKindArchive, "application/x-7z-compressed"},
	".go":   {storage.ContentKindCode, "text/x-go"},
	".rs":   {storage.ContentKindCode, "text/x-rust"},
	".py":   {storage.ContentKindCode, "text/x-python"},
	".js":   {storage.ContentKindCode, "text/javascript"},
	".ts":   {storage.ContentKindCode, "text/typescript"},
	".txt":  {storage.ContentKindText, "text/plain"},
	".md":   {storage.ContentKindText, "text/markdown"},
	".csv":  {storage.ContentKindText, "text/csv"},
	".db":   {storage.ContentKindDatabase, "application/x-sqlite3"},
	".sqlite": {storage.ContentKindDatabase, "application/x-sqlite3"},
	".epub": {storage.ContentKindBook, "application/epub+zip"},
	".mobi": {storage.ContentKindBook, "application/x-mobipocket-ebook"},
	".ttf":  {storage.ContentKindFont, "font/ttf"},
	".otf":  {storage.ContentKindFont, "font/otf"},
	".obj":  {storage.ContentKindMesh, "model/obj"},
	".fbx":  {storage.ContentKindMesh, "application/octet-stream"},
	".toml": {storage.ContentKindConfig, "application/toml"},
	".yaml": {storage.ContentKindConfig, "application/yaml"},
	".yml":  {storage.ContentKindConfig, "application/yaml"},
	".json": {storage.ContentKindConfig, "application/json"},
	".gpg":  {storage.ContentKindEncrypted, "application/pgp-encrypted"},
	".pem":  {storage.ContentKindKey, "application/x-pem-file"},
	".key":  {storage.ContentKindKey, "application/x-pem-file"},
	".exe":  {storage.ContentKindExecutable, "application/vnd.microsoft.portable-executable"},
	".sh":   {storage.ContentKindExecutable, "application/x-sh"},
}

// magicSignature is one magic-bytes rule for the fallback path.
type magicSignature struct {
	prefix []byte
	kind   storage.ContentKind
	mime   string
}

var magicSignatures = []magicSignature{
	{[]byte("\x89PNG\r\n\x1a\n"), storage.ContentKindImage, "image/png"},
	{[]byte("\xFF\xD8\xFF"), storage.ContentKindImage, "image/jpeg"},
	{[]byte("GIF8"), storage.ContentKindImage, "image/gif"},
	{[]byte("%PDF-"), storage.ContentKindDocument, "application/pdf"},
	{[]byte("PK\x03\x04"), storage.ContentKindArchive, "application/zip"},
	{[]byte("\x1f\x8b"), storage.ContentKindArchive, "application/gzip"},
	{[]byte("SQLite format 3\x00"), storage.ContentKindDatabase, "application/x-sqlite3"},
	{[]byte("\x7fELF"), storage.ContentKindExecutable, "application/x-executable"},
}

// Identify classifies a file by name and, when the extension table has no
// entry, by the first bytes of its content (§4.7). Returns the coarse
// kind and an optional MIME string (empty if neither path recognized it).
func Identify(name string, head []byte) (storage.ContentKind, string) {
	ext := strings.ToLower(extOf(name))

	if entry, ok := extensionTable[ext]; ok {
		return entry.kind, entry.mime
	}

	for _, sig := range magicSignatures {
		if bytes.HasPrefix(head, sig.prefix) {
			return sig.kind, sig.mime
		}
	}

	return storage.ContentKindUnknown, ""
}

func extOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}

	return name[idx:]
}
