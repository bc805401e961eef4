// Package device implements §4.4: device identity keys encrypted at rest,
// 12-word pairing codes, and the mutual pairing protocol's pure
// (non-transport) logic — challenge/response authentication, device-info
// exchange, and session-key derivation. The actual network plumbing that
// carries these messages lives in internal/transport; this package only
// knows how to generate, verify, and derive key material.
package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/spacedriveapp/sdcore/internal/errs"
)

// Identity is this device's long-term signing keypair. The public key's
// fingerprint identifies the device on the network (§4.4 "Identity").
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateIdentity mints a new Ed25519-class signing keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEncryption, "generate device identity keypair", err)
	}

	return &Identity{Public: pub, private: priv}, nil
}

// Sign produces a detached signature over msg using the private key. The
// private key never leaves this method's stack frame as a return value.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify checks a signature produced by Sign against a peer's public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// Wipe zeroes the in-memory private key material. Callers should call this
// once the identity is no longer needed in the current process lifetime —
// matches §9's "in memory, wipe on drop" for sensitive key material.
func (id *Identity) Wipe() {
	for i := range id.private {
		id.private[i] = 0
	}
}

// argon2Time, argon2Memory, and argon2Threads are the Argon2id-class KDF
// parameters used to derive the at-rest encryption key from the user's
// password (§4.4: "stored encrypted at rest under a user-supplied password
// (Argon2id-class KDF + authenticated encryption)"). Chosen as the
// still-recommended OWASP floor for interactive unlock: sub-second on
// ordinary hardware while remaining memory-hard against GPU cracking.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	saltSize      = 16
)

// encryptedIdentityFile is the on-disk format: salt + nonce + AEAD-sealed
// private key, plus the public key in the clear (it's not secret and
// callers need it without unlocking).
type encryptedIdentityFile struct {
	Public []byte `json:"public"`
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Sealed []byte `json:"sealed"`
}

// filePerms restricts the identity file to owner-only read/write, matching
// the sensitivity of a token file (§9 "never serialize into logs").
const filePerms = 0o600

// Save encrypts id's private key under password and writes it to path,
// atomically (write-to-temp + rename, the same pattern used for token
// files elsewhere in this stack) so a crash mid-write never leaves a
// corrupt identity file.
func Save(path string, id *Identity, password []byte) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.ErrEncryption, "generate identity salt", err)
	}

	key := argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return errs.Wrap(errs.ErrEncryption, "construct AEAD cipher", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.ErrEncryption, "generate identity nonce", err)
	}

	sealed := aead.Seal(nil, nonce, id.private, id.Public)

	file := encryptedIdentityFile{Public: id.Public, Salt: salt, Nonce: nonce, Sealed: sealed}

	data, err := json.Marshal(file)
	if err != nil {
		return errs.Wrap(errs.ErrEncryption, "marshal identity file", err)
	}

	return atomicWriteFile(path, data, filePerms)
}

// Load decrypts the identity at path under password.
func Load(path string, password []byte) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device: reading identity file %s: %w", path, err)
	}

	var file encryptedIdentityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("device: decoding identity file %s: %w", path, err)
	}

	key := argon2.IDKey(password, file.Salt, argon2Time, argon2Memory, argon2Threads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEncryption, "construct AEAD cipher", err)
	}

	priv, err := aead.Open(nil, file.Nonce, file.Sealed, file.Public)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEncryption, "decrypt identity (wrong password?)", err)
	}

	return &Identity{Public: file.Public, private: priv}, nil
}

// atomicWriteFile writes data to path via a temp file in the same
// directory followed by rename, so readers never observe a partial file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("device: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("device: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, perm); err != nil {
		tmp.Close()
		return fmt.Errorf("device: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("device: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("device: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("device: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("device: renaming: %w", err)
	}

	success = true

	return nil
}
