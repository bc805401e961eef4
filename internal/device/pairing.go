package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/spacedriveapp/sdcore/internal/errs"
)

// State is a step of the mutual pairing protocol (§4.4 "State machine").
type State string

// Pairing states, in the order §4.4 lists them. Any step may time out.
const (
	StateGeneratingCode      State = "generating_code"
	StateBroadcastingOrScanning State = "broadcasting_or_scanning"
	StateConnecting          State = "connecting"
	StateAuthenticating      State = "authenticating"
	StateExchangingKeys      State = "exchanging_keys"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateEstablishingSession State = "establishing_session"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

// Role distinguishes the two symmetric participants (§4.4 "Let Initiator
// be the device displaying the code; Joiner scans/enters it").
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// DeviceInfo is the record exchanged in protocol step 4 (§4.4
// "Device-info exchange"), a wire-shaped subset of storage.Device.
type DeviceInfo struct {
	UUID      string
	Name      string
	Slug      string
	PublicKey ed25519.PublicKey
	OS        string
	OSVersion string
}

// Nonce is a random challenge value exchanged in step 3.
type Nonce [32]byte

// NewNonce generates a fresh random nonce.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, errs.Wrap(errs.ErrEncryption, "generate pairing nonce", err)
	}

	return n, nil
}

// SignChallenge produces the signature a device sends in step 3:
// sig = Sign(private_key, their_nonce || pairing_code_payload)
// (§4.4 point 3: "each side returns a signature over (their_nonce ⧺
// pairing_code_payload) using its device private key").
func (id *Identity) SignChallenge(theirNonce Nonce, codePayload []byte) []byte {
	msg := append(append([]byte{}, theirNonce[:]...), codePayload...)
	return id.Sign(msg)
}

// VerifyChallenge checks a peer's challenge-response signature against
// their claimed public key, the nonce we sent them, and the shared
// pairing code payload.
func VerifyChallenge(peerPublic ed25519.PublicKey, ourNonce Nonce, codePayload, sig []byte) bool {
	msg := append(append([]byte{}, ourNonce[:]...), codePayload...)
	return Verify(peerPublic, msg, sig)
}

// SessionKeys are the three symmetric keys derived after a successful
// pairing or reconnect (§4.4 point 6): one for each direction plus a MAC
// key, so a symmetric key-agreement protocol never reuses one key for
// both directions.
type SessionKeys struct {
	SendKey    [32]byte
	ReceiveKey [32]byte
	MACKey     [32]byte
}

// EphemeralKeyPair is a one-time X25519 keypair used for step 6's key
// agreement (§4.4 "Perform an ephemeral key agreement").
type EphemeralKeyPair struct {
	Public  [32]byte
	private [32]byte
}

// GenerateEphemeralKeyPair mints a fresh X25519 keypair for one pairing
// or reconnect session.
func GenerateEphemeralKeyPair() (*EphemeralKeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, errs.Wrap(errs.ErrEncryption, "generate ephemeral key", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEncryption, "derive ephemeral public key", err)
	}

	var kp EphemeralKeyPair
	copy(kp.private[:], priv[:])
	copy(kp.Public[:], pub)

	return &kp, nil
}

// DeriveSessionKeys computes the shared secret via X25519 against the
// peer's ephemeral public key, then derives role-dependent send/receive/
// mac keys via HKDF over the shared secret plus both public keys (§4.4
// point 6: "derive {send_key, receive_key, mac_key} via a KDF over the
// shared secret plus both public keys (role-dependent direction to avoid
// symmetry-induced key reuse)"). ourRole determines which HKDF output
// block becomes SendKey vs ReceiveKey, so the Initiator's SendKey equals
// the Joiner's ReceiveKey and vice versa.
func (kp *EphemeralKeyPair) DeriveSessionKeys(peerPublic [32]byte, ourRole Role) (*SessionKeys, error) {
	shared, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, errs.Wrap(errs.ErrEncryption, "compute shared secret", err)
	}

	// Sort the two public keys into a canonical order so both sides feed
	// HKDF the identical info string regardless of role.
	info := append(append([]byte{}, lexMin(kp.Public, peerPublic)[:]...), lexMax(kp.Public, peerPublic)[:]...)

	reader := hkdf.New(sha256.New, shared, nil, info)

	var initiatorToJoiner, joinerToInitiator, mac [32]byte

	if err := readFull(reader, initiatorToJoiner[:]); err != nil {
		return nil, err
	}

	if err := readFull(reader, joinerToInitiator[:]); err != nil {
		return nil, err
	}

	if err := readFull(reader, mac[:]); err != nil {
		return nil, err
	}

	keys := &SessionKeys{MACKey: mac}

	if ourRole == RoleInitiator {
		keys.SendKey = initiatorToJoiner
		keys.ReceiveKey = joinerToInitiator
	} else {
		keys.SendKey = joinerToInitiator
		keys.ReceiveKey = initiatorToJoiner
	}

	return keys, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return errs.Wrap(errs.ErrEncryption, "derive session key material", err)
	}

	return nil
}

func lexMin(a, b [32]byte) [32]byte {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return a
			}

			return b
		}
	}

	return a
}

func lexMax(a, b [32]byte) [32]byte {
	if lexMin(a, b) == a {
		return b
	}

	return a
}

// Session tracks one in-progress pairing attempt through the states of
// §4.4. It holds no network connection itself — internal/transport drives
// the actual message exchange and calls back into this type's Advance
// methods as each step completes.
type Session struct {
	Role       Role
	Code       *PairingCode
	State      State
	StartedAt  time.Time
	FailReason string

	OurNonce   Nonce
	OurEphem   *EphemeralKeyPair
	PeerInfo   *DeviceInfo
	SessionKeys *SessionKeys
}

// NewSession starts a pairing attempt in StateGeneratingCode/Scanning
// depending on role.
func NewSession(role Role, code *PairingCode, now time.Time) *Session {
	state := StateBroadcastingOrScanning
	if role == RoleInitiator {
		state = StateGeneratingCode
	}

	return &Session{Role: role, Code: code, State: state, StartedAt: now}
}

// pairingTotalTimeout bounds an entire pairing attempt end to end (§5
// Timeouts: "Pairing step: 5 minutes total").
const pairingTotalTimeout = 5 * time.Minute

// CheckTimeout fails the session if it has been running longer than
// pairingTotalTimeout or the underlying code has expired, whichever is
// sooner.
func (s *Session) CheckTimeout(now time.Time) error {
	if s.Code.Expired(now) {
		return s.fail(errs.ErrPairingExpired, "pairing code expired")
	}

	if now.Sub(s.StartedAt) > pairingTotalTimeout {
		return s.fail(errs.ErrPairingExpired, "pairing session timed out")
	}

	return nil
}

func (s *Session) fail(sentinel error, msg string) error {
	s.State = StateFailed
	s.FailReason = msg

	return errs.New(sentinel, msg)
}

// AdvanceToConnecting transitions out of discovery once a transport
// stream is open.
func (s *Session) AdvanceToConnecting() { s.State = StateConnecting }

// AdvanceToAuthenticating generates our nonce and moves to step 3.
func (s *Session) AdvanceToAuthenticating() error {
	nonce, err := NewNonce()
	if err != nil {
		return err
	}

	s.OurNonce = nonce
	s.State = StateAuthenticating

	return nil
}

// CompleteAuthentication verifies the peer's challenge-response signature
// and, on success, generates our ephemeral keypair and moves to step 6.
func (s *Session) CompleteAuthentication(peerPublic ed25519.PublicKey, peerSig []byte) error {
	if !VerifyChallenge(peerPublic, s.OurNonce, s.Code.Payload, peerSig) {
		return s.fail(errs.ErrSignatureMismatch, "peer challenge signature did not verify")
	}

	kp, err := GenerateEphemeralKeyPair()
	if err != nil {
		return err
	}

	s.OurEphem = kp
	s.State = StateExchangingKeys

	return nil
}

// ReceiveDeviceInfo records the peer's DeviceInfo (step 4) and moves to
// user confirmation (step 5).
func (s *Session) ReceiveDeviceInfo(info *DeviceInfo) {
	s.PeerInfo = info
	s.State = StateAwaitingConfirmation
}

// Confirm applies the user's accept/reject decision (step 5). Rejecting
// is a terminal, non-retriable PairingError (§7 PairingError: "user
// rejection (not retriable automatically)").
func (s *Session) Confirm(accept bool) error {
	if !accept {
		return s.fail(errs.ErrPairingRejected, "user rejected remote device")
	}

	s.State = StateEstablishingSession

	return nil
}

// EstablishSession derives session keys against the peer's ephemeral
// public key (step 6) and marks the session Completed.
func (s *Session) EstablishSession(peerEphemPublic [32]byte) error {
	keys, err := s.OurEphem.DeriveSessionKeys(peerEphemPublic, s.Role)
	if err != nil {
		return err
	}

	s.SessionKeys = keys
	s.State = StateCompleted

	return nil
}

