// Package errs implements the core error taxonomy shared by every
// component: a fixed set of kinds, a wrapper that carries one, and
// sentinel errors for errors.Is() checks at call sites.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch without string matching.
type Kind string

// Error kinds, matching the taxonomy of the core design.
const (
	KindPath                  Kind = "path"
	KindRule                  Kind = "rule"
	KindBackend               Kind = "backend"
	KindDatabase              Kind = "database"
	KindSyncDependencyMissing Kind = "sync_dependency_missing"
	KindTransport             Kind = "transport"
	KindPairing               Kind = "pairing"
	KindJobInterrupted        Kind = "job_interrupted"
	KindEncryption            Kind = "encryption"
)

// Sentinels for errors.Is() checks. Each pairs with a Kind above.
var (
	ErrPathInvalid           = errors.New("errs: invalid path")
	ErrPathTraversal         = errors.New("errs: path traversal")
	ErrRuleMalformed         = errors.New("errs: malformed rule")
	ErrBackendFailure        = errors.New("errs: backend I/O failure")
	ErrDatabaseConstraint    = errors.New("errs: database constraint violation")
	ErrSyncDependencyMissing = errors.New("errs: sync dependency not yet replicated")
	ErrTransportClosed       = errors.New("errs: transport connection closed")
	ErrPairingExpired        = errors.New("errs: pairing code expired")
	ErrPairingRejected       = errors.New("errs: pairing rejected by peer")
	ErrSignatureMismatch     = errors.New("errs: pairing signature mismatch")
	ErrJobInterrupted        = errors.New("errs: job paused or cancelled")
	ErrEncryption            = errors.New("errs: key material operation failed")
)

// defaultRetriable maps each sentinel's default retry policy, per §7's
// propagation policy. Call sites may still override case by case.
var defaultRetriable = map[error]bool{
	ErrPathInvalid:           false,
	ErrPathTraversal:         false,
	ErrRuleMalformed:         false,
	ErrBackendFailure:        true,
	ErrDatabaseConstraint:    true,
	ErrSyncDependencyMissing: true,
	ErrTransportClosed:       true,
	ErrPairingExpired:        false,
	ErrPairingRejected:       false,
	ErrSignatureMismatch:     false,
	ErrJobInterrupted:        false,
	ErrEncryption:            false,
}

// kindOf maps each sentinel to its Kind.
var kindOf = map[error]Kind{
	ErrPathInvalid:           KindPath,
	ErrPathTraversal:         KindPath,
	ErrRuleMalformed:         KindRule,
	ErrBackendFailure:        KindBackend,
	ErrDatabaseConstraint:    KindDatabase,
	ErrSyncDependencyMissing: KindSyncDependencyMissing,
	ErrTransportClosed:       KindTransport,
	ErrPairingExpired:        KindPairing,
	ErrPairingRejected:       KindPairing,
	ErrSignatureMismatch:     KindPairing,
	ErrJobInterrupted:        KindJobInterrupted,
	ErrEncryption:            KindEncryption,
}

// CoreError wraps a sentinel with a human message and an optional
// underlying cause. Its kind and retry hint are not stored on it; KindOf
// and Retriable derive both from the sentinel.
type CoreError struct {
	Sentinel error
	Message  string
	Cause    error
}

// New builds a CoreError around one of the package sentinels.
func New(sentinel error, message string) *CoreError {
	return &CoreError{Sentinel: sentinel, Message: message}
}

// Wrap builds a CoreError around a sentinel, attaching an underlying cause.
func Wrap(sentinel error, message string, cause error) *CoreError {
	return &CoreError{Sentinel: sentinel, Message: message, Cause: cause}
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Sentinel, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Sentinel, e.Message)
}

func (e *CoreError) Unwrap() error {
	if e.Cause != nil {
		return fmt.Errorf("%w", e.Cause)
	}

	return e.Sentinel
}

// Is lets errors.Is(err, errs.ErrPathInvalid) match through CoreError
// without needing the caller to unwrap the Cause chain first.
func (e *CoreError) Is(target error) bool {
	return errors.Is(e.Sentinel, target)
}

// KindOf reports the taxonomy kind for err, walking through wrapping.
// Returns "" if err does not carry a recognized sentinel.
func KindOf(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	return ""
}

// Retriable reports the default retry hint for err's sentinel.
func Retriable(err error) bool {
	for sentinel, retry := range defaultRetriable {
		if errors.Is(err, sentinel) {
			return retry
		}
	}

	return false
}
