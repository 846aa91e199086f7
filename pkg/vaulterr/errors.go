// Package vaulterr defines the closed set of failure kinds returned by every
// vault component.
//
// Callers switch on the kind instead of inspecting strings or booleans:
//
//	cred, err := v.GetAPICredentials("openai")
//	switch vaulterr.KindOf(err) {
//	case vaulterr.KindNone:
//	    // use cred
//	case vaulterr.KindNotFound:
//	    // nothing stored, proceed without credentials
//	case vaulterr.KindDecryptionFailed, vaulterr.KindStorageUnavailable:
//	    // surface a warning; never treat as "no credentials"
//	}
//
// Sentinels (ErrNotFound, ErrDecryptionFailed, ...) match any *Error of the
// same kind through errors.Is.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies a vault failure.
type Kind int

const (
	// KindNone is reported by KindOf for a nil error.
	KindNone Kind = iota
	// KindKeyUnavailable means no key could be loaded or created. Fatal at startup.
	KindKeyUnavailable
	// KindDecryptionFailed means a specific record is unreadable (wrong key,
	// corruption or tampering).
	KindDecryptionFailed
	// KindStorageUnavailable means the storage engine or filesystem failed.
	KindStorageUnavailable
	// KindNotFound means nothing is stored under the identifier. Not an error
	// condition for callers.
	KindNotFound
	// KindWipeRefused means a wipe was requested without confirmation.
	KindWipeRefused
	// KindInvalidInput means the caller passed an identifier or value the
	// vault cannot represent.
	KindInvalidInput
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindKeyUnavailable:
		return "key_unavailable"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindNotFound:
		return "not_found"
	case KindWipeRefused:
		return "wipe_refused"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching.
var (
	ErrKeyUnavailable     = &Error{Kind: KindKeyUnavailable}
	ErrDecryptionFailed   = &Error{Kind: KindDecryptionFailed}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrWipeRefused        = &Error{Kind: KindWipeRefused}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
)

// Error is a classified vault failure.
type Error struct {
	Kind Kind   // failure class
	Op   string // operation that failed, e.g. "store.get_credential"
	Err  error  // underlying cause, may be nil
}

// New returns an *Error of kind k for operation op wrapping err.
func New(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Errorf is New with a formatted cause.
func Errorf(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return "vault: " + e.Kind.String()
	case e.Op == "":
		return fmt.Sprintf("vault: %s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain. A nil error is
// KindNone; an unclassified error is KindStorageUnavailable, since anything
// escaping a component unclassified came from the engine or filesystem.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageUnavailable
}

// IsNotFound reports whether err is a NotFound outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
