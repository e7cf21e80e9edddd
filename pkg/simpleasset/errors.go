package simpleasset

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound indicates a blob, manifest version or alias does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates missing or invalid credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated user lacks the required scope
	ErrForbidden = errors.New("forbidden")

	// ErrIntegrityMismatch indicates the declared hash differs from the computed hash
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrMissingContent indicates a manifest references a blob that is not stored
	ErrMissingContent = errors.New("missing content")

	// ErrBackend indicates an I/O failure in a storage backend. It is the only
	// retryable kind.
	ErrBackend = errors.New("storage backend error")

	// ErrInvalidHash indicates a malformed content hash
	ErrInvalidHash = errors.New("invalid content hash")

	// ErrInvalidVersion indicates an unusable version string
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidManifest indicates invalid manifest entries
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrTokenInvalid is the parent of every token validation failure
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenMalformed indicates the token cannot be parsed. Retrying won't help.
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrTokenInvalid)

	// ErrTokenBadSignature indicates the token was not signed with this service's secret
	ErrTokenBadSignature = fmt.Errorf("%w: bad signature", ErrTokenInvalid)

	// ErrTokenExpired indicates the token is past its expiry and must be renewed
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenInvalid)
)

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackend)
}

// StorageError represents an I/O failure in a storage backend
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

// Unwrap exposes both ErrBackend and the underlying cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}

// NewStorageError wraps err as a backend failure. Not-found errors are passed
// through unchanged so they keep their kind.
func NewStorageError(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Backend: backend, Key: key, Op: op, Err: err}
}

// NotFoundError returns an ErrNotFound naming what was missing.
func NotFoundError(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
}

// IntegrityError is returned when uploaded bytes do not hash to the declared value
type IntegrityError struct {
	Expected ContentHash
	Actual   ContentHash
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed: expected %s, got %s", e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}

// MissingContentError names the first manifest entry whose blob is absent
type MissingContentError struct {
	Path string
	Hash ContentHash
}

func (e *MissingContentError) Error() string {
	return fmt.Sprintf("missing content for %s: blob %s is not stored", e.Path, e.Hash)
}

func (e *MissingContentError) Unwrap() error {
	return ErrMissingContent
}

// ValidationError describes invalid caller input
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Reason)
	}
	return fmt.Sprintf("%v: %s %q: %s", e.Err, e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PublishError reports where a publish attempt failed. State is the final
// state of the attempt: aborted when no manifest was written, otherwise the
// step that failed.
type PublishError struct {
	AttemptID string
	During    PublishState
	State     PublishState
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish attempt %s failed while %s: %v", e.AttemptID, e.During, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Aborted reports whether the attempt stopped before any manifest was written.
func (e *PublishError) Aborted() bool {
	return e.State == PublishStateAborted
}
