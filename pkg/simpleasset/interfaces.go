package simpleasset

import (
	"context"
	"io"
)

// BlobStore defines the interface for content-addressed storage backends.
// Implementations must never make staged bytes visible under a hash before
// Commit succeeds.
type BlobStore interface {
	// Stage opens a private staging area for one upload. sizeHint is the
	// expected length, or -1 when unknown.
	Stage(ctx context.Context, sizeHint int64) (StagedWriter, error)

	// Open streams the blob stored under hash. Returns ErrNotFound if absent.
	Open(ctx context.Context, hash ContentHash) (io.ReadCloser, error)

	// Exists reports whether a blob is stored under hash
	Exists(ctx context.Context, hash ContentHash) (bool, error)
}

// StagedWriter receives the bytes of one upload.
//
// After Commit returns nil the bytes are visible under the hash-derived key;
// after Discard they are gone. Discard after a failed Commit releases the
// staging area and Discard after a successful Commit is a no-op. Committing a
// hash that is already stored is not an error.
type StagedWriter interface {
	io.Writer

	// Commit atomically publishes the staged bytes under hash. created is
	// false when the object was already present.
	Commit(ctx context.Context, hash ContentHash) (created bool, err error)

	// Discard drops the staged bytes
	Discard() error
}

// ManifestStore defines the interface for manifest and alias persistence
type ManifestStore interface {
	// PutManifest atomically replaces the document for manifest.Version
	PutManifest(ctx context.Context, manifest *AssetManifest) error

	// GetManifest returns the document for version. Returns ErrNotFound if absent.
	GetManifest(ctx context.Context, version string) (*AssetManifest, error)

	// SetAlias atomically points alias at version
	SetAlias(ctx context.Context, alias, version string) error

	// GetAlias returns the version alias points at. Returns ErrNotFound if unset.
	GetAlias(ctx context.Context, alias string) (string, error)
}

// VersionLister is implemented by manifest stores that can enumerate the
// published versions, newest first. A limit of zero or less means no limit.
type VersionLister interface {
	ListVersions(ctx context.Context, limit int) ([]string, error)
}

// Authenticator turns a caller-supplied credential into a User.
// Failures wrap ErrUnauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*User, error)
}

// TokenIssuer mints and validates signed read tokens
type TokenIssuer interface {
	Mint(ctx context.Context, caller *User, req MintRequest) (*Token, error)
	Validate(ctx context.Context, token string) (*User, error)
}

// EventSink defines the interface for event handling
type EventSink interface {
	// BlobStored is fired after a blob upload completes
	BlobStored(ctx context.Context, result PutResult) error

	// ManifestPublished is fired after a manifest is committed
	ManifestPublished(ctx context.Context, manifest *AssetManifest, setLatest bool) error
}
