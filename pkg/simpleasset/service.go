package simpleasset

import (
	"context"
	"io"
)

// Service defines the main interface for the simple-assets library.
// Every operation except Authenticate takes the caller and checks its scope
// before touching storage.
type Service interface {
	// Blob operations
	UploadBlob(ctx context.Context, caller *User, r io.Reader, opts ...PutOption) (PutResult, error)
	DownloadBlob(ctx context.Context, caller *User, hash ContentHash) (io.ReadCloser, error)
	BlobExists(ctx context.Context, caller *User, hash ContentHash) (bool, error)

	// Manifest operations
	PublishManifest(ctx context.Context, caller *User, req PublishRequest) (*AssetManifest, error)
	PublishBatch(ctx context.Context, caller *User, batch PublishBatch) (*PublishResult, error)
	ResolveManifest(ctx context.Context, caller *User, version string) (*AssetManifest, error)
	ListVersions(ctx context.Context, caller *User, limit int) ([]string, error)

	// Identity operations
	MintToken(ctx context.Context, caller *User, req MintRequest) (*Token, error)
	Authenticate(ctx context.Context, credential string) (*User, error)
}
