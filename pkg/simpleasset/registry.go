package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ManifestRegistry stores versioned manifests and the latest alias. It
// verifies blob presence before any manifest becomes visible.
type ManifestRegistry struct {
	store   ManifestStore
	content *ContentStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewManifestRegistry creates a registry that checks entries against content
func NewManifestRegistry(store ManifestStore, content *ContentStore, logger *slog.Logger) *ManifestRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestRegistry{
		store:   store,
		content: content,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish verifies, commits and optionally promotes a manifest.
//
// Republishing a version fully replaces its entry set. The alias is only
// touched after the manifest write succeeded.
func (r *ManifestRegistry) Publish(ctx context.Context, req PublishRequest) (*AssetManifest, error) {
	manifest, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := r.verify(ctx, manifest.Entries); err != nil {
		return nil, err
	}
	if err := r.commit(ctx, manifest); err != nil {
		return nil, err
	}
	if req.SetLatest {
		if err := r.promote(ctx, manifest.Version); err != nil {
			return manifest, err
		}
	}
	return manifest, nil
}

// Resolve returns the manifest for version, following the latest alias when
// version is "latest".
func (r *ManifestRegistry) Resolve(ctx context.Context, version string) (*AssetManifest, error) {
	if version == LatestVersion {
		target, err := r.Latest(ctx)
		if err != nil {
			return nil, err
		}
		version = target
	} else if err := ValidateVersion(version); err != nil {
		return nil, err
	}
	return r.store.GetManifest(ctx, version)
}

// Latest returns the version the latest alias points at
func (r *ManifestRegistry) Latest(ctx context.Context) (string, error) {
	return r.store.GetAlias(ctx, LatestVersion)
}

// Versions lists published versions, newest first. Stores that cannot
// enumerate their documents report errors.ErrUnsupported.
func (r *ManifestRegistry) Versions(ctx context.Context, limit int) ([]string, error) {
	lister, ok := r.store.(VersionLister)
	if !ok {
		return nil, fmt.Errorf("list versions: %w", errors.ErrUnsupported)
	}
	return lister.ListVersions(ctx, limit)
}

func (r *ManifestRegistry) prepare(req PublishRequest) (*AssetManifest, error) {
	if err := ValidateVersion(req.Version); err != nil {
		return nil, err
	}
	if err := ValidateEntries(req.Entries); err != nil {
		return nil, err
	}
	return &AssetManifest{
		Version:     req.Version,
		PublishedAt: r.now(),
		PublishedBy: req.PublishedBy,
		Entries:     append([]Entry(nil), req.Entries...),
	}, nil
}

// verify fails with a MissingContentError naming the first absent blob.
func (r *ManifestRegistry) verify(ctx context.Context, entries []Entry) error {
	checked := make(map[ContentHash]bool, len(entries))
	for _, e := range entries {
		present, seen := checked[e.Hash]
		if !seen {
			var err error
			present, err = r.content.Exists(ctx, e.Hash)
			if err != nil {
				return fmt.Errorf("verify %s: %w", e.Path, err)
			}
			checked[e.Hash] = present
		}
		if !present {
			return &MissingContentError{Path: e.Path, Hash: e.Hash}
		}
	}
	return nil
}

func (r *ManifestRegistry) commit(ctx context.Context, manifest *AssetManifest) error {
	if err := r.store.PutManifest(ctx, manifest); err != nil {
		r.logger.Error("failed to write manifest", "version", manifest.Version, "error", err)
		return fmt.Errorf("write manifest %s: %w", manifest.Version, err)
	}
	r.logger.Info("manifest committed", "version", manifest.Version, "entries", len(manifest.Entries))
	return nil
}

func (r *ManifestRegistry) promote(ctx context.Context, version string) error {
	if err := r.store.SetAlias(ctx, LatestVersion, version); err != nil {
		r.logger.Error("failed to update latest alias", "version", version, "error", err)
		return &AliasError{Alias: LatestVersion, Version: version, Err: err}
	}
	r.logger.Info("latest alias updated", "version", version)
	return nil
}

// AliasError reports a failed alias swap after the manifest itself was
// committed. Retrying the publish is safe.
type AliasError struct {
	Alias   string
	Version string
	Err     error
}

func (e *AliasError) Error() string {
	return fmt.Sprintf("update alias %s to %s: %v", e.Alias, e.Version, e.Err)
}

func (e *AliasError) Unwrap() error {
	return e.Err
}

// IsAliasError reports whether err came from the alias update step
func IsAliasError(err error) bool {
	var ae *AliasError
	return errors.As(err, &ae)
}
