package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-assets/pkg/simpleasset"
	"github.com/tendant/simple-assets/pkg/simpleasset/objectkey"
)

// ManifestStore keeps manifests and aliases as files under a base directory.
// Every write goes to a temp file in the target directory and is renamed over
// the previous document.
type ManifestStore struct {
	baseDir string
	layout  objectkey.Layout
}

// Compile-time interface checks.
var (
	_ simpleasset.ManifestStore = (*ManifestStore)(nil)
	_ simpleasset.VersionLister = (*ManifestStore)(nil)
)

// NewManifestStore creates a filesystem manifest store
func NewManifestStore(config Config) (*ManifestStore, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.Layout == nil {
		config.Layout = objectkey.NewRecommendedLayout()
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &ManifestStore{baseDir: config.BaseDir, layout: config.Layout}, nil
}

func (m *ManifestStore) PutManifest(ctx context.Context, manifest *simpleasset.AssetManifest) error {
	key := m.layout.ManifestKey(manifest.Version)
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", manifest.Version, err)
	}
	if err := writeFileAtomic(m.path(key), data); err != nil {
		return simpleasset.NewStorageError(backendName, "put_manifest", key, err)
	}
	return nil
}

func (m *ManifestStore) GetManifest(ctx context.Context, version string) (*simpleasset.AssetManifest, error) {
	key := m.layout.ManifestKey(version)
	data, err := os.ReadFile(m.path(key))
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, simpleasset.NotFoundError("manifest", version)
	} else if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "get_manifest", key, err)
	}

	var manifest simpleasset.AssetManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, simpleasset.NewStorageError(backendName, "decode_manifest", key, err)
	}
	return &manifest, nil
}

func (m *ManifestStore) SetAlias(ctx context.Context, alias, version string) error {
	key := m.layout.AliasKey(alias)
	if err := writeFileAtomic(m.path(key), []byte(version)); err != nil {
		return simpleasset.NewStorageError(backendName, "set_alias", key, err)
	}
	return nil
}

func (m *ManifestStore) GetAlias(ctx context.Context, alias string) (string, error) {
	key := m.layout.AliasKey(alias)
	data, err := os.ReadFile(m.path(key))
	if errors.Is(err, iofs.ErrNotExist) {
		return "", simpleasset.NotFoundError("alias", alias)
	} else if err != nil {
		return "", simpleasset.NewStorageError(backendName, "get_alias", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ListVersions reads every manifest document under the manifests directory
func (m *ManifestStore) ListVersions(ctx context.Context, limit int) ([]string, error) {
	dir := filepath.Dir(m.path(m.layout.ManifestKey("v")))
	files, err := os.ReadDir(dir)
	if errors.Is(err, iofs.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "list_manifests", dir, err)
	}

	var manifests []*simpleasset.AssetManifest
	for _, f := range files {
		name := f.Name()
		if !f.Type().IsRegular() || strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		manifest, err := m.GetManifest(ctx, strings.TrimSuffix(name, ".json"))
		if errors.Is(err, simpleasset.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return simpleasset.RecentVersions(manifests, limit), nil
}

func (m *ManifestStore) path(key string) string {
	return filepath.Join(m.baseDir, filepath.FromSlash(key))
}

// writeFileAtomic replaces path with data so readers see either the old or
// the new content, never a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
