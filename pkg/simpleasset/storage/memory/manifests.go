package memory

import (
	"context"
	"sync"

	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// Compile-time interface checks.
var (
	_ simpleasset.ManifestStore = (*ManifestStore)(nil)
	_ simpleasset.VersionLister = (*ManifestStore)(nil)
)

// ManifestStore is an in-memory implementation of the simpleasset.ManifestStore interface
type ManifestStore struct {
	mu        sync.RWMutex
	manifests map[string]*simpleasset.AssetManifest
	aliases   map[string]string
}

// NewManifestStore creates a new in-memory manifest store
func NewManifestStore() *ManifestStore {
	return &ManifestStore{
		manifests: make(map[string]*simpleasset.AssetManifest),
		aliases:   make(map[string]string),
	}
}

func (m *ManifestStore) PutManifest(ctx context.Context, manifest *simpleasset.AssetManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a copy so callers cannot mutate committed state
	m.manifests[manifest.Version] = manifest.Clone()
	return nil
}

func (m *ManifestStore) GetManifest(ctx context.Context, version string) (*simpleasset.AssetManifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	manifest, exists := m.manifests[version]
	if !exists {
		return nil, simpleasset.NotFoundError("manifest", version)
	}
	return manifest.Clone(), nil
}

func (m *ManifestStore) SetAlias(ctx context.Context, alias, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.aliases[alias] = version
	return nil
}

func (m *ManifestStore) GetAlias(ctx context.Context, alias string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	version, exists := m.aliases[alias]
	if !exists {
		return "", simpleasset.NotFoundError("alias", alias)
	}
	return version, nil
}

func (m *ManifestStore) ListVersions(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	manifests := make([]*simpleasset.AssetManifest, 0, len(m.manifests))
	for _, manifest := range m.manifests {
		manifests = append(manifests, manifest)
	}
	m.mu.RUnlock()

	return simpleasset.RecentVersions(manifests, limit), nil
}
