package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/tendant/simple-assets/pkg/simpleasset"
)

const backendName = "bolt"

var (
	bucketManifests = []byte("manifests")
	bucketAliases   = []byte("aliases")
)

// Store keeps manifests and aliases in a single bbolt database file. Each
// write is one bbolt transaction, so a document or alias is replaced
// atomically.
type Store struct {
	db *bbolt.DB
}

// Compile-time interface checks.
var (
	_ simpleasset.ManifestStore = (*Store)(nil)
	_ simpleasset.VersionLister = (*Store)(nil)
)

// Open opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketManifests, bucketAliases} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) PutManifest(ctx context.Context, manifest *simpleasset.AssetManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", manifest.Version, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketManifests).Put([]byte(manifest.Version), data)
	})
	if err != nil {
		return simpleasset.NewStorageError(backendName, "put_manifest", manifest.Version, err)
	}
	return nil
}

func (s *Store) GetManifest(ctx context.Context, version string) (*simpleasset.AssetManifest, error) {
	var manifest simpleasset.AssetManifest
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketManifests).Get([]byte(version))
		if data == nil {
			return simpleasset.NotFoundError("manifest", version)
		}
		// data is only valid inside the transaction; Unmarshal copies it
		return json.Unmarshal(data, &manifest)
	})
	if err != nil {
		if errors.Is(err, simpleasset.ErrNotFound) {
			return nil, err
		}
		return nil, simpleasset.NewStorageError(backendName, "get_manifest", version, err)
	}
	return &manifest, nil
}

func (s *Store) SetAlias(ctx context.Context, alias, version string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAliases).Put([]byte(alias), []byte(version))
	})
	if err != nil {
		return simpleasset.NewStorageError(backendName, "set_alias", alias, err)
	}
	return nil
}

func (s *Store) GetAlias(ctx context.Context, alias string) (string, error) {
	var version string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAliases).Get([]byte(alias))
		if data == nil {
			return simpleasset.NotFoundError("alias", alias)
		}
		version = string(data)
		return nil
	})
	if err != nil {
		if errors.Is(err, simpleasset.ErrNotFound) {
			return "", err
		}
		return "", simpleasset.NewStorageError(backendName, "get_alias", alias, err)
	}
	return version, nil
}

func (s *Store) ListVersions(ctx context.Context, limit int) ([]string, error) {
	var manifests []*simpleasset.AssetManifest
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketManifests).ForEach(func(k, v []byte) error {
			var m simpleasset.AssetManifest
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode manifest %s: %w", k, err)
			}
			manifests = append(manifests, &m)
			return nil
		})
	})
	if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "list_manifests", "", err)
	}
	return simpleasset.RecentVersions(manifests, limit), nil
}
