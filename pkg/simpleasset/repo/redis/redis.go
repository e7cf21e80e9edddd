package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

const backendName = "redis"

// DefaultPrefix namespaces every key written by Store
const DefaultPrefix = "simpleasset:"

// Store implements simpleasset.ManifestStore on Redis. Manifests are JSON
// strings and aliases are plain strings; each write is a single SET.
type Store struct {
	client *goredis.Client
	prefix string
}

// Option configures a Store
type Option func(*Store)

// WithPrefix overrides the key prefix
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis manifest store on client
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromURL parses a redis:// URL and creates a store with a new client
func NewFromURL(url string, opts ...Option) (*Store, error) {
	options, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(goredis.NewClient(options), opts...), nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) manifestKey(version string) string {
	return s.prefix + "manifest:" + version
}

func (s *Store) aliasKey(alias string) string {
	return s.prefix + "alias:" + alias
}

func (s *Store) PutManifest(ctx context.Context, manifest *simpleasset.AssetManifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", manifest.Version, err)
	}
	key := s.manifestKey(manifest.Version)
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return simpleasset.NewStorageError(backendName, "set", key, err)
	}
	return nil
}

func (s *Store) GetManifest(ctx context.Context, version string) (*simpleasset.AssetManifest, error) {
	key := s.manifestKey(version)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, simpleasset.NotFoundError("manifest", version)
	} else if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "get", key, err)
	}

	var manifest simpleasset.AssetManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, simpleasset.NewStorageError(backendName, "decode", key, err)
	}
	return &manifest, nil
}

func (s *Store) SetAlias(ctx context.Context, alias, version string) error {
	key := s.aliasKey(alias)
	if err := s.client.Set(ctx, key, version, 0).Err(); err != nil {
		return simpleasset.NewStorageError(backendName, "set", key, err)
	}
	return nil
}

func (s *Store) GetAlias(ctx context.Context, alias string) (string, error) {
	key := s.aliasKey(alias)
	version, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", simpleasset.NotFoundError("alias", alias)
	} else if err != nil {
		return "", simpleasset.NewStorageError(backendName, "get", key, err)
	}
	return version, nil
}
