package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-assets/pkg/simpleasset/objectkey"
	s3storage "github.com/tendant/simple-assets/pkg/simpleasset/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Storage backend types
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

// Manifest backend types. ManifestStorage keeps manifests next to the blobs.
const (
	ManifestStorage  = "storage"
	ManifestMemory   = "memory"
	ManifestBolt     = "bolt"
	ManifestPostgres = "postgres"
	ManifestRedis    = "redis"
)

// Authentication modes. Minted tokens are always accepted in front of the
// configured mode.
const (
	AuthAllowAll = "allow-all"
	AuthAPIKeys  = "api-keys"
	AuthUserinfo = "userinfo"
)

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Environment:        "development",
		Storage:            StorageConfig{Type: StorageMemory},
		Manifests:          ManifestConfig{Type: ManifestStorage},
		AuthMode:           AuthAllowAll,
		PublishConcurrency: 4,
		LogLevel:           "info",
		LogFormat:          "text",
		EnableEventLogging: true,
	}
}

// ServerConfig represents server configuration for the simple-assets service
type ServerConfig struct {
	Environment string // development, production, testing

	Storage   StorageConfig
	Manifests ManifestConfig

	// Authentication
	AuthMode              string
	APIKeys               string // see auth.ParseAPIKeys
	UserinfoURL           string
	UserinfoMembershipURL string
	JWTSecret             string
	TokenDuration         time.Duration // zero means the token service default

	PublishConcurrency int

	LogLevel           string // debug, info, warn, error
	LogFormat          string // text, json
	EnableEventLogging bool
}

// StorageConfig selects the blob backend
type StorageConfig struct {
	Type    string // "memory", "fs", "s3"
	BaseDir string // fs only
	Layout  string // key layout for fs and s3: "sharded" (default) or "flat"
	S3      s3storage.Config
}

// ManifestConfig selects the manifest and alias backend
type ManifestConfig struct {
	Type   string // "storage", "memory", "bolt", "postgres", "redis"
	Path   string // bolt database file
	URL    string // postgres or redis connection string
	Schema string // optional postgres search_path
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	switch c.Storage.Type {
	case StorageMemory:
	case StorageFS:
		if c.Storage.BaseDir == "" {
			return errors.New("base directory is required for fs storage")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %q", c.Storage.Type)
	}
	if _, err := objectkey.Parse(c.Storage.Layout, ""); err != nil {
		return err
	}

	switch c.Manifests.Type {
	case ManifestStorage, ManifestMemory:
	case ManifestBolt:
		if c.Manifests.Path == "" {
			return errors.New("database path is required for bolt manifests")
		}
	case ManifestPostgres, ManifestRedis:
		if c.Manifests.URL == "" {
			return fmt.Errorf("connection URL is required for %s manifests", c.Manifests.Type)
		}
	default:
		return fmt.Errorf("unsupported manifest store type: %q", c.Manifests.Type)
	}

	switch c.AuthMode {
	case AuthAllowAll:
		if c.Environment == "production" {
			return errors.New("allow-all authentication cannot be used in production")
		}
	case AuthAPIKeys:
		if c.APIKeys == "" {
			return errors.New("api keys are required for api-keys authentication")
		}
	case AuthUserinfo:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.AuthMode)
	}

	if c.PublishConcurrency < 0 {
		return errors.New("publish concurrency cannot be negative")
	}
	if c.TokenDuration < 0 {
		return errors.New("token duration cannot be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %q", c.LogFormat)
	}

	return nil
}
