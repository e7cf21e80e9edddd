package config

import (
	"fmt"
	"time"

	s3storage "github.com/tendant/simple-assets/pkg/simpleasset/storage/s3"
)

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithMemoryStorage keeps blobs in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageConfig{Type: StorageMemory}
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageConfig{Type: StorageFS, BaseDir: baseDir}
		return nil
	}
}

// WithS3Storage stores blobs in an S3-compatible bucket
func WithS3Storage(s3Config s3storage.Config) Option {
	return func(c *ServerConfig) error {
		if s3Config.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		c.Storage = StorageConfig{Type: StorageS3, S3: s3Config}
		return nil
	}
}

// WithStorageURL selects the blob backend from a URL, see ParseStorageURL
func WithStorageURL(raw string) Option {
	return func(c *ServerConfig) error {
		storage, err := ParseStorageURL(raw)
		if err != nil {
			return err
		}
		// Credentials supplied separately survive a URL switch
		if storage.Type == StorageS3 && c.Storage.Type == StorageS3 {
			storage.S3.AccessKeyID = c.Storage.S3.AccessKeyID
			storage.S3.SecretAccessKey = c.Storage.S3.SecretAccessKey
		}
		c.Storage = storage
		return nil
	}
}

// WithManifestURL selects the manifest backend from a URL, see ParseManifestURL
func WithManifestURL(raw string) Option {
	return func(c *ServerConfig) error {
		manifests, err := ParseManifestURL(raw)
		if err != nil {
			return err
		}
		if manifests.Schema == "" {
			manifests.Schema = c.Manifests.Schema
		}
		c.Manifests = manifests
		return nil
	}
}

// WithDatabaseSchema sets the search_path used by postgres manifests
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.Manifests.Schema = schema
		return nil
	}
}

// WithAllowAll accepts every request as a development admin
func WithAllowAll() Option {
	return func(c *ServerConfig) error {
		c.AuthMode = AuthAllowAll
		return nil
	}
}

// WithAPIKeys authenticates static keys given as digest entries
func WithAPIKeys(keys string) Option {
	return func(c *ServerConfig) error {
		if keys == "" {
			return fmt.Errorf("api keys cannot be empty")
		}
		c.AuthMode = AuthAPIKeys
		c.APIKeys = keys
		return nil
	}
}

// WithUserinfo authenticates bearer tokens against an OAuth userinfo
// endpoint. An empty URL uses the provider default.
func WithUserinfo(url, membershipURL string) Option {
	return func(c *ServerConfig) error {
		c.AuthMode = AuthUserinfo
		c.UserinfoURL = url
		c.UserinfoMembershipURL = membershipURL
		return nil
	}
}

// WithJWTSecret sets the token signing secret
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		if secret == "" {
			return fmt.Errorf("jwt secret cannot be empty")
		}
		c.JWTSecret = secret
		return nil
	}
}

// WithTokenDuration sets the default lifetime of minted tokens
func WithTokenDuration(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("token duration must be positive, got: %s", d)
		}
		c.TokenDuration = d
		return nil
	}
}

// WithPublishConcurrency bounds parallel uploads of one publish
func WithPublishConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		if n < 1 {
			return fmt.Errorf("publish concurrency must be at least 1, got: %d", n)
		}
		c.PublishConcurrency = n
		return nil
	}
}

// WithLogging sets log level and output format
func WithLogging(level, format string) Option {
	return func(c *ServerConfig) error {
		if level != "" {
			c.LogLevel = level
		}
		if format != "" {
			c.LogFormat = format
		}
		return nil
	}
}

// WithEventLogging enables or disables the slog event sink
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}
