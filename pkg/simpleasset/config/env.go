package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig lists every variable WithEnv reads. Unset variables leave the
// current value alone.
type envConfig struct {
	Environment string `env:"ENVIRONMENT"`

	StorageURL  string `env:"STORAGE_URL"`
	ManifestURL string `env:"MANIFEST_URL"`
	DBSchema    string `env:"ASSET_DB_SCHEMA"`

	AuthMode              string        `env:"AUTH_MODE"`
	APIKeys               string        `env:"API_KEYS_SHA256"`
	UserinfoURL           string        `env:"USERINFO_URL"`
	UserinfoMembershipURL string        `env:"USERINFO_MEMBERSHIP_URL"`
	JWTSecret             string        `env:"JWT_SECRET"`
	TokenDuration         time.Duration `env:"TOKEN_DURATION"`

	PublishConcurrency int    `env:"PUBLISH_CONCURRENCY"`
	LogLevel           string `env:"LOG_LEVEL"`
	LogFormat          string `env:"LOG_FORMAT"`
	EventLogging       string `env:"ENABLE_EVENT_LOGGING"`

	AWS awsEnvConfig
}

type awsEnvConfig struct {
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"AWS_REGION"`
}

// WithEnv applies environment variable overrides:
//
//	ENVIRONMENT              development, production, testing
//	STORAGE_URL              memory://, file:///path[?layout=flat], s3://bucket?region=..&endpoint=..&layout=..
//	MANIFEST_URL             storage, memory://, bolt:///path, postgres://..., redis://...
//	ASSET_DB_SCHEMA          postgres search_path
//	AUTH_MODE                allow-all, api-keys, userinfo
//	API_KEYS_SHA256          <sha256>=<user>:<scope>[+<scope>],...
//	USERINFO_URL             userinfo endpoint; selects userinfo mode when AUTH_MODE is unset
//	USERINFO_MEMBERSHIP_URL  optional membership check with {login}
//	JWT_SECRET               token signing secret
//	TOKEN_DURATION           default token lifetime, e.g. 720h
//	PUBLISH_CONCURRENCY      parallel uploads per publish
//	LOG_LEVEL, LOG_FORMAT    debug|info|warn|error, text|json
//	ENABLE_EVENT_LOGGING     true|false
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION for s3 storage
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return env.apply(c)
	}
}

func (e *envConfig) apply(c *ServerConfig) error {
	if e.Environment != "" {
		c.Environment = e.Environment
	}

	if e.StorageURL != "" {
		if err := WithStorageURL(e.StorageURL)(c); err != nil {
			return err
		}
	}
	if c.Storage.Type == StorageS3 {
		if e.AWS.AccessKeyID != "" {
			c.Storage.S3.AccessKeyID = e.AWS.AccessKeyID
		}
		if e.AWS.SecretAccessKey != "" {
			c.Storage.S3.SecretAccessKey = e.AWS.SecretAccessKey
		}
		if c.Storage.S3.Region == "" {
			c.Storage.S3.Region = e.AWS.Region
		}
	}

	if e.DBSchema != "" {
		c.Manifests.Schema = e.DBSchema
	}
	if e.ManifestURL != "" {
		if err := WithManifestURL(e.ManifestURL)(c); err != nil {
			return err
		}
	}

	if e.APIKeys != "" {
		c.APIKeys = e.APIKeys
	}
	if e.UserinfoURL != "" {
		c.UserinfoURL = e.UserinfoURL
		if e.AuthMode == "" {
			c.AuthMode = AuthUserinfo
		}
	}
	if e.UserinfoMembershipURL != "" {
		c.UserinfoMembershipURL = e.UserinfoMembershipURL
	}
	if e.AuthMode != "" {
		c.AuthMode = e.AuthMode
	}
	if e.JWTSecret != "" {
		c.JWTSecret = e.JWTSecret
	}
	if e.TokenDuration != 0 {
		c.TokenDuration = e.TokenDuration
	}

	if e.PublishConcurrency != 0 {
		c.PublishConcurrency = e.PublishConcurrency
	}
	if e.LogLevel != "" {
		c.LogLevel = e.LogLevel
	}
	if e.LogFormat != "" {
		c.LogFormat = e.LogFormat
	}
	if e.EventLogging != "" {
		enabled, err := parseBool("ENABLE_EVENT_LOGGING", e.EventLogging)
		if err != nil {
			return err
		}
		c.EnableEventLogging = enabled
	}
	return nil
}
