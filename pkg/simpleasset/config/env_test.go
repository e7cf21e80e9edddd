package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvStorageAndManifests(t *testing.T) {
	t.Setenv("STORAGE_URL", "s3://assets?region=us-west-2")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("MANIFEST_URL", "postgres://u:p@localhost/assets")
	t.Setenv("ASSET_DB_SCHEMA", "assets")

	cfg, err := Load(WithEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Type != StorageS3 || cfg.Storage.S3.Bucket != "assets" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Storage.S3.AccessKeyID != "AKIA" || cfg.Storage.S3.SecretAccessKey != "secret" {
		t.Error("expected AWS credentials from the environment")
	}
	if cfg.Storage.S3.Region != "us-west-2" {
		t.Errorf("expected URL region to win, got %q", cfg.Storage.S3.Region)
	}
	if cfg.Manifests.Type != ManifestPostgres || cfg.Manifests.Schema != "assets" {
		t.Errorf("unexpected manifests %+v", cfg.Manifests)
	}
}

func TestEnvRegionFallback(t *testing.T) {
	t.Setenv("STORAGE_URL", "s3://assets")
	t.Setenv("AWS_REGION", "ap-south-1")

	cfg, err := Load(WithEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.S3.Region != "ap-south-1" {
		t.Errorf("expected AWS_REGION fallback, got %q", cfg.Storage.S3.Region)
	}
}

func TestEnvAuth(t *testing.T) {
	digest := strings.Repeat("b", 64)

	tests := []struct {
		name     string
		env      map[string]string
		wantMode string
		wantErr  bool
	}{
		{"default", nil, AuthAllowAll, false},
		{"api keys", map[string]string{"AUTH_MODE": "api-keys", "API_KEYS_SHA256": digest + "=ci:write"}, AuthAPIKeys, false},
		{"api keys missing", map[string]string{"AUTH_MODE": "api-keys"}, "", true},
		{"userinfo implied by url", map[string]string{"USERINFO_URL": "https://idp.example/userinfo"}, AuthUserinfo, false},
		{"explicit mode wins over url", map[string]string{"USERINFO_URL": "https://idp.example/userinfo", "AUTH_MODE": "allow-all"}, AuthAllowAll, false},
		{"unknown mode", map[string]string{"AUTH_MODE": "kerberos"}, "", true},
		{"allow-all refused in production", map[string]string{"ENVIRONMENT": "production"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(WithEnv())
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.AuthMode != tt.wantMode {
				t.Errorf("expected auth mode %q, got %q", tt.wantMode, cfg.AuthMode)
			}
		})
	}
}

func TestEnvMisc(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("TOKEN_DURATION", "720h")
	t.Setenv("PUBLISH_CONCURRENCY", "16")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("ENABLE_EVENT_LOGGING", "false")

	cfg, err := Load(WithEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("unexpected secret %q", cfg.JWTSecret)
	}
	if cfg.TokenDuration != 720*time.Hour {
		t.Errorf("unexpected token duration %s", cfg.TokenDuration)
	}
	if cfg.PublishConcurrency != 16 {
		t.Errorf("unexpected concurrency %d", cfg.PublishConcurrency)
	}
	if cfg.LogLevel != "warn" || cfg.LogFormat != "json" {
		t.Errorf("unexpected logging %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.EnableEventLogging {
		t.Error("expected event logging disabled")
	}
}

func TestEnvInvalidBoolean(t *testing.T) {
	t.Setenv("ENABLE_EVENT_LOGGING", "sometimes")
	if _, err := Load(WithEnv()); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestEnvOverridesEarlierOptions(t *testing.T) {
	t.Setenv("STORAGE_URL", "file:///tmp/assets")

	cfg, err := Load(WithMemoryStorage(), WithEnv())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Type != StorageFS {
		t.Errorf("expected env storage to win, got %q", cfg.Storage.Type)
	}
}
