package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-assets/pkg/simpleasset"
	"github.com/tendant/simple-assets/pkg/simpleasset/auth"
	"github.com/tendant/simple-assets/pkg/simpleasset/auth/userinfo"
	"github.com/tendant/simple-assets/pkg/simpleasset/objectkey"
	boltrepo "github.com/tendant/simple-assets/pkg/simpleasset/repo/bolt"
	repopg "github.com/tendant/simple-assets/pkg/simpleasset/repo/postgres"
	redisrepo "github.com/tendant/simple-assets/pkg/simpleasset/repo/redis"
	fsstorage "github.com/tendant/simple-assets/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleasset/storage/memory"
	s3storage "github.com/tendant/simple-assets/pkg/simpleasset/storage/s3"
)

// Runtime is a built service together with the resources it owns
type Runtime struct {
	Service simpleasset.Service
	Tokens  *auth.TokenService
	Logger  *slog.Logger

	closers []func() error
}

// Close releases database connections and files held by the runtime
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context) (*Runtime, error) {
	logger, err := NewLogger(c.LogLevel, c.LogFormat)
	if err != nil {
		return nil, err
	}
	return c.build(ctx, logger)
}

func (c *ServerConfig) build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Logger: logger}
	svc, err := c.assemble(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

func (c *ServerConfig) assemble(ctx context.Context, rt *Runtime) (simpleasset.Service, error) {
	logger := rt.Logger
	blobs, sameStore, err := c.buildBlobStore()
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	manifests, err := c.buildManifestStore(ctx, rt, sameStore)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest store: %w", err)
	}

	tokenOpts := []auth.Option{auth.WithLogger(logger)}
	if c.JWTSecret != "" {
		tokenOpts = append(tokenOpts, auth.WithSecret(c.JWTSecret))
	}
	if c.TokenDuration > 0 {
		tokenOpts = append(tokenOpts, auth.WithDefaultDuration(c.TokenDuration))
	}
	rt.Tokens = auth.NewTokenService(tokenOpts...)

	provider, err := c.buildAuthenticator(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build authenticator: %w", err)
	}

	options := []simpleasset.Option{
		simpleasset.WithBlobStore(blobs),
		simpleasset.WithManifestStore(manifests),
		simpleasset.WithTokenService(rt.Tokens),
		simpleasset.WithAuthenticator(auth.Chain(auth.NewTokenAuthenticator(rt.Tokens), provider)),
		simpleasset.WithLogger(logger),
	}
	if c.PublishConcurrency > 0 {
		options = append(options, simpleasset.WithPublishConcurrency(c.PublishConcurrency))
	}
	if c.EnableEventLogging {
		options = append(options, simpleasset.WithEventSink(simpleasset.NewLogEventSink(logger)))
	}

	return simpleasset.New(options...)
}

// buildBlobStore also returns the manifest store living next to the blobs
func (c *ServerConfig) buildBlobStore() (simpleasset.BlobStore, simpleasset.ManifestStore, error) {
	switch c.Storage.Type {
	case StorageMemory:
		return memorystorage.New(), memorystorage.NewManifestStore(), nil

	case StorageFS:
		layout, err := objectkey.Parse(c.Storage.Layout, "")
		if err != nil {
			return nil, nil, err
		}
		fsConfig := fsstorage.Config{BaseDir: c.Storage.BaseDir, Layout: layout}
		blobs, err := fsstorage.New(fsConfig)
		if err != nil {
			return nil, nil, err
		}
		manifests, err := fsstorage.NewManifestStore(fsConfig)
		if err != nil {
			return nil, nil, err
		}
		return blobs, manifests, nil

	case StorageS3:
		s3Config := c.Storage.S3
		s3Config.Layout = c.Storage.Layout
		backend, err := s3storage.New(s3Config)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.ManifestStore(), nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
}

func (c *ServerConfig) buildManifestStore(ctx context.Context, rt *Runtime, sameStore simpleasset.ManifestStore) (simpleasset.ManifestStore, error) {
	switch c.Manifests.Type {
	case ManifestStorage:
		return sameStore, nil

	case ManifestMemory:
		return memorystorage.NewManifestStore(), nil

	case ManifestBolt:
		store, err := boltrepo.Open(c.Manifests.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil

	case ManifestPostgres:
		pool, err := newPool(ctx, c.Manifests.URL, c.Manifests.Schema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		if err := repopg.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		return repopg.NewWithPool(pool), nil

	case ManifestRedis:
		store, err := redisrepo.NewFromURL(c.Manifests.URL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported manifest store type: %s", c.Manifests.Type)
	}
}

func (c *ServerConfig) buildAuthenticator(logger *slog.Logger) (simpleasset.Authenticator, error) {
	switch c.AuthMode {
	case AuthAllowAll:
		logger.Warn("allow-all authentication enabled; every request is treated as an admin", "user", auth.DevUserID)
		return auth.NewAllowAll(), nil
	case AuthAPIKeys:
		return auth.ParseAPIKeys(c.APIKeys)
	case AuthUserinfo:
		return userinfo.New(userinfo.Config{
			URL:           c.UserinfoURL,
			MembershipURL: c.UserinfoMembershipURL,
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", c.AuthMode)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}
