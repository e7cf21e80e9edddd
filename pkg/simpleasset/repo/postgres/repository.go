package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

const backendName = "postgres"

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleasset.ManifestStore using PostgreSQL.
// Each write is a single upsert statement, so readers see either the old
// or the new row.
type Repository struct {
	db DBTX
}

// Compile-time interface checks.
var (
	_ simpleasset.ManifestStore = (*Repository)(nil)
	_ simpleasset.VersionLister = (*Repository)(nil)
)

// New creates a new PostgreSQL manifest store
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL manifest store with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the manifest and alias tables when missing
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return simpleasset.NewStorageError(backendName, operation, key,
				fmt.Errorf("table does not exist - database migration required: %w", err))
		default:
			return simpleasset.NewStorageError(backendName, operation, key,
				fmt.Errorf("%s (code: %s): %w", pgErr.Message, pgErr.Code, err))
		}
	}
	return simpleasset.NewStorageError(backendName, operation, key, err)
}

func (r *Repository) PutManifest(ctx context.Context, manifest *simpleasset.AssetManifest) error {
	entries := manifest.Entries
	if entries == nil {
		entries = []simpleasset.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", manifest.Version, err)
	}

	query := `
		INSERT INTO asset_manifest (version, published_at, published_by, entries, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, now())
		ON CONFLICT (version) DO UPDATE SET
			published_at = EXCLUDED.published_at,
			published_by = EXCLUDED.published_by,
			entries = EXCLUDED.entries,
			updated_at = now()`

	_, err = r.db.Exec(ctx, query, manifest.Version, manifest.PublishedAt, manifest.PublishedBy, string(data))
	if err != nil {
		return r.handlePostgresError("put manifest", manifest.Version, err)
	}
	return nil
}

func (r *Repository) GetManifest(ctx context.Context, version string) (*simpleasset.AssetManifest, error) {
	query := `
		SELECT version, published_at, published_by, entries
		FROM asset_manifest WHERE version = $1`

	var manifest simpleasset.AssetManifest
	var entries []byte
	err := r.db.QueryRow(ctx, query, version).Scan(
		&manifest.Version, &manifest.PublishedAt, &manifest.PublishedBy, &entries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleasset.NotFoundError("manifest", version)
		}
		return nil, r.handlePostgresError("get manifest", version, err)
	}

	if err := json.Unmarshal(entries, &manifest.Entries); err != nil {
		return nil, simpleasset.NewStorageError(backendName, "decode manifest", version, err)
	}
	if len(manifest.Entries) == 0 {
		manifest.Entries = nil
	}
	manifest.PublishedAt = manifest.PublishedAt.UTC()
	return &manifest, nil
}

func (r *Repository) SetAlias(ctx context.Context, alias, version string) error {
	query := `
		INSERT INTO asset_alias (name, version, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET version = EXCLUDED.version, updated_at = now()`

	if _, err := r.db.Exec(ctx, query, alias, version); err != nil {
		return r.handlePostgresError("set alias", alias, err)
	}
	return nil
}

func (r *Repository) GetAlias(ctx context.Context, alias string) (string, error) {
	var version string
	err := r.db.QueryRow(ctx, `SELECT version FROM asset_alias WHERE name = $1`, alias).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", simpleasset.NotFoundError("alias", alias)
		}
		return "", r.handlePostgresError("get alias", alias, err)
	}
	return version, nil
}

// ListVersions returns published versions, newest first
func (r *Repository) ListVersions(ctx context.Context, limit int) ([]string, error) {
	// LIMIT NULL means no limit
	var n *int
	if limit > 0 {
		n = &limit
	}
	rows, err := r.db.Query(ctx,
		`SELECT version FROM asset_manifest ORDER BY published_at DESC, version LIMIT $1`, n)
	if err != nil {
		return nil, r.handlePostgresError("list versions", "", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, r.handlePostgresError("list versions", "", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list versions", "", err)
	}
	return versions, nil
}
