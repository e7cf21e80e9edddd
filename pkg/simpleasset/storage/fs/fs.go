package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/tendant/simple-assets/pkg/simpleasset"
	"github.com/tendant/simple-assets/pkg/simpleasset/objectkey"
)

const backendName = "fs"

// Backend is a filesystem implementation of the simpleasset.BlobStore interface.
// Uploads are written to <base>/staging and renamed into place on Commit.
type Backend struct {
	baseDir string
	layout  objectkey.Layout
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string           // Base directory for storing files
	Layout  objectkey.Layout // Optional key layout, defaults to sharded
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	// Validate and create base directory if it doesn't exist
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if config.Layout == nil {
		config.Layout = objectkey.NewRecommendedLayout()
	}

	b := &Backend{baseDir: config.BaseDir, layout: config.Layout}
	if err := os.MkdirAll(b.stagingDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return b, nil
}

// Stage creates a temp file under the staging directory
func (b *Backend) Stage(ctx context.Context, sizeHint int64) (simpleasset.StagedWriter, error) {
	f, err := os.CreateTemp(b.stagingDir(), "upload-*")
	if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "stage", b.stagingDir(), err)
	}
	return &stagedFile{backend: b, file: f}, nil
}

// Open streams the blob stored under hash
func (b *Backend) Open(ctx context.Context, hash simpleasset.ContentHash) (io.ReadCloser, error) {
	key := b.layout.BlobKey(hash.String())
	file, err := os.Open(b.path(key))
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, simpleasset.NotFoundError("blob", hash.String())
	} else if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "open", key, err)
	}
	return file, nil
}

// Exists reports whether a blob is stored under hash
func (b *Backend) Exists(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	key := b.layout.BlobKey(hash.String())
	_, err := os.Stat(b.path(key))
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, simpleasset.NewStorageError(backendName, "stat", key, err)
	}
	return true, nil
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(key))
}

func (b *Backend) stagingDir() string {
	return filepath.Dir(b.path(b.layout.StagingKey("x")))
}

type stagedFile struct {
	backend *Backend
	file    *os.File
	closed  bool
}

func (s *stagedFile) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Commit flushes the temp file and links it under the blob key. When the
// blob already exists the temp file is dropped and created is false.
func (s *stagedFile) Commit(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	key := s.backend.layout.BlobKey(hash.String())
	if err := s.close(); err != nil {
		return false, simpleasset.NewStorageError(backendName, "sync", key, err)
	}

	dest := s.backend.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, simpleasset.NewStorageError(backendName, "mkdir", key, err)
	}

	err := os.Link(s.file.Name(), dest)
	switch {
	case err == nil:
		os.Remove(s.file.Name())
		return true, nil
	case errors.Is(err, iofs.ErrExist):
		os.Remove(s.file.Name())
		return false, nil
	}

	// Hard links are not available everywhere; rename is still atomic.
	if _, statErr := os.Stat(dest); statErr == nil {
		os.Remove(s.file.Name())
		return false, nil
	}
	if err := os.Rename(s.file.Name(), dest); err != nil {
		return false, simpleasset.NewStorageError(backendName, "rename", key, err)
	}
	return true, nil
}

func (s *stagedFile) Discard() error {
	s.close()
	err := os.Remove(s.file.Name())
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *stagedFile) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
