package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ContentStore implements the content-addressed put/get/exists protocol on
// top of any BlobStore. Hashing happens while the bytes are written to the
// backend's staging area, so payloads are never held in memory.
type ContentStore struct {
	blobs  BlobStore
	logger *slog.Logger
}

// NewContentStore creates a ContentStore backed by blobs
func NewContentStore(blobs BlobStore, logger *slog.Logger) *ContentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentStore{blobs: blobs, logger: logger}
}

// PutOption configures a single Put call
type PutOption func(*putOptions)

type putOptions struct {
	expected ContentHash
	sizeHint int64
}

// WithExpectedHash makes Put fail with ErrIntegrityMismatch unless the
// streamed bytes hash to h.
func WithExpectedHash(h ContentHash) PutOption {
	return func(o *putOptions) {
		o.expected = h
	}
}

// WithSizeHint passes the expected payload length to the backend
func WithSizeHint(n int64) PutOption {
	return func(o *putOptions) {
		o.sizeHint = n
	}
}

// Put streams r into the store and returns its content hash.
//
// The bytes become visible under the hash only after the whole stream has
// been written and verified. A read error, a cancelled context or an integrity
// mismatch discards the staged bytes.
func (s *ContentStore) Put(ctx context.Context, r io.Reader, opts ...PutOption) (PutResult, error) {
	o := putOptions{sizeHint: -1}
	for _, opt := range opts {
		opt(&o)
	}

	if o.expected != "" {
		if err := o.expected.Validate(); err != nil {
			return PutResult{}, err
		}
		exists, err := s.blobs.Exists(ctx, o.expected)
		if err != nil {
			return PutResult{}, err
		}
		if exists {
			return s.verify(ctx, r, o.expected)
		}
	}

	w, err := s.blobs.Stage(ctx, o.sizeHint)
	if err != nil {
		return PutResult{}, err
	}

	h := NewHasher()
	src := &trackingReader{ctx: ctx, r: r}
	if _, err := io.Copy(io.MultiWriter(w, h), src); err != nil {
		s.discard(w)
		if src.err != nil {
			return PutResult{}, fmt.Errorf("read upload stream: %w", src.err)
		}
		return PutResult{}, err
	}

	result := PutResult{Hash: h.Sum(), Size: h.Size()}
	if o.expected != "" && result.Hash != o.expected {
		s.discard(w)
		s.logger.Warn("upload rejected: hash mismatch", "expected", o.expected, "actual", result.Hash)
		return result, &IntegrityError{Expected: o.expected, Actual: result.Hash}
	}
	if err := ctx.Err(); err != nil {
		s.discard(w)
		return PutResult{}, err
	}

	created, err := w.Commit(ctx, result.Hash)
	if err != nil {
		s.discard(w)
		return PutResult{}, err
	}
	result.Created = created

	s.logger.Debug("blob stored", "hash", result.Hash, "size", result.Size, "created", created)
	return result, nil
}

// verify hashes r without staging anything; used when the expected blob is
// already stored.
func (s *ContentStore) verify(ctx context.Context, r io.Reader, expected ContentHash) (PutResult, error) {
	h := NewHasher()
	src := &trackingReader{ctx: ctx, r: r}
	if _, err := io.Copy(h, src); err != nil {
		return PutResult{}, fmt.Errorf("read upload stream: %w", err)
	}
	result := PutResult{Hash: h.Sum(), Size: h.Size()}
	if result.Hash != expected {
		return result, &IntegrityError{Expected: expected, Actual: result.Hash}
	}
	return result, nil
}

// Get streams the blob stored under hash
func (s *ContentStore) Get(ctx context.Context, hash ContentHash) (io.ReadCloser, error) {
	if err := hash.Validate(); err != nil {
		return nil, err
	}
	return s.blobs.Open(ctx, hash)
}

// Exists reports whether a blob is stored under hash
func (s *ContentStore) Exists(ctx context.Context, hash ContentHash) (bool, error) {
	if err := hash.Validate(); err != nil {
		return false, err
	}
	return s.blobs.Exists(ctx, hash)
}

func (s *ContentStore) discard(w StagedWriter) {
	if err := w.Discard(); err != nil {
		s.logger.Error("failed to discard staged upload", "error", err)
	}
}

// trackingReader stops on context cancellation and remembers read errors so
// they can be told apart from backend write errors.
type trackingReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		t.err = err
		return 0, err
	}
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}
