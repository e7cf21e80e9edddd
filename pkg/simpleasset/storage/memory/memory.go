package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// Backend is an in-memory implementation of the simpleasset.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[simpleasset.ContentHash][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[simpleasset.ContentHash][]byte),
	}
}

// Stage buffers one upload until Commit
func (b *Backend) Stage(ctx context.Context, sizeHint int64) (simpleasset.StagedWriter, error) {
	w := &stagedWriter{backend: b}
	if sizeHint > 0 {
		w.buf.Grow(int(sizeHint))
	}
	return w, nil
}

// Open streams the blob stored under hash
func (b *Backend) Open(ctx context.Context, hash simpleasset.ContentHash) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[hash]
	if !exists {
		return nil, simpleasset.NotFoundError("blob", hash.String())
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether a blob is stored under hash
func (b *Backend) Exists(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, exists := b.objects[hash]
	return exists, nil
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

type stagedWriter struct {
	backend *Backend
	buf     bytes.Buffer
	done    bool
}

func (w *stagedWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *stagedWriter) Commit(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	if w.done {
		return false, io.ErrClosedPipe
	}
	w.done = true

	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()

	if _, exists := w.backend.objects[hash]; exists {
		return false, nil
	}
	w.backend.objects[hash] = bytes.Clone(w.buf.Bytes())
	w.buf.Reset()
	return true, nil
}

func (w *stagedWriter) Discard() error {
	w.done = true
	w.buf.Reset()
	return nil
}
