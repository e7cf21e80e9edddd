package simpleasset_test

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tendant/simple-assets/pkg/simpleasset"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleasset/storage/memory"
)

var errInjected = errors.New("injected failure")

// spyBlobs wraps the memory backend to inject failures and count calls
type spyBlobs struct {
	*memorystorage.Backend
	commitErr error
	existsErr error
	staged    atomic.Int32
	discarded atomic.Int32
	committed atomic.Int32
}

func newSpyBlobs() *spyBlobs {
	return &spyBlobs{Backend: memorystorage.New()}
}

func (s *spyBlobs) Stage(ctx context.Context, sizeHint int64) (simpleasset.StagedWriter, error) {
	w, err := s.Backend.Stage(ctx, sizeHint)
	if err != nil {
		return nil, err
	}
	s.staged.Add(1)
	return &spyWriter{StagedWriter: w, spy: s}, nil
}

func (s *spyBlobs) Exists(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.Backend.Exists(ctx, hash)
}

type spyWriter struct {
	simpleasset.StagedWriter
	spy *spyBlobs
}

func (w *spyWriter) Commit(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	if w.spy.commitErr != nil {
		return false, w.spy.commitErr
	}
	w.spy.committed.Add(1)
	return w.StagedWriter.Commit(ctx, hash)
}

func (w *spyWriter) Discard() error {
	w.spy.discarded.Add(1)
	return w.StagedWriter.Discard()
}

// faultyManifests wraps the memory manifest store to fail selected writes
type faultyManifests struct {
	*memorystorage.ManifestStore
	putErr   error
	aliasErr error
	puts     atomic.Int32
}

func newFaultyManifests() *faultyManifests {
	return &faultyManifests{ManifestStore: memorystorage.NewManifestStore()}
}

func (f *faultyManifests) PutManifest(ctx context.Context, m *simpleasset.AssetManifest) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts.Add(1)
	return f.ManifestStore.PutManifest(ctx, m)
}

func (f *faultyManifests) SetAlias(ctx context.Context, alias, version string) error {
	if f.aliasErr != nil {
		return f.aliasErr
	}
	return f.ManifestStore.SetAlias(ctx, alias, version)
}

// failingReader returns data and then err
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
