package simpleasset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PublishState is the state of a single publish attempt
type PublishState string

const (
	PublishStateCollecting    PublishState = "collecting"
	PublishStateUploading     PublishState = "uploading"
	PublishStateVerifying     PublishState = "verifying"
	PublishStateCommitting    PublishState = "committing"
	PublishStateAliasUpdating PublishState = "alias_updating"
	PublishStateDone          PublishState = "done"
	PublishStateAborted       PublishState = "aborted"
)

// DefaultPublishConcurrency is the number of files uploaded in parallel
const DefaultPublishConcurrency = 4

// Source yields the bytes of one file. Open may be called more than once.
type Source interface {
	Open() (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func() (io.ReadCloser, error)

// Open implements Source.
func (f SourceFunc) Open() (io.ReadCloser, error) {
	return f()
}

// FileSource reads a local file
func FileSource(path string) Source {
	return SourceFunc(func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

// BytesSource serves an in-memory byte slice
func BytesSource(b []byte) Source {
	return SourceFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	})
}

// File is one logical path in a batch publish
type File struct {
	Path     string
	Source   Source
	MimeType string
}

// PublishBatch contains parameters for publishing a set of local files
type PublishBatch struct {
	Version     string
	Files       []File
	SetLatest   bool
	PublishedBy string
}

// PublishResult describes a completed publish attempt
type PublishResult struct {
	AttemptID string         `json:"attempt_id"`
	Manifest  *AssetManifest `json:"manifest"`
	Uploaded  int            `json:"uploaded"`
	Skipped   int            `json:"skipped"`
	State     PublishState   `json:"state"`
}

// Publisher uploads a batch of files and commits their manifest as one
// logical unit. Blobs stored before a failure are left in place; they are
// content-addressed and reused by a retry.
type Publisher struct {
	content     *ContentStore
	registry    *ManifestRegistry
	concurrency int
	logger      *slog.Logger
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithConcurrency sets how many files are uploaded in parallel
func WithConcurrency(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPublisherLogger sets the logger used for state transitions
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a Publisher over content and registry
func NewPublisher(content *ContentStore, registry *ManifestRegistry, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		content:     content,
		registry:    registry,
		concurrency: DefaultPublishConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish runs one attempt: collecting → uploading → verifying → committing
// → [alias_updating] → done. A failure while uploading or verifying aborts
// the attempt with no manifest written. A failure while committing or
// updating the alias is reported with that state; retry the whole publish.
func (p *Publisher) Publish(ctx context.Context, batch PublishBatch) (*PublishResult, error) {
	attempt := &publishAttempt{
		id:     uuid.NewString(),
		state:  PublishStateCollecting,
		logger: p.logger,
	}
	attempt.logger = p.logger.With("attempt_id", attempt.id, "version", batch.Version)

	if err := p.collect(batch); err != nil {
		return nil, attempt.abort(err)
	}

	attempt.transition(PublishStateUploading)
	entries, uploaded, skipped, err := p.uploadAll(ctx, batch.Files)
	if err != nil {
		return nil, attempt.abort(err)
	}

	attempt.transition(PublishStateVerifying)
	manifest, err := p.registry.prepare(PublishRequest{
		Version:     batch.Version,
		Entries:     entries,
		SetLatest:   batch.SetLatest,
		PublishedBy: batch.PublishedBy,
	})
	if err != nil {
		return nil, attempt.abort(err)
	}
	if err := p.registry.verify(ctx, manifest.Entries); err != nil {
		return nil, attempt.abort(err)
	}

	attempt.transition(PublishStateCommitting)
	if err := p.registry.commit(ctx, manifest); err != nil {
		return nil, attempt.fail(err)
	}

	if batch.SetLatest {
		attempt.transition(PublishStateAliasUpdating)
		if err := p.registry.promote(ctx, manifest.Version); err != nil {
			return nil, attempt.fail(err)
		}
	}

	attempt.transition(PublishStateDone)
	attempt.logger.Info("publish completed", "uploaded", uploaded, "skipped", skipped)
	return &PublishResult{
		AttemptID: attempt.id,
		Manifest:  manifest,
		Uploaded:  uploaded,
		Skipped:   skipped,
		State:     PublishStateDone,
	}, nil
}

func (p *Publisher) collect(batch PublishBatch) error {
	if err := ValidateVersion(batch.Version); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(batch.Files))
	for _, f := range batch.Files {
		if err := validateLogicalPath(f.Path); err != nil {
			return err
		}
		if _, dup := seen[f.Path]; dup {
			return &ValidationError{Field: "path", Value: f.Path, Err: ErrInvalidManifest, Reason: "duplicate path"}
		}
		seen[f.Path] = struct{}{}
		if f.Source == nil {
			return &ValidationError{Field: "source", Value: f.Path, Err: ErrInvalidManifest, Reason: "no source"}
		}
	}
	return nil
}

// uploadAll stores every file, skipping blobs that are already present. The
// first failure cancels the remaining uploads and is the one returned.
func (p *Publisher) uploadAll(ctx context.Context, files []File) ([]Entry, int, int, error) {
	entries := make([]Entry, len(files))
	var uploaded, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, f := range files {
		g.Go(func() error {
			entry, stored, err := p.upload(gctx, f)
			if err != nil {
				return fmt.Errorf("upload %s: %w", f.Path, err)
			}
			entries[i] = entry
			if stored {
				uploaded.Add(1)
			} else {
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}
	return entries, int(uploaded.Load()), int(skipped.Load()), nil
}

// upload hashes the source, then streams it into the store unless the blob
// is already there.
func (p *Publisher) upload(ctx context.Context, f File) (Entry, bool, error) {
	rc, err := f.Source.Open()
	if err != nil {
		return Entry{}, false, err
	}
	hash, size, err := HashReader(&trackingReader{ctx: ctx, r: rc})
	rc.Close()
	if err != nil {
		return Entry{}, false, err
	}

	entry := Entry{Path: f.Path, Hash: hash, Size: size, MimeType: f.MimeType}
	exists, err := p.content.Exists(ctx, hash)
	if err != nil {
		return Entry{}, false, err
	}
	if exists {
		p.logger.Debug("blob already stored, skipping upload", "path", f.Path, "hash", hash)
		return entry, false, nil
	}

	rc, err = f.Source.Open()
	if err != nil {
		return Entry{}, false, err
	}
	defer rc.Close()
	result, err := p.content.Put(ctx, rc, WithExpectedHash(hash), WithSizeHint(size))
	if err != nil {
		return Entry{}, false, err
	}
	return entry, result.Created, nil
}

type publishAttempt struct {
	id     string
	state  PublishState
	logger *slog.Logger
}

func (a *publishAttempt) transition(next PublishState) {
	a.logger.Debug("publish state change", "from", a.state, "to", next)
	a.state = next
}

func (a *publishAttempt) abort(err error) error {
	a.logger.Warn("publish aborted", "during", a.state, "error", err)
	return &PublishError{AttemptID: a.id, During: a.state, State: PublishStateAborted, Err: err}
}

func (a *publishAttempt) fail(err error) error {
	a.logger.Error("publish failed after validation", "during", a.state, "error", err)
	return &PublishError{AttemptID: a.id, During: a.state, State: a.state, Err: err}
}
