package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// service implements the Service interface
type service struct {
	blobs         BlobStore
	manifests     ManifestStore
	authenticator Authenticator
	tokens        TokenIssuer
	eventSink     EventSink
	logger        *slog.Logger
	concurrency   int

	content   *ContentStore
	registry  *ManifestRegistry
	publisher *Publisher
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithBlobStore sets the content-addressed blob backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobs = store
	}
}

// WithManifestStore sets the manifest and alias backend
func WithManifestStore(store ManifestStore) Option {
	return func(s *service) {
		s.manifests = store
	}
}

// WithAuthenticator sets the provider used by Authenticate
func WithAuthenticator(a Authenticator) Option {
	return func(s *service) {
		s.authenticator = a
	}
}

// WithTokenService sets the issuer used by MintToken
func WithTokenService(t TokenIssuer) Option {
	return func(s *service) {
		s.tokens = t
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithPublishConcurrency bounds parallel uploads in PublishBatch
func WithPublishConcurrency(n int) Option {
	return func(s *service) {
		s.concurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		eventSink:   NewNoopEventSink(),
		concurrency: DefaultPublishConcurrency,
	}

	for _, option := range options {
		option(s)
	}

	if s.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.manifests == nil {
		return nil, fmt.Errorf("manifest store is required")
	}
	if s.authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}

	s.content = NewContentStore(s.blobs, s.logger)
	s.registry = NewManifestRegistry(s.manifests, s.content, s.logger)
	s.publisher = NewPublisher(s.content, s.registry,
		WithConcurrency(s.concurrency),
		WithPublisherLogger(s.logger),
	)
	return s, nil
}

// Blob operations

func (s *service) UploadBlob(ctx context.Context, caller *User, r io.Reader, opts ...PutOption) (PutResult, error) {
	if err := Authorize(caller, ScopeWrite); err != nil {
		return PutResult{}, err
	}
	result, err := s.content.Put(ctx, r, opts...)
	if err != nil {
		return result, err
	}
	if result.Created {
		s.notify(ctx, "blob_stored", s.eventSink.BlobStored(ctx, result))
	}
	return result, nil
}

func (s *service) DownloadBlob(ctx context.Context, caller *User, hash ContentHash) (io.ReadCloser, error) {
	if err := Authorize(caller, ScopeRead); err != nil {
		return nil, err
	}
	return s.content.Get(ctx, hash)
}

func (s *service) BlobExists(ctx context.Context, caller *User, hash ContentHash) (bool, error) {
	if err := Authorize(caller, ScopeRead); err != nil {
		return false, err
	}
	return s.content.Exists(ctx, hash)
}

// Manifest operations

func (s *service) PublishManifest(ctx context.Context, caller *User, req PublishRequest) (*AssetManifest, error) {
	if err := Authorize(caller, ScopeWrite); err != nil {
		return nil, err
	}
	if req.PublishedBy == "" {
		req.PublishedBy = caller.ID
	}
	manifest, err := s.registry.Publish(ctx, req)
	if err != nil && !IsAliasError(err) {
		return nil, err
	}
	s.notify(ctx, "manifest_published", s.eventSink.ManifestPublished(ctx, manifest, req.SetLatest && err == nil))
	return manifest, err
}

func (s *service) PublishBatch(ctx context.Context, caller *User, batch PublishBatch) (*PublishResult, error) {
	if err := Authorize(caller, ScopeWrite); err != nil {
		return nil, err
	}
	if batch.PublishedBy == "" {
		batch.PublishedBy = caller.ID
	}
	result, err := s.publisher.Publish(ctx, batch)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "manifest_published", s.eventSink.ManifestPublished(ctx, result.Manifest, batch.SetLatest))
	return result, nil
}

func (s *service) ResolveManifest(ctx context.Context, caller *User, version string) (*AssetManifest, error) {
	if err := Authorize(caller, ScopeRead); err != nil {
		return nil, err
	}
	return s.registry.Resolve(ctx, version)
}

func (s *service) ListVersions(ctx context.Context, caller *User, limit int) ([]string, error) {
	if err := Authorize(caller, ScopeRead); err != nil {
		return nil, err
	}
	return s.registry.Versions(ctx, limit)
}

// Identity operations

func (s *service) MintToken(ctx context.Context, caller *User, req MintRequest) (*Token, error) {
	if err := Authorize(caller, ScopeWrite); err != nil {
		return nil, err
	}
	if s.tokens == nil {
		return nil, errors.New("token service is not configured")
	}
	return s.tokens.Mint(ctx, caller, req)
}

func (s *service) Authenticate(ctx context.Context, credential string) (*User, error) {
	user, err := s.authenticator.Authenticate(ctx, credential)
	if err != nil {
		if !errors.Is(err, ErrUnauthorized) {
			err = fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, err
	}
	return user, nil
}

// notify logs event sink failures; they never fail the operation.
func (s *service) notify(ctx context.Context, event string, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", event, "error", err)
	}
}
