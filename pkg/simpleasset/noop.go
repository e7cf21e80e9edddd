package simpleasset

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// BlobStored does nothing and returns nil
func (n *NoopEventSink) BlobStored(ctx context.Context, result PutResult) error {
	return nil
}

// ManifestPublished does nothing and returns nil
func (n *NoopEventSink) ManifestPublished(ctx context.Context, manifest *AssetManifest, setLatest bool) error {
	return nil
}

// LogEventSink writes every event to a structured logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink backed by logger
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

func (l *LogEventSink) BlobStored(ctx context.Context, result PutResult) error {
	l.logger.InfoContext(ctx, "blob stored", "hash", result.Hash, "size", result.Size)
	return nil
}

func (l *LogEventSink) ManifestPublished(ctx context.Context, manifest *AssetManifest, setLatest bool) error {
	l.logger.InfoContext(ctx, "manifest published",
		"version", manifest.Version,
		"entries", len(manifest.Entries),
		"published_by", manifest.PublishedBy,
		"latest", setLatest,
	)
	return nil
}
