package simpleasset_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

type registryFixture struct {
	blobs     *spyBlobs
	manifests *faultyManifests
	content   *simpleasset.ContentStore
	registry  *simpleasset.ManifestRegistry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{blobs: newSpyBlobs(), manifests: newFaultyManifests()}
	f.content = simpleasset.NewContentStore(f.blobs, nil)
	f.registry = simpleasset.NewManifestRegistry(f.manifests, f.content, nil)
	return f
}

func (f *registryFixture) store(t *testing.T, path, data string) simpleasset.Entry {
	t.Helper()
	result, err := f.content.Put(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	return simpleasset.Entry{Path: path, Hash: result.Hash, Size: result.Size}
}

func TestRegistryPublishAndResolve(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	entries := []simpleasset.Entry{f.store(t, "textures/a.png", "A"), f.store(t, "b.txt", "B")}
	manifest, err := f.registry.Publish(ctx, simpleasset.PublishRequest{
		Version:     "1.0.0",
		Entries:     entries,
		SetLatest:   true,
		PublishedBy: "ci",
	})
	require.NoError(t, err)
	assert.Equal(t, "ci", manifest.PublishedBy)
	assert.False(t, manifest.PublishedAt.IsZero())

	byVersion, err := f.registry.Resolve(ctx, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, entries, byVersion.Entries)

	byAlias, err := f.registry.Resolve(ctx, simpleasset.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", byAlias.Version)

	latest, err := f.registry.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", latest)
}

func TestRegistryResolveNotFound(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.Resolve(ctx, "9.9.9")
	assert.ErrorIs(t, err, simpleasset.ErrNotFound)

	_, err = f.registry.Resolve(ctx, simpleasset.LatestVersion)
	assert.ErrorIs(t, err, simpleasset.ErrNotFound)
}

func TestRegistryPublishMissingContent(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	missing := simpleasset.HashBytes([]byte("never uploaded"))
	_, err := f.registry.Publish(ctx, simpleasset.PublishRequest{
		Version: "1.0.0",
		Entries: []simpleasset.Entry{
			f.store(t, "present.txt", "here"),
			{Path: "absent.txt", Hash: missing, Size: 14},
		},
		SetLatest: true,
	})
	require.ErrorIs(t, err, simpleasset.ErrMissingContent)

	var mc *simpleasset.MissingContentError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, "absent.txt", mc.Path)
	assert.Equal(t, missing, mc.Hash)

	assert.Equal(t, int32(0), f.manifests.puts.Load())
	_, err = f.registry.Resolve(ctx, "1.0.0")
	assert.ErrorIs(t, err, simpleasset.ErrNotFound)
	_, err = f.registry.Resolve(ctx, simpleasset.LatestVersion)
	assert.ErrorIs(t, err, simpleasset.ErrNotFound)
}

func TestRegistryRepublishReplaces(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	_, err := f.registry.Publish(ctx, simpleasset.PublishRequest{
		Version: "1.0.0",
		Entries: []simpleasset.Entry{f.store(t, "old.txt", "old"), f.store(t, "shared.txt", "v1")},
	})
	require.NoError(t, err)

	replacement := []simpleasset.Entry{f.store(t, "shared.txt", "v2")}
	_, err = f.registry.Publish(ctx, simpleasset.PublishRequest{Version: "1.0.0", Entries: replacement})
	require.NoError(t, err)

	got, err := f.registry.Resolve(ctx, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, replacement, got.Entries)
	_, found := got.Lookup("old.txt")
	assert.False(t, found)
}

func TestRegistryLatestOnlyMovesWhenRequested(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	entry := f.store(t, "a.txt", "a")

	_, err := f.registry.Publish(ctx, simpleasset.PublishRequest{Version: "1.0.0", Entries: []simpleasset.Entry{entry}, SetLatest: true})
	require.NoError(t, err)
	_, err = f.registry.Publish(ctx, simpleasset.PublishRequest{Version: "2.0.0-beta", Entries: []simpleasset.Entry{entry}})
	require.NoError(t, err)

	latest, err := f.registry.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", latest)
}

func TestRegistryAliasFailure(t *testing.T) {
	f := newRegistryFixture(t)
	f.manifests.aliasErr = simpleasset.NewStorageError("spy", "set_alias", "latest", errInjected)
	ctx := context.Background()

	manifest, err := f.registry.Publish(ctx, simpleasset.PublishRequest{
		Version:   "1.0.0",
		Entries:   []simpleasset.Entry{f.store(t, "a.txt", "a")},
		SetLatest: true,
	})
	require.Error(t, err)
	assert.True(t, simpleasset.IsAliasError(err))
	assert.True(t, simpleasset.IsRetryable(err))
	require.NotNil(t, manifest)

	// The version itself is committed; the alias is untouched
	_, err = f.registry.Resolve(ctx, "1.0.0")
	assert.NoError(t, err)
	_, err = f.registry.Latest(ctx)
	assert.ErrorIs(t, err, simpleasset.ErrNotFound)
}

func TestRegistryManifestWriteFailureLeavesAlias(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	entry := f.store(t, "a.txt", "a")

	_, err := f.registry.Publish(ctx, simpleasset.PublishRequest{Version: "1.0.0", Entries: []simpleasset.Entry{entry}, SetLatest: true})
	require.NoError(t, err)

	f.manifests.putErr = simpleasset.NewStorageError("spy", "put_manifest", "2.0.0", errInjected)
	_, err = f.registry.Publish(ctx, simpleasset.PublishRequest{Version: "2.0.0", Entries: []simpleasset.Entry{entry}, SetLatest: true})
	require.ErrorIs(t, err, simpleasset.ErrBackend)

	latest, err := f.registry.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", latest)
}

func TestRegistryValidation(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	entry := f.store(t, "a.txt", "a")

	tests := []struct {
		name    string
		req     simpleasset.PublishRequest
		wantErr error
	}{
		{name: "empty version", req: simpleasset.PublishRequest{Entries: []simpleasset.Entry{entry}}, wantErr: simpleasset.ErrInvalidVersion},
		{name: "reserved version", req: simpleasset.PublishRequest{Version: "latest"}, wantErr: simpleasset.ErrInvalidVersion},
		{name: "path traversal version", req: simpleasset.PublishRequest{Version: "../1.0"}, wantErr: simpleasset.ErrInvalidVersion},
		{
			name:    "duplicate path",
			req:     simpleasset.PublishRequest{Version: "1.0.0", Entries: []simpleasset.Entry{entry, entry}},
			wantErr: simpleasset.ErrInvalidManifest,
		},
		{
			name:    "bad hash",
			req:     simpleasset.PublishRequest{Version: "1.0.0", Entries: []simpleasset.Entry{{Path: "x", Hash: "abc"}}},
			wantErr: simpleasset.ErrInvalidHash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.Publish(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, int32(0), f.manifests.puts.Load())
}

func TestRegistryConcurrentPublishesOfDifferentVersions(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	entry := f.store(t, "a.txt", "a")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.registry.Publish(ctx, simpleasset.PublishRequest{
				Version:   fmt.Sprintf("1.0.%d", i),
				Entries:   []simpleasset.Entry{entry},
				SetLatest: true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// latest points at one of the committed versions
	m, err := f.registry.Resolve(ctx, simpleasset.LatestVersion)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.Version, "1.0."))
}

func TestRegistryVersions(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	entry := f.store(t, "a.txt", "a")

	for _, v := range []string{"1.0.0", "2.0.0"} {
		_, err := f.registry.Publish(ctx, simpleasset.PublishRequest{Version: v, Entries: []simpleasset.Entry{entry}})
		require.NoError(t, err)
	}
	versions, err := f.registry.Versions(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "2.0.0"}, versions)

	// A store without listing support reports it instead of an empty list
	opaque := simpleasset.NewManifestRegistry(struct{ simpleasset.ManifestStore }{f.manifests}, f.content, nil)
	_, err = opaque.Versions(ctx, 0)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}
