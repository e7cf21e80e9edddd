// Package storagetest provides behaviour checks shared by every BlobStore and
// ManifestStore implementation.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// TestBlobStore runs the BlobStore contract against store. The store should
// be empty or at least not contain the random payloads written here.
func TestBlobStore(t *testing.T, store simpleasset.BlobStore) {
	ctx := context.Background()

	t.Run("CommitMakesBlobVisible", func(t *testing.T) {
		data := []byte("payload " + uuid.NewString())
		hash := simpleasset.HashBytes(data)

		exists, err := store.Exists(ctx, hash)
		require.NoError(t, err)
		assert.False(t, exists)

		created := stage(t, store, hash, data)
		assert.True(t, created)

		exists, err = store.Exists(ctx, hash)
		require.NoError(t, err)
		assert.True(t, exists)

		assert.Equal(t, data, read(t, store, hash))
	})

	t.Run("CommitExistingHash", func(t *testing.T) {
		data := []byte("duplicate " + uuid.NewString())
		hash := simpleasset.HashBytes(data)

		assert.True(t, stage(t, store, hash, data))
		assert.False(t, stage(t, store, hash, data))
		assert.Equal(t, data, read(t, store, hash))
	})

	t.Run("DiscardLeavesNothing", func(t *testing.T) {
		data := []byte("discarded " + uuid.NewString())
		hash := simpleasset.HashBytes(data)

		w, err := store.Stage(ctx, int64(len(data)))
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Discard())

		exists, err := store.Exists(ctx, hash)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("OpenMissing", func(t *testing.T) {
		_, err := store.Open(ctx, simpleasset.HashBytes([]byte("missing "+uuid.NewString())))
		assert.ErrorIs(t, err, simpleasset.ErrNotFound)
	})

	t.Run("ConcurrentCommitsOfSameBytes", func(t *testing.T) {
		data := []byte("concurrent " + uuid.NewString())
		hash := simpleasset.HashBytes(data)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w, err := store.Stage(ctx, int64(len(data)))
				if err != nil {
					errs <- err
					return
				}
				if _, err := w.Write(data); err != nil {
					errs <- err
					return
				}
				if _, err := w.Commit(ctx, hash); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, data, read(t, store, hash))
	})

	t.Run("ReadersNeverSeePartialBlob", func(t *testing.T) {
		data := bytes.Repeat([]byte("0123456789abcdef"), 32*1024)
		copy(data, uuid.NewString())
		hash := simpleasset.HashBytes(data)

		done := make(chan struct{})
		errs := make(chan error, 4)
		var readers sync.WaitGroup
		for i := 0; i < 4; i++ {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for {
					if err := checkBlob(ctx, store, hash, data); err != nil {
						errs <- err
						return
					}
					select {
					case <-done:
						return
					default:
					}
				}
			}()
		}

		w, err := store.Stage(ctx, int64(len(data)))
		require.NoError(t, err)
		for off := 0; off < len(data); off += 4096 {
			_, err := w.Write(data[off : off+4096])
			require.NoError(t, err)
		}
		_, err = w.Commit(ctx, hash)
		require.NoError(t, err)

		// Let the readers observe the committed object too
		require.NoError(t, checkBlob(ctx, store, hash, data))
		close(done)
		readers.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, data, read(t, store, hash))
	})
}

// checkBlob fails if hash is visible with anything but the full payload
func checkBlob(ctx context.Context, store simpleasset.BlobStore, hash simpleasset.ContentHash, data []byte) error {
	exists, err := store.Exists(ctx, hash)
	if err != nil {
		return err
	}
	rc, err := store.Open(ctx, hash)
	if errors.Is(err, simpleasset.ErrNotFound) {
		if exists {
			return fmt.Errorf("blob %s reported present but open found nothing", hash)
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("blob %s read %d bytes, want %d", hash, len(got), len(data))
	}
	return nil
}

// TestManifestStore runs the ManifestStore contract against store
func TestManifestStore(t *testing.T, store simpleasset.ManifestStore) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	t.Run("GetMissingManifest", func(t *testing.T) {
		_, err := store.GetManifest(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, simpleasset.ErrNotFound)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		want := manifest("1.0.0-"+suffix, "a.txt", "b/c.bin")
		require.NoError(t, store.PutManifest(ctx, want))

		got, err := store.GetManifest(ctx, want.Version)
		require.NoError(t, err)
		assertManifest(t, want, got)
	})

	t.Run("PutReplacesEntries", func(t *testing.T) {
		version := "2.0.0-" + suffix
		require.NoError(t, store.PutManifest(ctx, manifest(version, "old.txt", "kept.txt")))
		replacement := manifest(version, "new.txt")
		require.NoError(t, store.PutManifest(ctx, replacement))

		got, err := store.GetManifest(ctx, version)
		require.NoError(t, err)
		assertManifest(t, replacement, got)
		_, found := got.Lookup("old.txt")
		assert.False(t, found)
	})

	t.Run("Aliases", func(t *testing.T) {
		alias := "alias-" + suffix
		_, err := store.GetAlias(ctx, alias)
		assert.ErrorIs(t, err, simpleasset.ErrNotFound)

		require.NoError(t, store.SetAlias(ctx, alias, "1.0.0-"+suffix))
		got, err := store.GetAlias(ctx, alias)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0-"+suffix, got)

		require.NoError(t, store.SetAlias(ctx, alias, "2.0.0-"+suffix))
		got, err = store.GetAlias(ctx, alias)
		require.NoError(t, err)
		assert.Equal(t, "2.0.0-"+suffix, got)
	})

	t.Run("ReadersSeeWholeManifests", func(t *testing.T) {
		version := "3.0.0-" + suffix
		alias := "race-" + suffix
		before := manifest(version, "a.txt", "b.txt", "c/d.bin")
		after := manifest(version, "e.txt")
		require.NoError(t, store.PutManifest(ctx, before))
		require.NoError(t, store.SetAlias(ctx, alias, "1.0.0-"+suffix))

		done := make(chan struct{})
		errs := make(chan error, 4)
		var readers sync.WaitGroup
		for i := 0; i < 4; i++ {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for {
					if err := checkManifest(ctx, store, version, before, after); err != nil {
						errs <- err
						return
					}
					target, err := store.GetAlias(ctx, alias)
					if err != nil {
						errs <- err
						return
					}
					if target != "1.0.0-"+suffix && target != "2.0.0-"+suffix {
						errs <- fmt.Errorf("alias %s points at %q", alias, target)
						return
					}
					select {
					case <-done:
						return
					default:
					}
				}
			}()
		}

		for i := 0; i < 20; i++ {
			next, target := after, "2.0.0-"+suffix
			if i%2 == 1 {
				next, target = before, "1.0.0-"+suffix
			}
			require.NoError(t, store.PutManifest(ctx, next))
			require.NoError(t, store.SetAlias(ctx, alias, target))
		}
		close(done)
		readers.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		got, err := store.GetManifest(ctx, version)
		require.NoError(t, err)
		assertManifest(t, before, got)
	})

	t.Run("ListVersions", func(t *testing.T) {
		lister, ok := store.(simpleasset.VersionLister)
		if !ok {
			t.Skip("store does not list versions")
		}
		base := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
		names := []string{"list-a-" + suffix, "list-b-" + suffix, "list-c-" + suffix}
		for i, name := range names {
			m := manifest(name, "x.txt")
			m.PublishedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.PutManifest(ctx, m))
		}

		versions, err := lister.ListVersions(ctx, 0)
		require.NoError(t, err)
		var ours []string
		for _, v := range versions {
			if strings.HasPrefix(v, "list-") && strings.HasSuffix(v, suffix) {
				ours = append(ours, v)
			}
		}
		assert.Equal(t, []string{names[2], names[1], names[0]}, ours)

		limited, err := lister.ListVersions(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

// checkManifest fails unless version holds exactly one of the two entry sets
func checkManifest(ctx context.Context, store simpleasset.ManifestStore, version string, before, after *simpleasset.AssetManifest) error {
	got, err := store.GetManifest(ctx, version)
	if err != nil {
		return err
	}
	if assert.ObjectsAreEqual(before.Entries, got.Entries) || assert.ObjectsAreEqual(after.Entries, got.Entries) {
		return nil
	}
	return fmt.Errorf("manifest %s has a mixed entry set: %v", version, got.Entries)
}

func stage(t *testing.T, store simpleasset.BlobStore, hash simpleasset.ContentHash, data []byte) bool {
	t.Helper()
	ctx := context.Background()

	w, err := store.Stage(ctx, int64(len(data)))
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	created, err := w.Commit(ctx, hash)
	require.NoError(t, err)
	return created
}

func read(t *testing.T, store simpleasset.BlobStore, hash simpleasset.ContentHash) []byte {
	t.Helper()

	rc, err := store.Open(context.Background(), hash)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func manifest(version string, paths ...string) *simpleasset.AssetManifest {
	m := &simpleasset.AssetManifest{
		Version:     version,
		PublishedAt: time.Now().UTC().Truncate(time.Millisecond),
		PublishedBy: "storagetest",
	}
	for _, p := range paths {
		data := []byte(p)
		m.Entries = append(m.Entries, simpleasset.Entry{
			Path:     p,
			Hash:     simpleasset.HashBytes(data),
			Size:     int64(len(data)),
			MimeType: "text/plain",
		})
	}
	return m
}

func assertManifest(t *testing.T, want, got *simpleasset.AssetManifest) {
	t.Helper()
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.PublishedBy, got.PublishedBy)
	assert.True(t, want.PublishedAt.Equal(got.PublishedAt), "published_at %s != %s", want.PublishedAt, got.PublishedAt)
	assert.Equal(t, want.Entries, got.Entries)
}
