package simpleasset_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
	}{
		{"1.0.0", true},
		{"v2", true},
		{"2024.01.15-hotfix+build.7", true},
		{"", false},
		{"latest", false},
		{".hidden", false},
		{"-flag", false},
		{"1.0/../2", false},
		{"has space", false},
		{strings.Repeat("a", simpleasset.MaxVersionLength), true},
		{strings.Repeat("a", simpleasset.MaxVersionLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := simpleasset.ValidateVersion(tt.version)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, simpleasset.ErrInvalidVersion)
			}
		})
	}
}

func TestValidateEntriesPaths(t *testing.T) {
	hash := simpleasset.HashBytes([]byte("x"))
	tests := []struct {
		path  string
		valid bool
	}{
		{"a.txt", true},
		{"textures/hero/idle.png", true},
		{"", false},
		{"/abs.txt", false},
		{"../escape.txt", false},
		{"a/../../b", false},
		{"a//b", false},
		{"a/./b", false},
		{"trailing/", false},
		{"nul\x00byte", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := simpleasset.ValidateEntries([]simpleasset.Entry{{Path: tt.path, Hash: hash, Size: 1}})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, simpleasset.ErrInvalidManifest)
			}
		})
	}

	err := simpleasset.ValidateEntries([]simpleasset.Entry{{Path: "a", Hash: hash, Size: -1}})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidManifest)
}

func TestHashing(t *testing.T) {
	const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	assert.Equal(t, simpleasset.ContentHash(helloHash), simpleasset.HashBytes([]byte("hello")))

	h, n, err := simpleasset.HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, simpleasset.ContentHash(helloHash), h)
	assert.Equal(t, int64(5), n)

	parsed, err := simpleasset.ParseContentHash("sha256:" + helloHash)
	require.NoError(t, err)
	assert.Equal(t, simpleasset.ContentHash(helloHash), parsed)
	assert.Equal(t, "sha256:"+helloHash, parsed.Digest().String())

	for _, bad := range []string{"", "abc", strings.ToUpper(helloHash), "md5:" + helloHash, helloHash + "00"} {
		_, err := simpleasset.ParseContentHash(bad)
		assert.ErrorIs(t, err, simpleasset.ErrInvalidHash, "input %q", bad)
	}
}

func TestManifestCloneAndLookup(t *testing.T) {
	m := &simpleasset.AssetManifest{
		Version: "1.0.0",
		Entries: []simpleasset.Entry{{Path: "a", Hash: simpleasset.HashBytes([]byte("a")), Size: 1}},
	}
	c := m.Clone()
	c.Entries[0].Path = "changed"
	assert.Equal(t, "a", m.Entries[0].Path)

	_, ok := m.Lookup("a")
	assert.True(t, ok)
	_, ok = m.Lookup("changed")
	assert.False(t, ok)
}

func TestRecentVersions(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	manifests := []*simpleasset.AssetManifest{
		{Version: "1.0.0", PublishedAt: base},
		{Version: "1.2.0", PublishedAt: base.Add(2 * time.Hour)},
		{Version: "1.1.0", PublishedAt: base.Add(time.Hour)},
		{Version: "1.1.1", PublishedAt: base.Add(time.Hour)},
	}

	assert.Equal(t, []string{"1.2.0", "1.1.0", "1.1.1", "1.0.0"}, simpleasset.RecentVersions(manifests, 0))
	assert.Equal(t, []string{"1.2.0", "1.1.0"}, simpleasset.RecentVersions(manifests, 2))
	assert.Equal(t, []string{}, simpleasset.RecentVersions(nil, 5))
}
