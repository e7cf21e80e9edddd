package simpleasset

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

// LatestVersion is the symbolic version resolved through the latest alias.
const LatestVersion = "latest"

// MaxVersionLength bounds the length of a version string.
const MaxVersionLength = 128

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// Entry maps one logical path to the blob holding its bytes.
type Entry struct {
	Path     string      `json:"path"`
	Hash     ContentHash `json:"hash"`
	Size     int64       `json:"size"`
	MimeType string      `json:"mime_type,omitempty"`
}

// AssetManifest is the source of truth for one published version.
type AssetManifest struct {
	Version     string    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
	PublishedBy string    `json:"published_by"`
	Entries     []Entry   `json:"entries"`
}

// Lookup returns the entry for a logical path.
func (m *AssetManifest) Lookup(logicalPath string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Path == logicalPath {
			return e, true
		}
	}
	return Entry{}, false
}

// Clone returns a deep copy of the manifest.
func (m *AssetManifest) Clone() *AssetManifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Entries = append([]Entry(nil), m.Entries...)
	return &c
}

// RecentVersions orders manifests by publish time, newest first, and returns
// at most limit versions. A limit of zero or less returns all of them.
func RecentVersions(manifests []*AssetManifest, limit int) []string {
	sort.SliceStable(manifests, func(i, j int) bool {
		a, b := manifests[i], manifests[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.Version < b.Version
	})
	if limit > 0 && len(manifests) > limit {
		manifests = manifests[:limit]
	}
	versions := make([]string, len(manifests))
	for i, m := range manifests {
		versions[i] = m.Version
	}
	return versions
}

// PublishRequest contains parameters for publishing a manifest
type PublishRequest struct {
	Version     string
	Entries     []Entry
	SetLatest   bool
	PublishedBy string
}

// PutResult describes the outcome of storing a blob.
type PutResult struct {
	Hash    ContentHash
	Size    int64
	Created bool // false when the object was already present
}

// ValidateVersion checks that a concrete version string is usable as a
// storage key. The reserved word "latest" is rejected.
func ValidateVersion(version string) error {
	if version == "" {
		return &ValidationError{Field: "version", Err: ErrInvalidVersion, Reason: "empty version"}
	}
	if version == LatestVersion {
		return &ValidationError{Field: "version", Value: version, Err: ErrInvalidVersion, Reason: "reserved alias name"}
	}
	if len(version) > MaxVersionLength {
		return &ValidationError{Field: "version", Value: version, Err: ErrInvalidVersion, Reason: "too long"}
	}
	if !versionPattern.MatchString(version) {
		return &ValidationError{Field: "version", Value: version, Err: ErrInvalidVersion, Reason: "unsupported characters"}
	}
	return nil
}

// ValidateEntries checks logical paths and hashes of a manifest entry set.
// Paths must be unique within one manifest.
func ValidateEntries(entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if err := validateLogicalPath(e.Path); err != nil {
			return err
		}
		if _, dup := seen[e.Path]; dup {
			return &ValidationError{Field: "path", Value: e.Path, Err: ErrInvalidManifest, Reason: "duplicate path"}
		}
		seen[e.Path] = struct{}{}
		if err := e.Hash.Validate(); err != nil {
			return err
		}
		if e.Size < 0 {
			return &ValidationError{Field: "size", Value: e.Path, Err: ErrInvalidManifest, Reason: "negative size"}
		}
	}
	return nil
}

func validateLogicalPath(p string) error {
	switch {
	case p == "":
		return &ValidationError{Field: "path", Value: p, Err: ErrInvalidManifest, Reason: "empty path"}
	case strings.HasPrefix(p, "/"):
		return &ValidationError{Field: "path", Value: p, Err: ErrInvalidManifest, Reason: "absolute path"}
	case strings.ContainsRune(p, 0):
		return &ValidationError{Field: "path", Value: p, Err: ErrInvalidManifest, Reason: "NUL byte"}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return &ValidationError{Field: "path", Value: p, Err: ErrInvalidManifest, Reason: "parent segment"}
		}
	}
	if path.Clean(p) != p {
		return &ValidationError{Field: "path", Value: p, Err: ErrInvalidManifest, Reason: "path is not clean"}
	}
	return nil
}
