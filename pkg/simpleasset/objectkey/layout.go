package objectkey

import (
	"fmt"
	"strings"
)

// Layout maps content hashes, versions and aliases to storage keys.
// Keys are slash separated and a pure function of their input.
type Layout interface {
	// BlobKey returns the key of the object stored under hash
	BlobKey(hash string) string
	// ManifestKey returns the key of the manifest document for version
	ManifestKey(version string) string
	// AliasKey returns the key holding the target version of alias
	AliasKey(alias string) string
	// StagingKey returns a private key for an in-flight upload
	StagingKey(id string) string
}

// ShardedLayout provides Git-style sharded blob keys
// Blob:     {prefix/}blobs/ab/ab12cd...
// Manifest: {prefix/}manifests/{version}.json
// Alias:    {prefix/}aliases/{alias}
// Staging:  {prefix/}staging/{id}
type ShardedLayout struct {
	// Prefix is prepended to every key when set
	Prefix string
	// ShardLength controls how many hash characters name the shard directory (default: 2)
	ShardLength int
}

func NewShardedLayout() *ShardedLayout {
	return &ShardedLayout{
		ShardLength: 2,
	}
}

func (l *ShardedLayout) BlobKey(hash string) string {
	n := l.ShardLength
	if n <= 0 {
		n = 2
	}
	if len(hash) <= n {
		return l.join("blobs", hash)
	}
	return l.join("blobs", hash[:n], hash)
}

func (l *ShardedLayout) ManifestKey(version string) string {
	return l.join("manifests", version+".json")
}

func (l *ShardedLayout) AliasKey(alias string) string {
	return l.join("aliases", alias)
}

func (l *ShardedLayout) StagingKey(id string) string {
	return l.join("staging", id)
}

func (l *ShardedLayout) join(parts ...string) string {
	return joinKey(l.Prefix, parts...)
}

// FlatLayout keeps every blob directly under blobs/. Useful for small
// stores or when browsing a bucket by hand.
type FlatLayout struct {
	Prefix string
}

func NewFlatLayout() *FlatLayout {
	return &FlatLayout{}
}

func (l *FlatLayout) BlobKey(hash string) string {
	return joinKey(l.Prefix, "blobs", hash)
}

func (l *FlatLayout) ManifestKey(version string) string {
	return joinKey(l.Prefix, "manifests", version+".json")
}

func (l *FlatLayout) AliasKey(alias string) string {
	return joinKey(l.Prefix, "aliases", alias)
}

func (l *FlatLayout) StagingKey(id string) string {
	return joinKey(l.Prefix, "staging", id)
}

func joinKey(prefix string, parts ...string) string {
	key := strings.Join(parts, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", prefix, key)
}

// NewRecommendedLayout returns the recommended layout for new installations
func NewRecommendedLayout() Layout {
	return NewShardedLayout()
}

// NewWithPrefix returns the recommended layout rooted under prefix
func NewWithPrefix(prefix string) Layout {
	return &ShardedLayout{Prefix: prefix, ShardLength: 2}
}

// Layout names accepted by Parse
const (
	LayoutSharded = "sharded"
	LayoutFlat    = "flat"
)

// Parse returns the named layout rooted under prefix. An empty name selects
// the sharded layout.
func Parse(name, prefix string) (Layout, error) {
	switch name {
	case "", LayoutSharded:
		return NewWithPrefix(prefix), nil
	case LayoutFlat:
		return &FlatLayout{Prefix: prefix}, nil
	}
	return nil, fmt.Errorf("unknown key layout %q (use %q or %q)", name, LayoutSharded, LayoutFlat)
}
