// Package simpleasset provides a versioned, content-addressable asset registry
// with pluggable blob storage, manifest storage and authentication backends.
//
// Blobs are immutable and keyed by the SHA-256 of their bytes. A manifest maps
// logical paths (for example "textures/hero.png") to blob hashes for one
// version, and the "latest" alias points at the most recently promoted
// version. Publishing verifies that every referenced blob is present before
// the manifest becomes visible, so a resolved manifest never references a
// missing blob.
//
// Storage Contracts
//
// A BlobStore writes through a staging area: bytes are streamed into a
// StagedWriter while the hash is computed, and only Commit makes them visible
// under the hash-derived key. Discard drops the staged bytes. A ManifestStore
// replaces one version's document atomically and swaps aliases atomically.
// Implementations live under storage/ (memory, fs, s3) and repo/ (bolt,
// postgres, redis).
//
// Scopes
//
// Users carry scopes drawn from read, write and admin. admin implies write and
// write implies read. Tokens minted through the API are always read-only.
package simpleasset
