package simpleasset

import (
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ContentHash is the lowercase hex SHA-256 of a blob's bytes.
type ContentHash string

// String returns the hex form of the hash.
func (h ContentHash) String() string {
	return string(h)
}

// Digest returns the algorithm-prefixed form ("sha256:<hex>").
func (h ContentHash) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, string(h))
}

// Validate reports ErrInvalidHash unless h is a well-formed SHA-256 hex string.
func (h ContentHash) Validate() error {
	if h == "" {
		return &ValidationError{Field: "hash", Err: ErrInvalidHash, Reason: "empty hash"}
	}
	if err := h.Digest().Validate(); err != nil {
		return &ValidationError{Field: "hash", Value: string(h), Err: ErrInvalidHash, Reason: err.Error()}
	}
	return nil
}

// ParseContentHash accepts either the bare hex form or the "sha256:" prefixed
// digest form and returns the canonical hash.
func ParseContentHash(s string) (ContentHash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), string(digest.SHA256)+":")
	h := ContentHash(s)
	if err := h.Validate(); err != nil {
		return "", err
	}
	return h, nil
}

// HashBytes returns the content hash of b.
func HashBytes(b []byte) ContentHash {
	return ContentHash(digest.SHA256.FromBytes(b).Encoded())
}

// HashReader consumes r and returns its content hash and length.
func HashReader(r io.Reader) (ContentHash, int64, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", h.Size(), err
	}
	return h.Sum(), h.Size(), nil
}

// Hasher computes a content hash incrementally.
type Hasher struct {
	digester digest.Digester
	size     int64
}

// NewHasher returns an empty SHA-256 hasher.
func NewHasher() *Hasher {
	return &Hasher{digester: digest.SHA256.Digester()}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.digester.Hash().Write(p)
	h.size += int64(n)
	return n, err
}

// Sum returns the hash of everything written so far.
func (h *Hasher) Sum() ContentHash {
	return ContentHash(h.digester.Digest().Encoded())
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 {
	return h.size
}
