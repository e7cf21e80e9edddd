package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// ManifestStore keeps manifest documents and aliases as objects in the
// backend's bucket. A single PutObject replaces a document atomically.
type ManifestStore struct {
	backend *Backend
}

func (m *ManifestStore) PutManifest(ctx context.Context, manifest *simpleasset.AssetManifest) error {
	key := m.backend.layout.ManifestKey(manifest.Version)
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", manifest.Version, err)
	}
	return m.put(ctx, key, data, "application/json")
}

func (m *ManifestStore) GetManifest(ctx context.Context, version string) (*simpleasset.AssetManifest, error) {
	key := m.backend.layout.ManifestKey(version)
	data, err := m.get(ctx, key, "manifest", version)
	if err != nil {
		return nil, err
	}
	var manifest simpleasset.AssetManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, simpleasset.NewStorageError(backendName, "decode_manifest", key, err)
	}
	return &manifest, nil
}

func (m *ManifestStore) SetAlias(ctx context.Context, alias, version string) error {
	return m.put(ctx, m.backend.layout.AliasKey(alias), []byte(version), "text/plain")
}

func (m *ManifestStore) GetAlias(ctx context.Context, alias string) (string, error) {
	data, err := m.get(ctx, m.backend.layout.AliasKey(alias), "alias", alias)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *ManifestStore) put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(m.backend.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	m.backend.applySSE(input)
	if _, err := m.backend.client.PutObject(ctx, input); err != nil {
		return simpleasset.NewStorageError(backendName, "put", key, err)
	}
	return nil
}

func (m *ManifestStore) get(ctx context.Context, key, kind, name string) ([]byte, error) {
	result, err := m.backend.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.backend.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, simpleasset.NotFoundError(kind, name)
		}
		return nil, simpleasset.NewStorageError(backendName, "get", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, simpleasset.NewStorageError(backendName, "read", key, err)
	}
	return data, nil
}
