package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleasset"
	"github.com/tendant/simple-assets/pkg/simpleasset/api"
	"github.com/tendant/simple-assets/pkg/simpleasset/auth"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleasset/storage/memory"
)

const (
	writerKey = "writer-key"
	readerKey = "reader-key"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := auth.NewTokenService(auth.WithSecret("api-test-secret"), auth.WithLogger(logger))
	keys := auth.NewAPIKeys(map[string]*simpleasset.User{
		auth.HashAPIKey(writerKey): {ID: "ci", Scopes: []simpleasset.Scope{simpleasset.ScopeWrite}},
		auth.HashAPIKey(readerKey): {ID: "viewer", Scopes: []simpleasset.Scope{simpleasset.ScopeRead}},
	})

	svc, err := simpleasset.New(
		simpleasset.WithBlobStore(memorystorage.New()),
		simpleasset.WithManifestStore(memorystorage.NewManifestStore()),
		simpleasset.WithTokenService(tokens),
		simpleasset.WithAuthenticator(auth.Chain(auth.NewTokenAuthenticator(tokens), keys)),
		simpleasset.WithLogger(logger),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewHandler(svc, logger).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, credential string, body io.Reader, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func upload(t *testing.T, srv *httptest.Server, data string) api.AssetResponse {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/assets", writerKey, strings.NewReader(data))
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, resp.StatusCode)
	return decode[api.AssetResponse](t, resp)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingCredential(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/manifest/latest", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "unauthorized", body.Error.Code)
}

func TestAPIKeyInHeader(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/manifest/latest", "", nil, "X-API-Key", readerKey)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadAsset(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/assets", writerKey, strings.NewReader("hello"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[api.AssetResponse](t, resp)
	assert.Equal(t, simpleasset.HashBytes([]byte("hello")), first.Hash)
	assert.Equal(t, int64(5), first.Size)
	assert.True(t, first.Created)

	resp = do(t, http.MethodPost, srv.URL+"/assets", writerKey, strings.NewReader("hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[api.AssetResponse](t, resp).Created)

	resp = do(t, http.MethodPost, srv.URL+"/assets", readerKey, strings.NewReader("nope"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadAssetExpectedHashHeader(t *testing.T) {
	srv := newTestServer(t)
	wrong := simpleasset.HashBytes([]byte("other"))

	resp := do(t, http.MethodPost, srv.URL+"/assets", writerKey, strings.NewReader("hello"),
		api.ExpectedHashHeader, "sha256:"+wrong.String())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/assets", writerKey, strings.NewReader("hello"),
		api.ExpectedHashHeader, "zz")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamAsset(t *testing.T) {
	srv := newTestServer(t)
	hash := simpleasset.HashBytes([]byte("streamed"))

	resp := do(t, http.MethodPut, srv.URL+"/assets/stream/"+hash.String(), writerKey, strings.NewReader("streamed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/assets/stream/"+hash.String(), writerKey, strings.NewReader("tampered"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "integrity_mismatch", decode[api.ErrorResponse](t, resp).Error.Code)

	resp = do(t, http.MethodPut, srv.URL+"/assets/stream/not-a-hash", writerKey, strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadAsset(t *testing.T) {
	srv := newTestServer(t)
	stored := upload(t, srv, "payload")
	url := srv.URL + "/assets/" + stored.Hash.String()

	resp := do(t, http.MethodGet, url, readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	etag := resp.Header.Get("ETag")
	assert.Equal(t, strconv.Quote(stored.Hash.String()), etag)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "immutable")

	resp = do(t, http.MethodGet, url, readerKey, nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	missing := simpleasset.HashBytes([]byte("missing"))
	resp = do(t, http.MethodGet, srv.URL+"/assets/"+missing.String(), readerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssetExists(t *testing.T) {
	srv := newTestServer(t)
	stored := upload(t, srv, "present")

	resp := do(t, http.MethodHead, srv.URL+"/assets/"+stored.Hash.String(), readerKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing := simpleasset.HashBytes([]byte("absent"))
	resp = do(t, http.MethodHead, srv.URL+"/assets/"+missing.String(), readerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodHead, srv.URL+"/assets/bogus", readerKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func publishBody(t *testing.T, version string, entries ...simpleasset.Entry) io.Reader {
	t.Helper()
	b, err := json.Marshal(api.PublishManifestRequest{Version: version, Entries: entries})
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestPublishAndResolveManifest(t *testing.T) {
	srv := newTestServer(t)
	stored := upload(t, srv, "level-1")
	entry := simpleasset.Entry{Path: "levels/1.json", Hash: stored.Hash, Size: stored.Size}

	resp := do(t, http.MethodPost, srv.URL+"/manifest", writerKey, publishBody(t, "1.0.0", entry))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	published := decode[simpleasset.AssetManifest](t, resp)
	assert.Equal(t, "ci", published.PublishedBy)

	resp = do(t, http.MethodGet, srv.URL+"/manifest/latest", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decode[simpleasset.AssetManifest](t, resp)
	assert.Equal(t, "1.0.0", latest.Version)
	assert.Equal(t, []simpleasset.Entry{entry}, latest.Entries)

	// A preview build does not move latest
	resp = do(t, http.MethodPost, srv.URL+"/manifest?latest=false", writerKey, publishBody(t, "1.1.0-rc1", entry))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/manifest/latest", readerKey, nil)
	assert.Equal(t, "1.0.0", decode[simpleasset.AssetManifest](t, resp).Version)

	resp = do(t, http.MethodGet, srv.URL+"/manifest/1.1.0-rc1", readerKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/manifest/9.9.9", readerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListVersions(t *testing.T) {
	srv := newTestServer(t)
	stored := upload(t, srv, "asset")
	entry := simpleasset.Entry{Path: "a.bin", Hash: stored.Hash, Size: stored.Size}

	resp := do(t, http.MethodGet, srv.URL+"/manifests", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[api.VersionsResponse](t, resp).Versions)

	for _, v := range []string{"1.0.0", "1.1.0"} {
		resp = do(t, http.MethodPost, srv.URL+"/manifest", writerKey, publishBody(t, v, entry))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/manifests", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0"}, decode[api.VersionsResponse](t, resp).Versions)

	resp = do(t, http.MethodGet, srv.URL+"/manifests?limit=1", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[api.VersionsResponse](t, resp).Versions, 1)

	resp = do(t, http.MethodGet, srv.URL+"/manifests?limit=-1", readerKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/manifests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishManifestErrors(t *testing.T) {
	srv := newTestServer(t)
	stored := upload(t, srv, "real")
	missing := simpleasset.Entry{Path: "ghost.bin", Hash: simpleasset.HashBytes([]byte("ghost")), Size: 5}
	present := simpleasset.Entry{Path: "real.bin", Hash: stored.Hash, Size: stored.Size}

	tests := []struct {
		name   string
		url    string
		key    string
		body   io.Reader
		status int
	}{
		{"missing content", "/manifest", writerKey, publishBody(t, "1.0.0", present, missing), http.StatusUnprocessableEntity},
		{"reserved version", "/manifest", writerKey, publishBody(t, "latest", present), http.StatusBadRequest},
		{"bad latest flag", "/manifest?latest=perhaps", writerKey, publishBody(t, "1.0.0", present), http.StatusBadRequest},
		{"malformed body", "/manifest", writerKey, strings.NewReader("{"), http.StatusBadRequest},
		{"unknown field", "/manifest", writerKey, strings.NewReader(`{"version":"1","bogus":true}`), http.StatusBadRequest},
		{"reader cannot publish", "/manifest", readerKey, publishBody(t, "1.0.0", present), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+tt.url, tt.key, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	// Nothing was committed by the failed attempts
	resp := do(t, http.MethodGet, srv.URL+"/manifest/1.0.0", readerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMintToken(t *testing.T) {
	srv := newTestServer(t)
	stored := upload(t, srv, "sprite")

	body := strings.NewReader(`{"subject":"player-7","duration":"1h"}`)
	resp := do(t, http.MethodPost, srv.URL+"/auth/token", writerKey, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token := decode[simpleasset.Token](t, resp)
	assert.Equal(t, "player-7", token.Subject)
	assert.Equal(t, []simpleasset.Scope{simpleasset.ScopeRead}, token.Scopes)

	// The minted token reads but cannot write
	resp = do(t, http.MethodGet, srv.URL+"/assets/"+stored.Hash.String(), token.Value, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPost, srv.URL+"/assets", token.Value, strings.NewReader("x"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Tokens cannot mint tokens
	resp = do(t, http.MethodPost, srv.URL+"/auth/token", token.Value, strings.NewReader(`{"subject":"other"}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMintTokenErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/auth/token", writerKey, strings.NewReader(`{"subject":"p","scopes":["write"]}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/auth/token", writerKey, strings.NewReader(`{"subject":"p","duration":"forever"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/auth/token", readerKey, strings.NewReader(`{"subject":"p"}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/manifest/latest", "forged.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
