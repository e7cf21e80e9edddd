package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// ExpectedHashHeader optionally carries the hash a POST /assets body must match
const ExpectedHashHeader = "X-Content-SHA256"

// Handler exposes a simpleasset.Service over HTTP
type Handler struct {
	service simpleasset.Service
	logger  *slog.Logger
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(service simpleasset.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes returns the router for all asset endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger))
	r.Use(Recoverer(h.logger))

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.service, h.logger))

		r.Post("/auth/token", h.MintToken)

		r.Post("/assets", h.UploadAsset)
		r.Put("/assets/stream/{hash}", h.StreamAsset)
		r.Get("/assets/{hash}", h.DownloadAsset)
		r.Head("/assets/{hash}", h.AssetExists)

		r.Get("/manifests", h.ListVersions)
		r.Get("/manifest/{version}", h.GetManifest)
		r.Post("/manifest", h.PublishManifest)
	})
	return r
}

// AssetResponse describes a stored blob
type AssetResponse struct {
	Hash    simpleasset.ContentHash `json:"hash"`
	Size    int64                   `json:"size"`
	Created bool                    `json:"created"`
}

// MintTokenRequest is the body of POST /auth/token. Duration uses Go
// duration syntax ("720h"); empty means the service default.
type MintTokenRequest struct {
	Subject  string              `json:"subject"`
	Duration string              `json:"duration,omitempty"`
	Scopes   []simpleasset.Scope `json:"scopes,omitempty"`
}

// VersionsResponse is the body of GET /manifests
type VersionsResponse struct {
	Versions []string `json:"versions"`
}

// PublishManifestRequest is the body of POST /manifest
type PublishManifestRequest struct {
	Version string              `json:"version"`
	Entries []simpleasset.Entry `json:"entries"`
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

// MintToken issues a read token for another principal
func (h *Handler) MintToken(w http.ResponseWriter, r *http.Request) {
	var req MintTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			writeError(w, r, h.logger, fmt.Errorf("%w: duration: %v", errBadRequest, err))
			return
		}
		duration = d
	}

	token, err := h.service.MintToken(r.Context(), UserFromContext(r.Context()), simpleasset.MintRequest{
		Subject:  req.Subject,
		Duration: duration,
		Scopes:   req.Scopes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, token)
}

// UploadAsset stores the request body. An optional X-Content-SHA256 header
// makes the upload fail unless the bytes match.
func (h *Handler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	var opts []simpleasset.PutOption
	if raw := r.Header.Get(ExpectedHashHeader); raw != "" {
		expected, err := simpleasset.ParseContentHash(raw)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		opts = append(opts, simpleasset.WithExpectedHash(expected))
	}
	h.store(w, r, opts)
}

// StreamAsset stores the request body under the hash named in the path
func (h *Handler) StreamAsset(w http.ResponseWriter, r *http.Request) {
	expected, err := simpleasset.ParseContentHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.store(w, r, []simpleasset.PutOption{simpleasset.WithExpectedHash(expected)})
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request, opts []simpleasset.PutOption) {
	if r.ContentLength > 0 {
		opts = append(opts, simpleasset.WithSizeHint(r.ContentLength))
	}
	result, err := h.service.UploadBlob(r.Context(), UserFromContext(r.Context()), r.Body, opts...)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	render.Status(r, status)
	render.JSON(w, r, AssetResponse{Hash: result.Hash, Size: result.Size, Created: result.Created})
}

// DownloadAsset streams a blob. Blobs never change, so they are served with
// an immutable cache policy and the hash as ETag.
func (h *Handler) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	hash, err := simpleasset.ParseContentHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	etag := strconv.Quote(hash.String())

	if r.Header.Get("If-None-Match") == etag {
		exists, err := h.service.BlobExists(r.Context(), UserFromContext(r.Context()), hash)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if exists {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	rc, err := h.service.DownloadBlob(r.Context(), UserFromContext(r.Context()), hash)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; the client sees a truncated body
		h.logger.WarnContext(r.Context(), "download interrupted", "hash", hash, "error", err)
	}
}

// AssetExists answers HEAD /assets/{hash}
func (h *Handler) AssetExists(w http.ResponseWriter, r *http.Request) {
	hash, err := simpleasset.ParseContentHash(chi.URLParam(r, "hash"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	exists, err := h.service.BlobExists(r.Context(), UserFromContext(r.Context()), hash)
	if err != nil {
		status, _ := statusFor(err)
		w.WriteHeader(status)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("ETag", strconv.Quote(hash.String()))
	w.WriteHeader(http.StatusOK)
}

// GetManifest resolves a version or "latest"
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.service.ResolveManifest(r.Context(), UserFromContext(r.Context()), chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, manifest)
}

// ListVersions lists published versions, newest first. ?limit=N caps the list.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, h.logger, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}
	versions, err := h.service.ListVersions(r.Context(), UserFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, VersionsResponse{Versions: versions})
}

// PublishManifest commits a manifest whose blobs are already uploaded.
// The latest alias moves unless ?latest=false.
func (h *Handler) PublishManifest(w http.ResponseWriter, r *http.Request) {
	setLatest := true
	if raw := r.URL.Query().Get("latest"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, h.logger, fmt.Errorf("%w: latest: %v", errBadRequest, err))
			return
		}
		setLatest = v
	}

	var req PublishManifestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	manifest, err := h.service.PublishManifest(r.Context(), UserFromContext(r.Context()), simpleasset.PublishRequest{
		Version:   req.Version,
		Entries:   req.Entries,
		SetLatest: setLatest,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, manifest)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}
