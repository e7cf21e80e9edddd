package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

type contextKey string

const userKey contextKey = "user"

// UserFromContext returns the user attached by Authenticate
func UserFromContext(ctx context.Context) *simpleasset.User {
	user, _ := ctx.Value(userKey).(*simpleasset.User)
	return user
}

// WithUser attaches user to ctx
func WithUser(ctx context.Context, user *simpleasset.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// credential returns the bearer token, or the X-API-Key header when no
// bearer is present. An empty credential is passed on so that providers
// accepting anonymous requests can decide.
func credential(r *http.Request) string {
	if token := jwtauth.TokenFromHeader(r); token != "" {
		return token
	}
	return r.Header.Get("X-API-Key")
}

// Authenticate resolves the request credential through the service and
// rejects the request with 401 when no provider accepts it.
func Authenticate(svc simpleasset.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := svc.Authenticate(r.Context(), credential(r))
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequestLogger logs one line per request with slog
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// Recoverer turns a panic into a 500 response
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.ErrorContext(r.Context(), "panic", "panic", rec, "request_id", middleware.GetReqID(r.Context()))
					writeError(w, r, logger, errPanic)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
